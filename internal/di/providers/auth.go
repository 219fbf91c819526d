package providers

import (
	"github.com/samber/do/v2"

	"github.com/grimoireapp/grimoire-server/internal/auth"
	"github.com/grimoireapp/grimoire-server/internal/config"
	"github.com/grimoireapp/grimoire-server/internal/logger"
)

// AuthKey wraps the symmetric token key derived from TOKEN_SECRET.
type AuthKey []byte

// ProvideAuthKey derives the token key. Outside production a missing secret
// is replaced by a random one, which invalidates tokens on every restart.
func ProvideAuthKey(i do.Injector) (AuthKey, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	secret, err := resolveSecret(cfg.Auth.Secret, log)
	if err != nil {
		return nil, err
	}

	key, err := auth.DeriveKey(secret)
	if err != nil {
		return nil, err
	}

	log.Info("Authentication key loaded", "token_ttl", cfg.Auth.TokenTTL)

	return AuthKey(key), nil
}

// resolveSecret returns the configured secret, or a random one when unset.
// Short secrets are accepted with a warning.
func resolveSecret(secret string, log *logger.Logger) (string, error) {
	switch {
	case secret == "":
		generated, err := auth.GenerateSecret()
		if err != nil {
			return "", err
		}
		log.Warn("TOKEN_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
		return generated, nil
	case len(secret) < auth.MinSecretLength:
		log.Warn("TOKEN_SECRET is shorter than 32 characters",
			"length", len(secret),
			"recommended", auth.MinSecretLength,
		)
	}
	return secret, nil
}

// ProvideTokenService provides the PASETO token service.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	authKey := do.MustInvoke[AuthKey](i)

	return auth.NewTokenService([]byte(authKey), cfg.Auth.TokenTTL)
}

// ProvideGate provides the request authentication gate.
func ProvideGate(i do.Injector) (*auth.Gate, error) {
	tokens := do.MustInvoke[*auth.TokenService](i)
	return auth.NewGate(tokens), nil
}

// ProvidePasswordHasher provides the argon2id hasher.
func ProvidePasswordHasher(i do.Injector) (*auth.PasswordHasher, error) {
	return auth.NewPasswordHasher(auth.DefaultPasswordParams()), nil
}
