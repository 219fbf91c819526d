package auth

import (
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"

	"github.com/grimoireapp/grimoire-server/internal/errors"
)

const (
	tokenIssuer   = "grimoire-server"
	tokenAudience = "grimoire-client"

	claimEmail = "email"
)

// Identity is the verified caller of a request. It lives only as long as the request.
type Identity struct {
	Subject string // user id
	Email   string
}

// TokenService issues and verifies PASETO v4.local identity tokens.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	symmetricKey paseto.V4SymmetricKey
	ttl          time.Duration
	now          func() time.Time
}

// Option configures a TokenService.
type Option func(*TokenService)

// WithClock overrides the time source used for issuing and verifying tokens.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a token service from a 32-byte key (see DeriveKey).
// ttl is the lifetime used by IssueToken.
func NewTokenService(key []byte, ttl time.Duration, opts ...Option) (*TokenService, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("PASETO v4 key must be exactly %d bytes, got %d", keyLength, len(key))
	}

	symmetricKey, err := paseto.V4SymmetricKeyFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create PASETO symmetric key: %w", err)
	}

	s := &TokenService{
		symmetricKey: symmetricKey,
		ttl:          ttl,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// IssueToken issues a token for identity with the configured lifetime.
func (s *TokenService) IssueToken(identity Identity) (string, error) {
	return s.Issue(identity, s.ttl)
}

// Issue creates an encrypted token carrying identity, valid from now until now+ttl.
func (s *TokenService) Issue(identity Identity, ttl time.Duration) (string, error) {
	if identity.Subject == "" {
		return "", errors.Validation("token subject cannot be empty")
	}

	now := s.now()

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetAudience(tokenAudience)
	token.SetSubject(identity.Subject)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(now.Add(ttl))
	token.SetJti(uuid.NewString())

	if err := token.Set(claimEmail, identity.Email); err != nil {
		return "", fmt.Errorf("set email claim: %w", err)
	}

	return token.V4Encrypt(s.symmetricKey, nil), nil
}

// Verify decrypts tokenString and returns the identity it carries.
// Any malformed, tampered, foreign or expired token yields InvalidToken; a token
// is expired once now reaches its expiration instant.
func (s *TokenService) Verify(tokenString string) (Identity, error) {
	now := s.now()

	// Expiry is checked by notExpiredAt so the injected clock applies.
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	parser.AddRule(paseto.ValidAt(now))
	parser.AddRule(notExpiredAt(now))

	token, err := parser.ParseV4Local(s.symmetricKey, tokenString, nil)
	if err != nil {
		return Identity{}, errors.InvalidToken("invalid or expired token").WithCause(err)
	}

	subject, err := token.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, errors.InvalidToken("token has no subject")
	}

	email, err := token.GetString(claimEmail)
	if err != nil {
		return Identity{}, errors.InvalidToken("token has no email claim").WithCause(err)
	}

	return Identity{Subject: subject, Email: email}, nil
}

// notExpiredAt rejects tokens whose expiration is at or before now.
func notExpiredAt(now time.Time) paseto.Rule {
	return func(token paseto.Token) error {
		exp, err := token.GetExpiration()
		if err != nil {
			return err
		}
		if !now.Before(exp) {
			return fmt.Errorf("token expired at %s", exp.Format(time.RFC3339))
		}
		return nil
	}
}
