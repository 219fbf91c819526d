package auth

import (
	"strings"

	"github.com/grimoireapp/grimoire-server/internal/errors"
)

// Verifier verifies a raw token and returns the identity it carries.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Gate resolves the caller of a request from its Authorization header.
type Gate struct {
	verifier Verifier
}

// NewGate creates a gate backed by verifier.
func NewGate(verifier Verifier) *Gate {
	return &Gate{verifier: verifier}
}

// Authenticate parses "Bearer <token>" and verifies the token.
// A missing or malformed header yields MissingCredential; a token that fails
// verification yields Unauthorized wrapping the verifier's error.
func (g *Gate) Authenticate(rawHeader string) (Identity, error) {
	token, ok := bearerToken(rawHeader)
	if !ok {
		return Identity{}, errors.MissingCredential("missing authentication token")
	}

	identity, err := g.verifier.Verify(token)
	if err != nil {
		return Identity{}, errors.Unauthorized("invalid or expired token").WithCause(err)
	}
	return identity, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
