// Package auth issues and verifies identity tokens and hashes passwords.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// PASETO v4 requires a 256-bit (32-byte) symmetric key.
	keyLength = 32

	// MinSecretLength is the shortest secret accepted without a warning.
	MinSecretLength = 32

	keyDerivationInfo = "grimoire token key v1"
)

// DeriveKey stretches an arbitrary configured secret into a 32-byte PASETO key
// with HKDF-SHA256. The same secret always yields the same key.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("token secret cannot be empty")
	}

	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyDerivationInfo))
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return key, nil
}

// GenerateSecret returns a random hex secret for development runs without TOKEN_SECRET.
// Tokens signed with it stop verifying once the process exits.
func GenerateSecret() (string, error) {
	b := make([]byte, keyLength*2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
