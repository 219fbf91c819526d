// Package id generates and checks the prefixed identifiers used for stored records.
package id

import (
	"fmt"
	"regexp"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Record prefixes.
const (
	PrefixBook  = "book"
	PrefixUser  = "usr"
	PrefixCover = "cover"
)

// nanoidLength is the default gonanoid length.
const nanoidLength = 21

//nolint:gochecknoglobals // compiled once
var pattern = regexp.MustCompile(`^[a-z]+-[A-Za-z0-9_-]{21}$`)

// Generate creates a prefixed unique ID using NanoID
// Format: prefix-nanoid (e.g., "book-V1StGXR8_Z5jdHi6B-myT")
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New(nanoidLength)
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// Valid reports whether s has the shape of a generated ID with any prefix.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// HasPrefix reports whether s is a well-formed ID carrying prefix.
func HasPrefix(s, prefix string) bool {
	return len(s) == len(prefix)+1+nanoidLength && s[:len(prefix)+1] == prefix+"-" && Valid(s)
}
