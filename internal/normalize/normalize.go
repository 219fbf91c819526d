// Package normalize cleans user-supplied text before it is validated and stored.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

//nolint:gochecknoglobals // compiled once
var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
	multipleHyphens = regexp.MustCompile(`-+`)
)

// Text returns s in Unicode NFC with surrounding whitespace trimmed, internal
// whitespace runs collapsed to one space, and control characters removed.
// "  Le  Petit\tPrince " -> "Le Petit Prince".
func Text(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Email trims and lowercases an address so lookups are case-insensitive.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// Slug converts a string to a URL-safe ASCII slug.
// "Science Fiction" -> "science-fiction".
// "Sci-Fi/Fantasy" -> "sci-fi-fantasy".
// "Poésie" -> "poesie".
func Slug(s string) string {
	// Decompose so accents split off their base letter.
	s = norm.NFKD.String(s)

	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)

	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "-")
	s = multipleHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
