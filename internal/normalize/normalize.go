// Package normalize provides utilities for normalizing and sanitizing user input.
package normalize

import (
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxTitleLength is the longest title kept, in runes.
const MaxTitleLength = 200

// Title cleans a user-supplied comic title.
// "  Saga\tVol. 1\n" -> "Saga Vol. 1".
// Control characters are dropped, whitespace runs collapse to one space, and the
// result is NFC-composed so visually identical titles compare equal.
func Title(raw string) string {
	s := sanitizeString(raw)
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")

	if runes := []rune(s); len(runes) > MaxTitleLength {
		s = strings.TrimSpace(string(runes[:MaxTitleLength]))
	}
	return s
}

// sanitizeString removes null bytes and other control characters, which can
// cause issues in storage keys and logs. Whitespace controls become spaces so
// word boundaries survive.
func sanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}

// SortByFileName orders paths by their final element, the order a document
// picker presents a multi-selection in. The input slice is not modified.
func SortByFileName(paths []string) []string {
	out := slices.Clone(paths)
	slices.SortStableFunc(out, func(a, b string) int {
		return strings.Compare(filepath.Base(a), filepath.Base(b))
	})
	return out
}
