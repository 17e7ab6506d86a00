package gate

import (
	"strings"
	"unicode"
)

// Normalize lowercases s, drops apostrophes, replaces every other
// non-alphanumeric rune with a space and collapses runs of whitespace.
//
//	Normalize("  What's UP,  Mentra?! ") == "whats up mentra"
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true // suppress leading spaces
	for _, r := range s {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Words returns the normalized words of s.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}

// WordCount counts whitespace separated words in s without normalizing.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// trimLeadingPunct strips whitespace and punctuation from the start of s.
func trimLeadingPunct(s string) string {
	return strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}
