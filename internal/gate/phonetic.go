package gate

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// phoneticThreshold is the minimum Jaro-Winkler score for a word whose
	// Double Metaphone codes overlap another word.
	phoneticThreshold = 0.70

	// nameThreshold is the stricter score a token needs to stand in for a
	// device name.
	nameThreshold = 0.85
)

// codes returns the Double Metaphone primary and secondary codes for word.
// Empty codes (vowel-only or very short words) are skipped.
func codes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func shareCode(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

const (
	// minNameTokenLen is the shortest token compared by sound against a
	// name. Shorter tokens must match exactly.
	minNameTokenLen = 4

	// maxNameLenDelta bounds how many more or fewer letters a token may have
	// than the name it sounds like.
	maxNameLenDelta = 1
)

// nameIndex precomputes phonetic codes for a fixed list of names so that
// transcribed tokens can be compared against all of them cheaply.
// Read-only after construction.
type nameIndex struct {
	names []string
	codes [][]string
}

func newNameIndex(names []string) *nameIndex {
	idx := &nameIndex{}
	for _, n := range names {
		n = Normalize(n)
		if n == "" {
			continue
		}
		n = strings.ReplaceAll(n, " ", "")
		idx.names = append(idx.names, n)
		idx.codes = append(idx.codes, codes(n))
	}
	return idx
}

// match reports whether token sounds like one of the indexed names. A token
// that is not an exact match must share a Double Metaphone code with the
// name, differ in length by at most maxNameLenDelta and reach
// nameThreshold. Spelling similarity alone never matches.
func (idx *nameIndex) match(token string) bool {
	token = strings.ReplaceAll(Normalize(token), " ", "")
	if token == "" {
		return false
	}
	tc := codes(token)
	for i, name := range idx.names {
		if token == name {
			return true
		}
		if len(token) < minNameTokenLen || abs(len(token)-len(name)) > maxNameLenDelta {
			continue
		}
		if shareCode(tc, idx.codes[i]) && matchr.JaroWinkler(token, name, false) >= nameThreshold {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// minPhoneticWordLen keeps short function words ("is", "as", "it") from
// matching each other through their one-letter codes.
const minPhoneticWordLen = 3

// soundsAlike reports whether two single words are homophones for the
// purpose of echo detection ("four" heard back as "for").
func soundsAlike(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < minPhoneticWordLen || len(b) < minPhoneticWordLen {
		return false
	}
	return shareCode(codes(a), codes(b)) && matchr.JaroWinkler(a, b, false) >= phoneticThreshold
}
