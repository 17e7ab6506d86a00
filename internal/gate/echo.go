package gate

import "strings"

// DefaultEchoThreshold is the fraction of candidate words that must also
// appear in the last spoken reply for the candidate to count as an echo.
const DefaultEchoThreshold = 0.6

// EchoOptions tunes [IsEcho].
type EchoOptions struct {
	// Threshold is the overlap fraction that must be exceeded.
	Threshold float64

	// Phonetic counts homophones as overlapping words.
	Phonetic bool
}

// IsEcho reports whether candidate is most likely the device hearing its own
// synthesized reply spoken. Both texts are normalized first. The candidate
// is an echo when either text is a substring of the other, or when more than
// opts.Threshold of the candidate's words occur in the reply.
func IsEcho(candidate, spoken string, opts EchoOptions) bool {
	c := Normalize(candidate)
	s := Normalize(spoken)
	if c == "" || s == "" {
		return false
	}
	if strings.Contains(s, c) || strings.Contains(c, s) {
		return true
	}
	return Overlap(strings.Fields(c), strings.Fields(s), opts.Phonetic) > opts.Threshold
}

// Overlap returns the fraction of candidate words that also occur in spoken.
// With phonetic set, a candidate word also counts when it sounds like a
// spoken word.
func Overlap(candidate, spoken []string, phonetic bool) float64 {
	if len(candidate) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(spoken))
	for _, w := range spoken {
		set[w] = struct{}{}
	}
	hits := 0
	for _, w := range candidate {
		if _, ok := set[w]; ok {
			hits++
			continue
		}
		if !phonetic {
			continue
		}
		for s := range set {
			if soundsAlike(w, s) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(candidate))
}
