package gate

import (
	"regexp"
	"slices"
	"strings"
)

// DefaultWakeWords are the greeting tokens accepted before the device name.
// Transcribers render "hey" in several ways.
var DefaultWakeWords = []string{"hey", "hi", "hay", "hei", "okay", "ok", "a"}

// DefaultDeviceNames are spellings of the device name commonly produced by
// speech-to-text for "Mentra".
var DefaultDeviceNames = []string{"mentra", "mantra", "mentor", "menthra", "mentrah", "mentre"}

// DefaultStopWords are the single-word interrupt commands.
var DefaultStopWords = []string{"stop"}

// WakeMatch is the result of a successful wake phrase match.
type WakeMatch struct {
	// Prefix is the matched wake phrase as it appeared in the input.
	Prefix string

	// Remainder is the input after the prefix with leading punctuation and
	// whitespace removed. It may be empty.
	Remainder string

	// Phonetic is true when the device name was recognised by sound rather
	// than by one of the configured spellings.
	Phonetic bool
}

// WakeMatcher recognises the wake phrase at the start of a transcription:
// optional leading filler or punctuation, a greeting token, then a device name.
// All methods are safe for concurrent use.
type WakeMatcher struct {
	pattern  *regexp.Regexp
	wake     map[string]struct{}
	names    *nameIndex
	tokenize *regexp.Regexp
}

// NewWakeMatcher compiles a matcher for the given greeting tokens and device
// name variants. Empty lists fall back to [DefaultWakeWords] and
// [DefaultDeviceNames].
func NewWakeMatcher(wakeWords, deviceNames []string) *WakeMatcher {
	if len(wakeWords) == 0 {
		wakeWords = DefaultWakeWords
	}
	if len(deviceNames) == 0 {
		deviceNames = DefaultDeviceNames
	}
	m := &WakeMatcher{
		pattern:  regexp.MustCompile(`(?i)^[\s\p{P}]*(?:(?:um+|uh+|oh|so|well)[\s,]+)?(?:` + alternation(wakeWords) + `)[\s,.!-]+(?:` + alternation(deviceNames) + `)\b`),
		wake:     make(map[string]struct{}, len(wakeWords)),
		names:    newNameIndex(deviceNames),
		tokenize: regexp.MustCompile(`[\p{L}\p{N}'’]+`),
	}
	for _, w := range wakeWords {
		m.wake[Normalize(w)] = struct{}{}
	}
	return m
}

// alternation builds a regexp alternation, longest variant first so that
// "mentrah" wins over "mentra".
func alternation(words []string) string {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	slices.SortFunc(quoted, func(a, b string) int { return len(b) - len(a) })
	return strings.Join(quoted, "|")
}

// Match reports whether text starts with the wake phrase.
func (m *WakeMatcher) Match(text string) (WakeMatch, bool) {
	if loc := m.pattern.FindStringIndex(text); loc != nil {
		return WakeMatch{
			Prefix:    text[:loc[1]],
			Remainder: trimLeadingPunct(text[loc[1]:]),
		}, true
	}
	return m.matchPhonetic(text)
}

// matchPhonetic handles device names the configured spellings miss. The
// greeting must still be one of the configured tokens; the following one or
// two tokens must sound like a device name.
func (m *WakeMatcher) matchPhonetic(text string) (WakeMatch, bool) {
	locs := m.tokenize.FindAllStringIndex(text, 4)
	if len(locs) < 2 {
		return WakeMatch{}, false
	}
	// Leading punctuation only; anything but punctuation before the
	// greeting is ordinary speech.
	if strings.TrimSpace(trimLeadingPunct(text[:locs[0][0]])) != "" {
		return WakeMatch{}, false
	}
	if _, ok := m.wake[Normalize(text[locs[0][0]:locs[0][1]])]; !ok {
		return WakeMatch{}, false
	}

	end := -1
	if m.names.match(text[locs[1][0]:locs[1][1]]) {
		end = locs[1][1]
	} else if len(locs) >= 3 && m.names.match(text[locs[1][0]:locs[1][1]]+text[locs[2][0]:locs[2][1]]) {
		// "men tra"
		end = locs[2][1]
	}
	if end < 0 {
		return WakeMatch{}, false
	}
	return WakeMatch{
		Prefix:    text[:end],
		Remainder: trimLeadingPunct(text[end:]),
		Phonetic:  true,
	}, true
}

// ExtractCommand strips the wake phrase from text. It returns the command
// and whether a wake phrase was present. An empty command is replaced with
// defaultCommand. Without a wake phrase the raw text is returned unchanged.
func (m *WakeMatcher) ExtractCommand(text, defaultCommand string) (string, bool) {
	wm, ok := m.Match(text)
	if !ok {
		return text, false
	}
	cmd := strings.TrimSpace(wm.Remainder)
	if cmd == "" {
		cmd = defaultCommand
	}
	return cmd, true
}

// StopMatcher recognises a transcription consisting solely of a stop word.
type StopMatcher struct {
	pattern *regexp.Regexp
}

// NewStopMatcher compiles a matcher for words, or [DefaultStopWords] when
// words is empty.
func NewStopMatcher(words []string) *StopMatcher {
	if len(words) == 0 {
		words = DefaultStopWords
	}
	return &StopMatcher{
		pattern: regexp.MustCompile(`(?i)^\s*(?:` + alternation(words) + `)[\s.!?,]*$`),
	}
}

// Match reports whether text is a stop command.
func (m *StopMatcher) Match(text string) bool {
	return m.pattern.MatchString(text)
}

// IsStopCommand reports whether text is one of the default stop words,
// optionally followed by punctuation.
func IsStopCommand(text string) bool {
	return defaultStop.Match(text)
}

var defaultStop = NewStopMatcher(nil)
