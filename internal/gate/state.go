package gate

import (
	"sync"
	"time"
)

// ListenState is the per-session conversational state the gate decides on.
// The two deadlines only move forward; [ListenState.Reset] is the only way
// back to zero. All methods are safe for concurrent use.
type ListenState struct {
	mu            sync.Mutex
	listenUntil   time.Time
	speakingUntil time.Time
	recentTTS     string
	recentAck     string
}

// Snapshot is a point-in-time copy of a [ListenState].
type Snapshot struct {
	ListenUntil   time.Time
	SpeakingUntil time.Time
	RecentTTS     string
	RecentAck     string
}

// MarkSpeaking records text as the reply now being played and pushes the
// speaking deadline to until (never backwards). The previous reply text is
// superseded.
func (s *ListenState) MarkSpeaking(text string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentTTS = text
	if until.After(s.speakingUntil) {
		s.speakingUntil = until
	}
}

// MarkAcknowledgment records text as the filler phrase now being played so
// that hearing it back is treated as an echo. Deadlines are untouched.
func (s *ListenState) MarkAcknowledgment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentAck = text
}

// ExtendListen pushes the follow-up deadline to until (never backwards).
func (s *ListenState) ExtendListen(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until.After(s.listenUntil) {
		s.listenUntil = until
	}
}

// ConsumeEcho reports whether text is an echo of the last spoken reply or
// the last acknowledgment under opts. The matched text is forgotten so each
// suppresses at most one transcription.
func (s *ListenState) ConsumeEcho(text string, opts EchoOptions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.recentTTS != "" && IsEcho(text, s.recentTTS, opts):
		s.recentTTS = ""
	case s.recentAck != "" && IsEcho(text, s.recentAck, opts):
		s.recentAck = ""
	default:
		return false
	}
	return true
}

// Reset zeroes both deadlines and forgets the last reply and acknowledgment.
func (s *ListenState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *ListenState) reset() {
	s.listenUntil = time.Time{}
	s.speakingUntil = time.Time{}
	s.recentTTS = ""
	s.recentAck = ""
}

// Snapshot returns a copy of the current state.
func (s *ListenState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ListenUntil:   s.listenUntil,
		SpeakingUntil: s.speakingUntil,
		RecentTTS:     s.recentTTS,
		RecentAck:     s.recentAck,
	}
}
