package session

import (
	"sync/atomic"

	"github.com/MrWong99/mentrabridge/internal/config"
)

// Replies are the fixed phrases the gateway speaks on its own.
type Replies struct {
	// Acknowledgments rotate, one per accepted utterance.
	Acknowledgments []string

	// PhotoAcknowledgment is spoken when a photo arrives.
	PhotoAcknowledgment string

	// Apology is spoken when an utterance could not be answered.
	Apology string

	// PhotoApology is spoken when a photo could not be processed.
	PhotoApology string
}

// DefaultReplies returns the built-in phrases.
func DefaultReplies() Replies {
	return Replies{
		Acknowledgments:     []string{"One moment.", "Let me check.", "On it."},
		PhotoAcknowledgment: "Got the photo, taking a look.",
		Apology:             "Sorry, I ran into a problem answering that.",
		PhotoApology:        "Sorry, I couldn't process that photo.",
	}
}

// RepliesFromSettings overlays the YAML replies section on [DefaultReplies].
// An explicitly empty acknowledgment list is not expressible in YAML, so an
// empty list keeps the defaults.
func RepliesFromSettings(s config.RepliesConfig) Replies {
	r := DefaultReplies()
	if len(s.Acknowledgments) > 0 {
		r.Acknowledgments = s.Acknowledgments
	}
	if s.PhotoAcknowledgment != "" {
		r.PhotoAcknowledgment = s.PhotoAcknowledgment
	}
	if s.Apology != "" {
		r.Apology = s.Apology
	}
	if s.PhotoApology != "" {
		r.PhotoApology = s.PhotoApology
	}
	return r
}

// ackRotation cycles through acknowledgments in order.
type ackRotation struct {
	phrases []string
	next    atomic.Uint64
}

func (a *ackRotation) pick() string {
	if len(a.phrases) == 0 {
		return ""
	}
	i := a.next.Add(1) - 1
	return a.phrases[i%uint64(len(a.phrases))]
}
