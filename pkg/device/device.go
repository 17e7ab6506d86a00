// Package device defines the contract between the gateway and the transport
// that wearable devices connect through.
//
// The two primary abstractions are:
//
//   - [Listener] accepts device sessions and reports their events through
//     the callbacks in [Handlers].
//   - [Handle] is the exclusively-owned outbound side of one connected
//     session, used to speak text and cut playback.
//
// This package lives under pkg/ because alternative transports (a vendor
// SDK bridge, a test harness) are expected to implement [Listener] and [Handle].
package device

import (
	"context"
	"time"
)

// Track is a logical audio slot on the device. An acknowledgment and a full
// reply can be sequenced or interrupted independently.
type Track string

const (
	// TrackAcknowledgment carries short filler audio spoken right after a wake.
	TrackAcknowledgment Track = "ack"

	// TrackResponse carries the agent's reply.
	TrackResponse Track = "response"
)

// SpeakOptions controls how text is played on the device.
type SpeakOptions struct {
	// Track selects the audio slot.
	Track Track

	// InterruptOthers stops whatever else is playing before this text starts.
	InterruptOthers bool
}

// TranscriptionEvent is speech recognised on the device.
type TranscriptionEvent struct {
	Text string

	// Final is false for interim hypotheses, which are not actionable.
	Final bool

	// Language is the BCP 47 tag reported by the recogniser, if any.
	Language string

	// At is when the event was received.
	At time.Time
}

// PhotoEvent is an image captured by the device camera.
type PhotoEvent struct {
	Data     []byte
	MIMEType string
	At       time.Time
}

// Handle is the outbound side of one connected device session.
//
// Implementations must be safe for concurrent use.
type Handle interface {
	// Speak plays text on the device and returns once the device accepted it.
	Speak(ctx context.Context, text string, opts SpeakOptions) error

	// StopAudio cuts any playback in progress.
	StopAudio(ctx context.Context) error

	// Close terminates the session. Safe to call more than once.
	Close() error
}

// Handlers are the callbacks a [Listener] invokes. Any field may be nil.
// Callbacks for one identity are invoked sequentially by the connection that
// produced them and must not block for long.
type Handlers struct {
	OnConnect       func(identity string, h Handle)
	OnDisconnect    func(identity string, h Handle, reason string)
	OnTranscription func(identity string, ev TranscriptionEvent)
	OnPhoto         func(identity string, ev PhotoEvent)
}

// Listener accepts device sessions.
//
// Implementations must be safe for concurrent use.
type Listener interface {
	// Start begins accepting sessions and delivers their events to h.
	// It returns once the listener is ready.
	Start(ctx context.Context, h Handlers) error

	// Stop refuses new sessions and closes every open one.
	Stop(ctx context.Context) error

	// Active reports whether the listener currently accepts sessions.
	Active() bool
}
