// Package mock provides in-memory implementations of [device.Listener] and
// [device.Handle] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	l := &mock.Listener{}
//	gw.Start(ctx) // gateway calls l.Start with its handlers
//	h := &mock.Handle{}
//	l.Connect("u1", h)
//	l.Transcribe("u1", "hey mentra what time is it")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/mentrabridge/pkg/device"
)

// ─── Handle ──────────────────────────────────────────────────────────────────

// SpeakCall records a single invocation of [Handle.Speak].
type SpeakCall struct {
	Text string
	Opts device.SpeakOptions
}

// Handle is a mock implementation of [device.Handle].
type Handle struct {
	mu sync.Mutex

	// SpeakErr is returned by Speak.
	SpeakErr error

	// SpeakFunc, if set, runs inside Speak before the call is recorded.
	// Its error takes precedence over SpeakErr.
	SpeakFunc func(ctx context.Context, text string, opts device.SpeakOptions) error

	// StopAudioErr is returned by StopAudio.
	StopAudioErr error

	// CloseErr is returned by Close.
	CloseErr error

	// SpeakCalls records every Speak call in order.
	SpeakCalls []SpeakCall

	// CallCountStopAudio records how many times StopAudio was called.
	CallCountStopAudio int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ device.Handle = (*Handle)(nil)

// Speak implements [device.Handle].
func (h *Handle) Speak(ctx context.Context, text string, opts device.SpeakOptions) error {
	h.mu.Lock()
	fn := h.SpeakFunc
	h.mu.Unlock()
	var fnErr error
	if fn != nil {
		fnErr = fn(ctx, text, opts)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.SpeakCalls = append(h.SpeakCalls, SpeakCall{Text: text, Opts: opts})
	if fnErr != nil {
		return fnErr
	}
	return h.SpeakErr
}

// StopAudio implements [device.Handle].
func (h *Handle) StopAudio(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountStopAudio++
	return h.StopAudioErr
}

// Close implements [device.Handle].
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountClose++
	return h.CloseErr
}

// Spoken returns a copy of the recorded Speak calls.
func (h *Handle) Spoken() []SpeakCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SpeakCall, len(h.SpeakCalls))
	copy(out, h.SpeakCalls)
	return out
}

// StopAudioCount returns how many times StopAudio was called.
func (h *Handle) StopAudioCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.CallCountStopAudio
}

// CloseCount returns how many times Close was called.
func (h *Handle) CloseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.CallCountClose
}

// ─── Listener ────────────────────────────────────────────────────────────────

// Listener is a mock implementation of [device.Listener]. Tests drive
// sessions through Connect, Disconnect, Transcribe and Photo, which invoke
// the handlers captured by Start.
type Listener struct {
	mu sync.Mutex

	// StartErr is returned by Start.
	StartErr error

	// StopErr is returned by Stop.
	StopErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	handlers device.Handlers
	active   bool
}

var _ device.Listener = (*Listener)(nil)

// Start implements [device.Listener].
func (l *Listener) Start(_ context.Context, h device.Handlers) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.CallCountStart++
	if l.StartErr != nil {
		return l.StartErr
	}
	l.handlers = h
	l.active = true
	return nil
}

// Stop implements [device.Listener]. The listener is inactive afterwards even
// when StopErr is set.
func (l *Listener) Stop(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.CallCountStop++
	l.active = false
	return l.StopErr
}

// Active implements [device.Listener].
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Listener) current() device.Handlers {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers
}

// Connect simulates a device session opening.
func (l *Listener) Connect(identity string, h device.Handle) {
	if fn := l.current().OnConnect; fn != nil {
		fn(identity, h)
	}
}

// Disconnect simulates a device session closing.
func (l *Listener) Disconnect(identity string, h device.Handle, reason string) {
	if fn := l.current().OnDisconnect; fn != nil {
		fn(identity, h, reason)
	}
}

// Transcribe delivers a final transcription.
func (l *Listener) Transcribe(identity, text string) {
	if fn := l.current().OnTranscription; fn != nil {
		fn(identity, device.TranscriptionEvent{Text: text, Final: true, Language: "en-US", At: time.Now()})
	}
}

// Photo delivers a captured image.
func (l *Listener) Photo(identity string, data []byte, mime string) {
	if fn := l.current().OnPhoto; fn != nil {
		fn(identity, device.PhotoEvent{Data: data, MIMEType: mime, At: time.Now()})
	}
}
