// Package outbound speaks text on connected devices.
//
// Replies go on the response track and interrupt whatever else is playing;
// acknowledgments go on their own track and never wait for a reply. Before a
// reply is spoken the session's voice gate is told what is about to play so
// the device does not react to hearing itself. Speak failures are logged and
// swallowed.
package outbound

import (
	"context"
	"time"

	"github.com/MrWong99/mentrabridge/internal/gate"
	"github.com/MrWong99/mentrabridge/internal/observe"
	"github.com/MrWong99/mentrabridge/pkg/device"
)

// DefaultSpeakTimeout bounds a single speak call.
const DefaultSpeakTimeout = 15 * time.Second

// Sessions looks up the handle of a connected device.
type Sessions interface {
	Lookup(identity string) (device.Handle, bool)
}

// ActivityRecorder is told when text was spoken.
type ActivityRecorder interface {
	RecordOutbound(at time.Time)
}

// Delivery speaks on devices found through a [Sessions] lookup. It never
// mutates the lookup. Safe for concurrent use.
type Delivery struct {
	sessions Sessions
	activity ActivityRecorder
	metrics  *observe.Metrics
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a [Delivery].
type Option func(*Delivery)

// WithActivity sets the outbound activity sink.
func WithActivity(a ActivityRecorder) Option {
	return func(d *Delivery) { d.activity = a }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Delivery) { d.metrics = m }
}

// WithTimeout overrides [DefaultSpeakTimeout].
func WithTimeout(t time.Duration) Option {
	return func(d *Delivery) { d.timeout = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Delivery) { d.now = now }
}

// New returns a Delivery reading handles from sessions.
func New(sessions Sessions, opts ...Option) *Delivery {
	d := &Delivery{
		sessions: sessions,
		timeout:  DefaultSpeakTimeout,
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Speak plays text on identity's device and reports whether the device
// accepted it. An unknown identity or a device error yields false.
func (d *Delivery) Speak(ctx context.Context, identity, text string, opts device.SpeakOptions) bool {
	log := observe.Logger(ctx).With("identity", identity, "track", string(opts.Track))

	h, ok := d.sessions.Lookup(identity)
	if !ok {
		log.Info("outbound: no session to speak to")
		d.metrics.RecordSpeak(ctx, string(opts.Track), "no_session")
		return false
	}

	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := h.Speak(sctx, text, opts); err != nil {
		log.Warn("outbound: speak failed", "err", err)
		d.metrics.RecordSpeak(ctx, string(opts.Track), "error")
		return false
	}

	d.metrics.RecordSpeak(ctx, string(opts.Track), "ok")
	if d.activity != nil {
		d.activity.RecordOutbound(d.now())
	}
	return true
}

// Acknowledge plays a short filler on the acknowledgment track without
// interrupting anything and without touching the gate's echo state.
func (d *Delivery) Acknowledge(ctx context.Context, identity, text string) bool {
	if text == "" {
		return false
	}
	return d.Speak(ctx, identity, text, device.SpeakOptions{Track: device.TrackAcknowledgment})
}

// SpeakResponse plays a reply on the response track. The gate is marked as
// speaking text for its estimated duration before playback starts; once the
// device accepted the reply, the follow-up listen window opens.
func (d *Delivery) SpeakResponse(ctx context.Context, identity, text string, g *gate.Gate) bool {
	g.BeginResponse(text, d.now())
	if !d.Speak(ctx, identity, text, device.SpeakOptions{Track: device.TrackResponse, InterruptOthers: true}) {
		return false
	}
	g.EndResponse(d.now())
	return true
}

// SpeakApology plays an error apology on the response track. Like a reply it
// is remembered for echo suppression, but it does not open a listen window.
func (d *Delivery) SpeakApology(ctx context.Context, identity, text string, g *gate.Gate) bool {
	g.BeginResponse(text, d.now())
	return d.Speak(ctx, identity, text, device.SpeakOptions{Track: device.TrackResponse, InterruptOthers: true})
}

// Interrupt cuts playback on identity's device.
func (d *Delivery) Interrupt(ctx context.Context, identity string) bool {
	log := observe.Logger(ctx).With("identity", identity)
	h, ok := d.sessions.Lookup(identity)
	if !ok {
		log.Info("outbound: no session to interrupt")
		return false
	}
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := h.StopAudio(sctx); err != nil {
		log.Warn("outbound: stop audio failed", "err", err)
		return false
	}
	return true
}
