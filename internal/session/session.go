// Package session runs the live controller of one connected device.
//
// Device callbacks only enqueue events ([Controller.Submit]); a single
// consumer ([Controller.Run]) evaluates them against the session's voice
// gate in arrival order. Each accepted utterance or photo becomes an
// independent turn goroutine, so a slow agent never holds up the gate and
// a stop command can interrupt a reply that is still being read aloud.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mentrabridge/internal/dispatch"
	"github.com/MrWong99/mentrabridge/internal/gate"
	"github.com/MrWong99/mentrabridge/internal/observe"
	"github.com/MrWong99/mentrabridge/pkg/device"
)

// DefaultBuffer is the event queue capacity.
const DefaultBuffer = 32

// EventKind distinguishes queued events.
type EventKind int

const (
	EventTranscription EventKind = iota + 1
	EventPhoto
)

// Event is one queued device event.
type Event struct {
	Kind          EventKind
	Transcription device.TranscriptionEvent
	Photo         device.PhotoEvent
}

// TranscriptionEvent wraps ev for [Controller.Submit].
func TranscriptionEvent(ev device.TranscriptionEvent) Event {
	return Event{Kind: EventTranscription, Transcription: ev}
}

// PhotoEvent wraps ev for [Controller.Submit].
func PhotoEvent(ev device.PhotoEvent) Event {
	return Event{Kind: EventPhoto, Photo: ev}
}

// Pipeline dispatches accepted input to the agent.
type Pipeline interface {
	HandleText(ctx context.Context, identity, text, language string) (dispatch.Result, error)
	HandlePhoto(ctx context.Context, identity string, ev device.PhotoEvent) (dispatch.Result, error)
}

// Speaker plays gateway output on the device.
type Speaker interface {
	Acknowledge(ctx context.Context, identity, text string) bool
	SpeakResponse(ctx context.Context, identity, text string, g *gate.Gate) bool
	SpeakApology(ctx context.Context, identity, text string, g *gate.Gate) bool
	Interrupt(ctx context.Context, identity string) bool
}

// Config configures a [Controller].
type Config struct {
	Identity string
	Gate     gate.Config
	Replies  Replies

	// Buffer is the event queue capacity. Default: [DefaultBuffer].
	Buffer int
}

// Controller is the live session of one device.
type Controller struct {
	identity string
	gate     *gate.Gate
	replies  Replies
	acks     ackRotation
	pipeline Pipeline
	speaker  Speaker
	metrics  *observe.Metrics
	now      func() time.Time

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	turns     sync.WaitGroup
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides time.Now for gate decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New returns a Controller with a fresh voice gate. Call [Controller.Run]
// to start processing.
func New(cfg Config, pipeline Pipeline, speaker Speaker, opts ...Option) *Controller {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	c := &Controller{
		identity: cfg.Identity,
		gate:     gate.New(cfg.Gate),
		replies:  cfg.Replies,
		acks:     ackRotation{phrases: cfg.Replies.Acknowledgments},
		pipeline: pipeline,
		speaker:  speaker,
		now:      time.Now,
		events:   make(chan Event, cfg.Buffer),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Identity returns the device identity.
func (c *Controller) Identity() string { return c.identity }

// Gate returns the session's voice gate.
func (c *Controller) Gate() *gate.Gate { return c.gate }

// Submit enqueues ev without blocking. It returns false when the controller
// is closed or the queue is full; a full queue drops the event.
func (c *Controller) Submit(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		slog.Warn("session: event queue full, dropping event", "identity", c.identity, "kind", ev.Kind)
		c.metrics.EventsDropped.Add(context.Background(), 1)
		return false
	}
}

// Close stops the controller. Queued events are discarded and in-flight
// turns are cancelled. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run consumes events until ctx is cancelled or [Controller.Close] is called,
// then cancels in-flight turns and waits for them to return.
func (c *Controller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.turns.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.events:
			switch ev.Kind {
			case EventTranscription:
				c.onTranscription(ctx, ev.Transcription)
			case EventPhoto:
				c.onPhoto(ctx, ev.Photo)
			}
		}
	}
}

func (c *Controller) onTranscription(ctx context.Context, ev device.TranscriptionEvent) {
	if !ev.Final {
		return
	}
	d := c.gate.Evaluate(ev.Text, c.now())
	c.metrics.RecordGateDecision(ctx, string(d.Reason), d.Accept)

	switch {
	case d.Stop:
		slog.Info("session: stop command", "identity", c.identity)
		c.speaker.Interrupt(ctx, c.identity)
	case d.Accept:
		slog.Debug("session: utterance accepted", "identity", c.identity, "reason", d.Reason, "command", d.Command)
		c.startTurn(ctx, func(ctx context.Context) { c.textTurn(ctx, d, ev.Language) })
	default:
		slog.Debug("session: utterance ignored", "identity", c.identity, "reason", d.Reason)
	}
}

func (c *Controller) onPhoto(ctx context.Context, ev device.PhotoEvent) {
	slog.Info("session: photo received", "identity", c.identity, "bytes", len(ev.Data), "mime", ev.MIMEType)
	c.startTurn(ctx, func(ctx context.Context) { c.photoTurn(ctx, ev) })
}

func (c *Controller) startTurn(ctx context.Context, fn func(context.Context)) {
	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		fn(ctx)
	}()
}

// acknowledge speaks text on the acknowledgment track without waiting. The
// gate remembers the text so the device hearing it is dropped as an echo.
func (c *Controller) acknowledge(ctx context.Context, text string) {
	if text == "" {
		return
	}
	c.gate.BeginAcknowledgment(text)
	c.startTurn(ctx, func(ctx context.Context) { c.speaker.Acknowledge(ctx, c.identity, text) })
}

// textTurn answers one accepted utterance. Only a woken utterance gets a
// filler acknowledgment; follow-ups inside the listen window go straight to
// the agent.
func (c *Controller) textTurn(ctx context.Context, d gate.Decision, language string) {
	if d.Reason == gate.ReasonWake {
		c.acknowledge(ctx, c.acks.pick())
	}

	res, err := c.pipeline.HandleText(ctx, c.identity, d.Command, language)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("session: failed to answer utterance", "identity", c.identity, "err", err)
		c.speaker.SpeakApology(ctx, c.identity, c.replies.Apology, c.gate)
		return
	}
	if !res.HasReply() {
		return
	}
	c.speaker.SpeakResponse(ctx, c.identity, res.Text, c.gate)
}

func (c *Controller) photoTurn(ctx context.Context, ev device.PhotoEvent) {
	c.acknowledge(ctx, c.replies.PhotoAcknowledgment)

	res, err := c.pipeline.HandlePhoto(ctx, c.identity, ev)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("session: failed to process photo", "identity", c.identity, "err", err)
		c.speaker.SpeakApology(ctx, c.identity, c.replies.PhotoApology, c.gate)
		return
	}
	if !res.HasReply() {
		return
	}
	c.speaker.SpeakResponse(ctx, c.identity, res.Text, c.gate)
}
