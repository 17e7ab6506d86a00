// Package dispatch turns accepted device input into agent turns.
//
// A [Pipeline] resolves the agent route for the device, records the inbound
// message in the session store, formats the [agent.Envelope], hands it to
// the [agent.Dispatcher] and collects every streamed reply chunk into one
// newline-joined text. Bookkeeping failures are logged and never stop the
// user from getting an answer; dispatch failures are returned so the caller
// can apologise.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mentrabridge/internal/agent"
	"github.com/MrWong99/mentrabridge/internal/media"
	"github.com/MrWong99/mentrabridge/internal/observe"
	"github.com/MrWong99/mentrabridge/pkg/device"
	"github.com/MrWong99/mentrabridge/pkg/memory"
)

const (
	// DefaultChannel tags envelopes from wearable devices.
	DefaultChannel = "mentra"

	// DefaultPhotoPlaceholder is the message body of a photo.
	DefaultPhotoPlaceholder = "<media:image>"

	// DefaultStorePath is the session store template.
	DefaultStorePath = "sessions/" + memory.AgentPlaceholder
)

// Result is the collected output of one agent turn.
type Result struct {
	// Text is every non-empty reply chunk, newline-joined in arrival order.
	Text string

	// Counts is the number of delivered chunks per kind.
	Counts map[agent.ReplyKind]int

	// QueuedFinal mirrors [agent.Result.QueuedFinal].
	QueuedFinal bool
}

// HasReply reports whether there is anything to speak.
func (r Result) HasReply() bool {
	return strings.TrimSpace(r.Text) != ""
}

// ActivityRecorder is told about inbound traffic. The gateway's runtime
// status implements it.
type ActivityRecorder interface {
	RecordInbound(at time.Time)
}

// Config holds the static envelope fields.
type Config struct {
	// Channel tags envelopes and session keys. Default: [DefaultChannel].
	Channel string

	// AccountID is copied into envelopes and reply routes.
	AccountID string

	// StorePath is the session store template. Default: [DefaultStorePath].
	StorePath string

	// PhotoPlaceholder is the body of photo envelopes.
	// Default: [DefaultPhotoPlaceholder].
	PhotoPlaceholder string
}

// Pipeline is the inbound dispatch pipeline. Safe for concurrent use; each
// call is an independent flow.
type Pipeline struct {
	cfg        Config
	routes     agent.RouteResolver
	store      memory.SessionStore
	dispatcher agent.Dispatcher
	media      media.Saver
	activity   ActivityRecorder
	metrics    *observe.Metrics
	now        func() time.Time
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMedia sets the store photos are persisted to. Without one,
// [Pipeline.HandlePhoto] fails.
func WithMedia(s media.Saver) Option {
	return func(p *Pipeline) { p.media = s }
}

// WithActivity sets the inbound activity sink.
func WithActivity(a ActivityRecorder) Option {
	return func(p *Pipeline) { p.activity = a }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New returns a Pipeline. routes, store and dispatcher are required.
func New(cfg Config, routes agent.RouteResolver, store memory.SessionStore, dispatcher agent.Dispatcher, opts ...Option) *Pipeline {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.StorePath == "" {
		cfg.StorePath = DefaultStorePath
	}
	if cfg.PhotoPlaceholder == "" {
		cfg.PhotoPlaceholder = DefaultPhotoPlaceholder
	}
	p := &Pipeline{
		cfg:        cfg,
		routes:     routes,
		store:      store,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Channel returns the channel tag envelopes carry.
func (p *Pipeline) Channel() string { return p.cfg.Channel }

// History returns up to limit of the newest messages recorded for
// identity's current route, oldest first. limit <= 0 returns everything.
// A device that never spoke yields [memory.ErrNotFound].
func (p *Pipeline) History(ctx context.Context, identity string, limit int) ([]memory.Entry, error) {
	route, err := p.routes.Resolve(p.cfg.Channel, identity)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve route: %w", err)
	}
	storePath := memory.ResolveStorePath(p.cfg.StorePath, route.AgentID)
	entries, err := p.store.Recent(ctx, storePath, route.SessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("dispatch: history of %s: %w", identity, err)
	}
	return entries, nil
}

// inbound is one message entering the pipeline.
type inbound struct {
	kind      string // "text" or "photo", for telemetry
	identity  string
	text      string
	language  string
	mediaPath string
	mediaType string
}

// HandleText dispatches an accepted utterance from identity.
func (p *Pipeline) HandleText(ctx context.Context, identity, text, language string) (Result, error) {
	return p.run(ctx, inbound{kind: "text", identity: identity, text: text, language: language})
}

// HandlePhoto persists ev and dispatches it with the photo placeholder body.
func (p *Pipeline) HandlePhoto(ctx context.Context, identity string, ev device.PhotoEvent) (Result, error) {
	if p.media == nil {
		return Result{}, fmt.Errorf("dispatch: photo from %s: no media store configured", identity)
	}
	path, err := p.media.Save(ctx, ev.Data, ev.MIMEType, p.cfg.Channel)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: save photo: %w", err)
	}
	return p.run(ctx, inbound{
		kind:      "photo",
		identity:  identity,
		text:      p.cfg.PhotoPlaceholder,
		mediaPath: path,
		mediaType: ev.MIMEType,
	})
}

func (p *Pipeline) run(ctx context.Context, in inbound) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "dispatch."+in.kind,
		trace.WithAttributes(
			attribute.String("device.identity", in.identity),
			attribute.String("channel", p.cfg.Channel),
		),
	)
	defer span.End()
	log := observe.Logger(ctx).With("identity", in.identity, "kind", in.kind)

	route, err := p.routes.Resolve(p.cfg.Channel, in.identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "route resolution failed")
		return Result{}, fmt.Errorf("dispatch: resolve route: %w", err)
	}
	span.SetAttributes(
		attribute.String("agent.id", route.AgentID),
		attribute.String("agent.session_key", route.SessionKey),
	)
	storePath := memory.ResolveStorePath(p.cfg.StorePath, route.AgentID)

	now := p.now()
	msgID := uuid.NewString()
	// No trace ID without a recording tracer.
	cid := observe.CorrelationID(ctx)
	if cid == "" {
		cid = msgID
	}
	log = log.With("correlation_id", cid)
	env := agent.FormatEnvelope(agent.EnvelopeInput{
		MessageID:     msgID,
		CorrelationID: cid,
		Channel:       p.cfg.Channel,
		AccountID:     p.cfg.AccountID,
		From:          in.identity,
		Route:         route,
		Text:          in.text,
		MediaPath:     in.mediaPath,
		MediaType:     in.mediaType,
		Language:      in.language,
		Timestamp:     now,
	})

	p.record(ctx, log, storePath, env)
	if p.activity != nil {
		p.activity.RecordInbound(now)
	}

	var (
		mu     sync.Mutex
		chunks []string
	)
	deliver := func(ctx context.Context, r agent.Reply) error {
		p.metrics.RecordAgentReply(ctx, string(r.Kind))
		text := strings.TrimSpace(r.Text)
		if text == "" {
			return nil
		}
		mu.Lock()
		chunks = append(chunks, text)
		mu.Unlock()
		return nil
	}

	start := time.Now()
	res, err := p.dispatcher.Dispatch(ctx, env, deliver)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		p.metrics.RecordDispatch(ctx, in.kind, "error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return Result{}, fmt.Errorf("dispatch: agent %s: %w", route.AgentID, err)
	}

	mu.Lock()
	out := Result{
		Text:        strings.Join(chunks, "\n"),
		Counts:      res.Counts,
		QueuedFinal: res.QueuedFinal,
	}
	mu.Unlock()

	status := "ok"
	if !out.HasReply() {
		status = "empty"
		log.Info("dispatch: agent produced no reply", "agent", route.AgentID, "counts", out.Counts)
	}
	p.metrics.RecordDispatch(ctx, in.kind, status, elapsed)
	return out, nil
}

// record writes the inbound entry and the reply route. Failures are logged.
func (p *Pipeline) record(ctx context.Context, log *slog.Logger, storePath string, env agent.Envelope) {
	err := p.store.RecordInbound(ctx, memory.InboundRecord{
		StorePath:  storePath,
		SessionKey: env.SessionKey,
		AgentID:    env.AgentID,
		Entry: memory.Entry{
			MessageID: env.MessageID,
			Channel:   env.Channel,
			From:      env.From,
			Body:      env.RawBody,
			MediaPath: env.MediaPath,
			MediaType: env.MediaType,
			Timestamp: env.Timestamp,
		},
	})
	if err != nil {
		log.Error("dispatch: failed to record inbound message", "session_key", env.SessionKey, "err", err)
	}

	err = p.store.UpdateLastRoute(ctx, storePath, env.SessionKey, memory.Route{
		Channel:   env.Channel,
		To:        env.From,
		AccountID: env.AccountID,
	})
	if err != nil {
		log.Error("dispatch: failed to update last route", "session_key", env.SessionKey, "err", err)
	}
}
