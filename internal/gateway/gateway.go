// Package gateway is the lifecycle controller of the device bridge.
//
// A [Gateway] starts and stops the [device.Listener], turns its callbacks
// into per-device [session.Controller]s, publishes a [Status] snapshot and
// mounts the device health probe while running. Process-wide state (the
// session registry and the status record) lives in a [Runtime] built once
// at startup and shared by reference.
//
// Lifecycle:
//
//	stopped → starting → running → stopping → stopped
//	starting → stopped (listener failed to start)
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/MrWong99/mentrabridge/internal/gate"
	"github.com/MrWong99/mentrabridge/internal/health"
	"github.com/MrWong99/mentrabridge/internal/observe"
	"github.com/MrWong99/mentrabridge/internal/registry"
	"github.com/MrWong99/mentrabridge/internal/session"
	"github.com/MrWong99/mentrabridge/pkg/device"
)

var (
	// ErrAlreadyRunning is returned by Start unless the gateway is stopped.
	ErrAlreadyRunning = errors.New("gateway: already running")

	// ErrNotRunning is returned by Stop unless the gateway is running.
	ErrNotRunning = errors.New("gateway: not running")

	// ErrMissingCredential is returned by Start when no device API key is
	// configured.
	ErrMissingCredential = errors.New("gateway: device api key not configured")
)

// Lifecycle states.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

const (
	eventStart   = "start"
	eventStarted = "started"
	eventFail    = "fail"
	eventStop    = "stop"
	eventStopped = "stopped"
)

// defaultStopTimeout bounds teardown when Run's context ends.
const defaultStopTimeout = 10 * time.Second

// Runtime is the process-wide state shared by the gateway and its
// collaborators.
type Runtime struct {
	Registry *registry.Registry
	Status   *StatusTracker
}

// NewRuntime returns an empty runtime for accountID.
func NewRuntime(accountID string) *Runtime {
	return &Runtime{
		Registry: registry.New(),
		Status:   NewStatusTracker(accountID),
	}
}

// RouteTable mounts HTTP handlers at runtime.
type RouteTable interface {
	Mount(pattern string, h http.Handler)
	Unmount(pattern string)
}

// Config configures a [Gateway].
type Config struct {
	// Credential is the device API key. Start refuses to run without one.
	Credential string

	// Channel names the device channel in the health probe.
	Channel string

	// HealthPath is where the device health probe is mounted while running.
	// Empty disables the probe.
	HealthPath string

	// Session is the template for new device sessions. Identity is set per
	// session.
	Session session.Config
}

type entry struct {
	ctrl   *session.Controller
	handle device.Handle
}

// Gateway is the lifecycle controller.
type Gateway struct {
	rt       *Runtime
	listener device.Listener
	pipeline session.Pipeline
	speaker  session.Speaker
	routes   RouteTable
	metrics  *observe.Metrics
	now      func() time.Time

	// lifeMu serialises Start and Stop. It is never held while a device
	// callback runs.
	lifeMu sync.Mutex
	fsm    *fsm.FSM
	cancel context.CancelFunc

	mu       sync.Mutex
	cfg      Config
	runCtx   context.Context
	sessions map[string]*entry
	turns    sync.WaitGroup
	active   atomic.Int64
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithRoutes sets where the device health probe is mounted.
func WithRoutes(rt RouteTable) Option {
	return func(g *Gateway) { g.routes = rt }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides time.Now for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New returns a stopped Gateway.
func New(cfg Config, rt *Runtime, listener device.Listener, pipeline session.Pipeline, speaker session.Speaker, opts ...Option) *Gateway {
	g := &Gateway{
		rt:       rt,
		listener: listener,
		pipeline: pipeline,
		speaker:  speaker,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	g.fsm = fsm.NewFSM(StateStopped,
		fsm.Events{
			{Name: eventStart, Src: []string{StateStopped}, Dst: StateStarting},
			{Name: eventStarted, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: eventFail, Src: []string{StateStarting}, Dst: StateStopped},
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateStopping},
			{Name: eventStopped, Src: []string{StateStopping}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				slog.Debug("gateway: state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return g
}

// Runtime returns the shared runtime.
func (g *Gateway) Runtime() *Runtime { return g.rt }

// State returns the lifecycle state.
func (g *Gateway) State() string { return g.fsm.Current() }

// Status returns the current status snapshot with the connected sessions.
func (g *Gateway) Status() Status {
	st := g.rt.Status.Snapshot()
	ids := g.rt.Registry.Identities()
	slices.Sort(ids)
	st.Sessions = make([]SessionStatus, 0, len(ids))
	for _, id := range ids {
		// Gone between the two registry reads.
		s, ok := g.rt.Registry.Session(id)
		if !ok {
			continue
		}
		st.Sessions = append(st.Sessions, SessionStatus{Identity: id, ConnectedAt: s.CreatedAt})
	}
	return st
}

// Running implements [health.ProbeSource].
func (g *Gateway) Running() bool { return g.listener.Active() }

// SessionCount implements [health.ProbeSource].
func (g *Gateway) SessionCount() int { return g.rt.Registry.Count() }

var _ health.ProbeSource = (*Gateway)(nil)

func (g *Gateway) transition(ctx context.Context, event string) {
	if err := g.fsm.Event(ctx, event); err != nil {
		slog.Error("gateway: invalid lifecycle transition", "event", event, "state", g.fsm.Current(), "err", err)
	}
}

// Start starts the device listener. It fails with [ErrAlreadyRunning]
// unless the gateway is stopped and with [ErrMissingCredential] when no
// API key is configured; the latter is also recorded in the status.
// Sessions live until Stop or until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()

	if cur := g.fsm.Current(); cur != StateStopped {
		return fmt.Errorf("%w (state %s)", ErrAlreadyRunning, cur)
	}

	g.mu.Lock()
	cfg := g.cfg
	g.mu.Unlock()

	if cfg.Credential == "" {
		slog.Warn("gateway: device api key missing, not starting")
		g.rt.Status.markFailed(ErrMissingCredential)
		return ErrMissingCredential
	}

	g.transition(ctx, eventStart)

	runCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.runCtx = runCtx
	g.mu.Unlock()

	err := g.listener.Start(runCtx, device.Handlers{
		OnConnect:       g.onConnect,
		OnDisconnect:    g.onDisconnect,
		OnTranscription: g.onTranscription,
		OnPhoto:         g.onPhoto,
	})
	if err != nil {
		cancel()
		err = fmt.Errorf("gateway: start listener: %w", err)
		g.rt.Status.markFailed(err)
		g.transition(ctx, eventFail)
		return err
	}
	g.cancel = cancel

	if g.routes != nil && cfg.HealthPath != "" {
		g.routes.Mount(cfg.HealthPath, health.Probe(cfg.Channel, g))
	}

	g.transition(ctx, eventStarted)
	g.rt.Status.markStarted(g.now())
	slog.Info("gateway: started", "account", g.rt.Status.Snapshot().AccountID, "health_path", cfg.HealthPath)
	return nil
}

// Stop unmounts the health probe, stops the listener, ends every session
// and clears the registry. Listener errors are logged; teardown always
// completes. It returns [ErrNotRunning] unless the gateway is running.
func (g *Gateway) Stop(ctx context.Context) error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()

	if cur := g.fsm.Current(); cur != StateRunning {
		return fmt.Errorf("%w (state %s)", ErrNotRunning, cur)
	}
	g.transition(ctx, eventStop)

	g.mu.Lock()
	healthPath := g.cfg.HealthPath
	g.mu.Unlock()
	if g.routes != nil && healthPath != "" {
		g.routes.Unmount(healthPath)
	}

	if err := g.listener.Stop(ctx); err != nil {
		slog.Error("gateway: listener stop failed", "err", err)
	}
	g.cancel()

	g.mu.Lock()
	for id, e := range g.sessions {
		e.ctrl.Close()
		delete(g.sessions, id)
	}
	g.mu.Unlock()

	for _, h := range g.rt.Registry.ClearAll() {
		if err := h.Close(); err != nil {
			slog.Debug("gateway: closing session handle", "err", err)
		}
	}
	g.metrics.ActiveSessions.Add(ctx, -g.active.Swap(0))

	done := make(chan struct{})
	go func() {
		g.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("gateway: sessions still draining after stop deadline")
	}

	g.transition(ctx, eventStopped)
	g.rt.Status.markStopped(g.now())
	slog.Info("gateway: stopped")
	return nil
}

// Run starts the gateway, waits for ctx to end and stops it. A missing
// credential is logged and Run returns nil: the process keeps serving
// health and metrics with the gateway reported as not running.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		if errors.Is(err, ErrMissingCredential) {
			return nil
		}
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultStopTimeout)
	defer cancel()
	if err := g.Stop(stopCtx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

// ApplyConfig replaces the gate tuning and reply phrases used for sessions
// that connect from now on.
func (g *Gateway) ApplyConfig(gateCfg gate.Config, replies session.Replies) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.Session.Gate = gateCfg
	g.cfg.Session.Replies = replies
}

func (g *Gateway) onConnect(identity string, h device.Handle) {
	replaced := g.rt.Registry.Register(identity, h)

	g.mu.Lock()
	scfg := g.cfg.Session
	scfg.Identity = identity
	ctrl := session.New(scfg, g.pipeline, g.speaker, session.WithMetrics(g.metrics))
	old := g.sessions[identity]
	g.sessions[identity] = &entry{ctrl: ctrl, handle: h}
	runCtx := g.runCtx
	g.turns.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.turns.Done()
		ctrl.Run(runCtx)
	}()

	if old != nil {
		old.ctrl.Close()
	}
	if replaced != nil && replaced != h {
		slog.Info("gateway: session superseded by a new connection", "identity", identity)
		if err := replaced.Close(); err != nil {
			slog.Debug("gateway: closing superseded handle", "identity", identity, "err", err)
		}
		return
	}
	g.metrics.ActiveSessions.Add(context.Background(), 1)
	g.active.Add(1)
	slog.Info("gateway: session connected", "identity", identity)
}

func (g *Gateway) onDisconnect(identity string, h device.Handle, reason string) {
	if !g.rt.Registry.Release(identity, h) {
		slog.Debug("gateway: ignoring disconnect of a superseded session", "identity", identity, "reason", reason)
		return
	}

	g.mu.Lock()
	e := g.sessions[identity]
	if e != nil && e.handle == h {
		delete(g.sessions, identity)
	} else {
		e = nil
	}
	g.mu.Unlock()

	if e != nil {
		e.ctrl.Close()
	}
	g.metrics.ActiveSessions.Add(context.Background(), -1)
	g.active.Add(-1)
	slog.Info("gateway: session disconnected", "identity", identity, "reason", reason)
}

func (g *Gateway) controller(identity string) *session.Controller {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e := g.sessions[identity]; e != nil {
		return e.ctrl
	}
	return nil
}

func (g *Gateway) onTranscription(identity string, ev device.TranscriptionEvent) {
	ctrl := g.controller(identity)
	if ctrl == nil {
		slog.Debug("gateway: transcription for unknown session", "identity", identity)
		return
	}
	ctrl.Submit(session.TranscriptionEvent(ev))
}

func (g *Gateway) onPhoto(identity string, ev device.PhotoEvent) {
	ctrl := g.controller(identity)
	if ctrl == nil {
		slog.Debug("gateway: photo for unknown session", "identity", identity)
		return
	}
	ctrl.Submit(session.PhotoEvent(ev))
}
