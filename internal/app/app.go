// Package app wires the mentrabridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the device gateway until the
// context ends, and Shutdown releases what New acquired.
//
// For testing, inject doubles via functional options (WithSessionStore,
// WithDispatcher, WithListener). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mentrabridge/internal/agent"
	"github.com/MrWong99/mentrabridge/internal/agent/wsagent"
	"github.com/MrWong99/mentrabridge/internal/config"
	"github.com/MrWong99/mentrabridge/internal/dispatch"
	"github.com/MrWong99/mentrabridge/internal/gate"
	"github.com/MrWong99/mentrabridge/internal/gateway"
	"github.com/MrWong99/mentrabridge/internal/health"
	"github.com/MrWong99/mentrabridge/internal/media"
	"github.com/MrWong99/mentrabridge/internal/observe"
	"github.com/MrWong99/mentrabridge/internal/outbound"
	"github.com/MrWong99/mentrabridge/internal/resilience"
	"github.com/MrWong99/mentrabridge/internal/session"
	"github.com/MrWong99/mentrabridge/pkg/device"
	"github.com/MrWong99/mentrabridge/pkg/device/wsdevice"
	"github.com/MrWong99/mentrabridge/pkg/memory"
	"github.com/MrWong99/mentrabridge/pkg/memory/inmem"
	"github.com/MrWong99/mentrabridge/pkg/memory/postgres"
)

// ErrNoAgentBackend is returned by dispatches when agent.url is not set.
var ErrNoAgentBackend = errors.New("app: agent backend not configured")

// shutdownTimeout bounds the HTTP server drain in Run.
const shutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	level   *slog.LevelVar
	metrics *observe.Metrics

	// Subsystems, initialised in New.
	store      memory.SessionStore
	guard      *memory.Guard
	dispatcher agent.Dispatcher
	breaker    *resilience.GuardedDispatcher
	router     *agent.Router
	pipeline   *dispatch.Pipeline
	listener   device.Listener
	runtime    *gateway.Runtime
	gateway    *gateway.Gateway
	routes     *DynamicRoutes
	handler    http.Handler

	// closers are called in order during Shutdown.
	closers []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.store = s }
}

// WithDispatcher injects the agent backend instead of dialing agent.url.
// The circuit breaker still wraps it.
func WithDispatcher(d agent.Dispatcher) Option {
	return func(a *App) { a.dispatcher = d }
}

// WithListener injects the device listener. If l also implements
// http.Handler it is mounted at device.ws_path.
func WithListener(l device.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLevelVar lets hot reload adjust the log level of the caller's handler.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. cfg is expected to
// have passed [config.Validate] and [config.ApplyDefaults].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(slogLevel(cfg.Server.LogLevel))

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	a.initAgent()
	a.initGateway()
	a.initHTTP()
	return a, nil
}

// initMemory selects PostgreSQL when a DSN is configured and the in-process
// store otherwise, then wraps it in a [memory.Guard].
func (a *App) initMemory(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Memory.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
			slog.Info("app: using postgres session store")
		} else {
			a.store = inmem.New()
			slog.Info("app: using in-memory session store")
		}
	}
	a.guard = memory.NewGuard(a.store)
	return nil
}

func (a *App) initAgent() {
	a.router = agent.NewRouter(a.cfg.Agent.DefaultAgent, a.cfg.Agent.Bindings)

	if a.dispatcher == nil {
		if u := a.cfg.Agent.URL; u != "" {
			a.dispatcher = wsagent.New(u,
				wsagent.WithToken(a.cfg.Agent.Token),
				wsagent.WithTimeout(a.cfg.Agent.Timeout),
			)
		} else {
			a.dispatcher = agent.DispatcherFunc(func(context.Context, agent.Envelope, agent.DeliverFunc) (agent.Result, error) {
				return agent.Result{}, ErrNoAgentBackend
			})
		}
	}

	a.breaker = resilience.GuardDispatcher(a.dispatcher, resilience.CircuitBreakerConfig{
		Name:         "agent",
		MaxFailures:  a.cfg.Agent.Breaker.MaxFailures,
		ResetTimeout: a.cfg.Agent.Breaker.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("app: circuit breaker state changed", "breaker", name, "from", from, "to", to)
			a.metrics.RecordBreakerTransition(context.Background(), to.String())
		},
	})
}

func (a *App) initGateway() {
	a.runtime = gateway.NewRuntime(a.cfg.Device.AccountID)

	if a.listener == nil {
		a.listener = wsdevice.New(a.cfg.Device.APIKey)
	}

	a.pipeline = dispatch.New(dispatch.Config{
		Channel:          dispatch.DefaultChannel,
		AccountID:        a.cfg.Device.AccountID,
		StorePath:        a.cfg.Memory.StorePath,
		PhotoPlaceholder: a.cfg.Replies.PhotoPlaceholder,
	}, a.router, a.guard, a.breaker,
		dispatch.WithMedia(media.NewFileStore(a.cfg.Media.Dir)),
		dispatch.WithActivity(a.runtime.Status),
		dispatch.WithMetrics(a.metrics),
	)
	speaker := outbound.New(a.runtime.Registry,
		outbound.WithActivity(a.runtime.Status),
		outbound.WithMetrics(a.metrics),
	)

	a.routes = NewDynamicRoutes()
	a.gateway = gateway.New(gateway.Config{
		Credential: a.cfg.Device.APIKey,
		Channel:    dispatch.DefaultChannel,
		HealthPath: a.cfg.Device.HealthPath,
		Session: session.Config{
			Gate:    gate.FromSettings(a.cfg.Gate),
			Replies: session.RepliesFromSettings(a.cfg.Replies),
			Buffer:  a.cfg.Device.EventBuffer,
		},
	}, a.runtime, a.listener, a.pipeline, speaker,
		gateway.WithRoutes(a.routes),
		gateway.WithMetrics(a.metrics),
	)
}

func (a *App) initHTTP() {
	checks := []health.Checker{
		{Name: "memory", Check: a.guard.Check},
		{Name: "gateway", Check: func(context.Context) error {
			if !a.gateway.Running() {
				return errors.New("device listener not running")
			}
			return nil
		}},
	}
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, health.Checker{Name: "store", Check: p.Ping})
	}

	r := chi.NewRouter()
	r.Use(observe.Middleware(a.metrics))
	health.New(checks...).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", a.serveStatus)
	r.Get("/sessions/{identity}/history", a.serveHistory)
	if h, ok := a.listener.(http.Handler); ok {
		r.Handle(a.cfg.Device.WSPath, h)
	}
	r.NotFound(a.routes.ServeHTTP)
	a.handler = r
}

func (a *App) serveStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(a.gateway.Status())
}

// defaultHistoryLimit caps /sessions/{identity}/history without ?limit.
const defaultHistoryLimit = 20

// historyEntry is one recorded message as served by the history endpoint.
type historyEntry struct {
	MessageID string    `json:"messageId"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	MediaPath string    `json:"mediaPath,omitempty"`
	MediaType string    `json:"mediaType,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *App) serveHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	identity := chi.URLParam(r, "identity")
	entries, err := a.pipeline.History(r.Context(), identity, limit)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		http.Error(w, "no history for "+identity, http.StatusNotFound)
		return
	case errors.Is(err, agent.ErrEmptyPeer):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		observe.Logger(r.Context()).Error("app: failed to load history", "identity", identity, "err", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			MessageID: e.MessageID,
			From:      e.From,
			Body:      e.Body,
			MediaPath: e.MediaPath,
			MediaType: e.MediaType,
			Timestamp: e.Timestamp,
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

// Handler returns the HTTP handler serving health, metrics, status and the
// device endpoint.
func (a *App) Handler() http.Handler { return a.handler }

// Gateway returns the device gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Run serves HTTP on server.listen_addr and runs the gateway until ctx is
// cancelled. A gateway that fails to start is logged; the process keeps
// serving health and metrics.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := a.gateway.Run(gctx); err != nil {
			slog.Error("app: gateway failed", "err", err)
		}
		return nil
	})

	slog.Info("app running", "ws_path", a.cfg.Device.WSPath)
	return g.Wait()
}

// ApplyConfig hot-applies the parts of next that can change at runtime and
// warns about the rest. It is the [config.Watcher] callback.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.RoutesChanged {
		a.router.Update(next.Agent.DefaultAgent, next.Agent.Bindings)
		slog.Info("app: agent routes updated",
			"added", d.BindingsAdded,
			"removed", d.BindingsRemoved,
			"moved", d.BindingsMoved,
		)
	}
	if d.GateChanged || d.RepliesChanged {
		a.gateway.ApplyConfig(gate.FromSettings(next.Gate), session.RepliesFromSettings(next.Replies))
		slog.Info("app: gate and replies updated for new sessions")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart", "fields", d.RestartRequired)
	}
}

// Shutdown releases everything New acquired. It respects the context
// deadline: if ctx expires before all closers finish, the remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
