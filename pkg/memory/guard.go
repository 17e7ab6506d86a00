package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Guard wraps a [SessionStore] and remembers whether the backend is
// failing. Errors are passed through unchanged; [ErrNotFound] and context
// cancellation do not count as backend failures. A successful call clears
// the degraded state.
//
// Guard implements [SessionStore]. Safe for concurrent use.
type Guard struct {
	store SessionStore

	mu      sync.Mutex
	lastErr error
}

var _ SessionStore = (*Guard)(nil)

// NewGuard wraps store.
func NewGuard(store SessionStore) *Guard {
	return &Guard{store: store}
}

func (g *Guard) observe(op string, err error) error {
	if err != nil && (errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)) {
		return err
	}
	g.mu.Lock()
	was := g.lastErr != nil
	g.lastErr = err
	g.mu.Unlock()

	switch {
	case err != nil && !was:
		slog.Warn("memory: session store degraded", "op", op, "err", err)
	case err == nil && was:
		slog.Info("memory: session store recovered", "op", op)
	}
	return err
}

// RecordInbound implements [SessionStore].
func (g *Guard) RecordInbound(ctx context.Context, rec InboundRecord) error {
	return g.observe("record_inbound", g.store.RecordInbound(ctx, rec))
}

// UpdateLastRoute implements [SessionStore].
func (g *Guard) UpdateLastRoute(ctx context.Context, storePath, sessionKey string, r Route) error {
	return g.observe("update_last_route", g.store.UpdateLastRoute(ctx, storePath, sessionKey, r))
}

// Session implements [SessionStore].
func (g *Guard) Session(ctx context.Context, storePath, sessionKey string) (SessionInfo, error) {
	info, err := g.store.Session(ctx, storePath, sessionKey)
	return info, g.observe("session", err)
}

// Recent implements [SessionStore].
func (g *Guard) Recent(ctx context.Context, storePath, sessionKey string, limit int) ([]Entry, error) {
	entries, err := g.store.Recent(ctx, storePath, sessionKey, limit)
	return entries, g.observe("recent", err)
}

// IsDegraded reports whether the most recent backend call failed.
func (g *Guard) IsDegraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr != nil
}

// Check returns the last backend error, for readiness probes.
func (g *Guard) Check(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastErr != nil {
		return fmt.Errorf("memory: session store degraded: %w", g.lastErr)
	}
	return nil
}
