package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/mentrabridge/internal/agent"
)

// GuardedDispatcher is an [agent.Dispatcher] behind a [CircuitBreaker].
type GuardedDispatcher struct {
	next agent.Dispatcher
	cb   *CircuitBreaker
}

var _ agent.Dispatcher = (*GuardedDispatcher)(nil)

// GuardDispatcher wraps next with a breaker built from cfg.
func GuardDispatcher(next agent.Dispatcher, cfg CircuitBreakerConfig) *GuardedDispatcher {
	if cfg.Name == "" {
		cfg.Name = "agent"
	}
	return &GuardedDispatcher{next: next, cb: NewCircuitBreaker(cfg)}
}

// Dispatch implements [agent.Dispatcher]. While the breaker is open it fails
// with an error wrapping [ErrCircuitOpen] without contacting the backend.
func (g *GuardedDispatcher) Dispatch(ctx context.Context, env agent.Envelope, deliver agent.DeliverFunc) (agent.Result, error) {
	var res agent.Result
	err := g.cb.Execute(func() error {
		var err error
		res, err = g.next.Dispatch(ctx, env, deliver)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("resilience: dispatch: %w", err)
	}
	return res, nil
}

// State reports the breaker state. Used by readiness checks.
func (g *GuardedDispatcher) State() State {
	return g.cb.State()
}
