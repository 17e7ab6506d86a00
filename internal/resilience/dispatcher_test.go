package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/mentrabridge/internal/agent"
	"github.com/MrWong99/mentrabridge/internal/agent/mock"
)

func TestGuardDispatcher_PassesThrough(t *testing.T) {
	t.Parallel()
	backend := &mock.Dispatcher{
		Replies: []agent.Reply{{Kind: agent.ReplyFinal, Text: "Four"}},
		Result:  agent.Result{QueuedFinal: true},
	}
	g := GuardDispatcher(backend, CircuitBreakerConfig{})

	var got []string
	res, err := g.Dispatch(context.Background(), agent.Envelope{Body: "2+2"}, func(_ context.Context, r agent.Reply) error {
		got = append(got, r.Text)
		return nil
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.QueuedFinal {
		t.Error("QueuedFinal = false, want true")
	}
	if len(got) != 1 || got[0] != "Four" {
		t.Errorf("delivered = %v, want [Four]", got)
	}
}

func TestGuardDispatcher_FailsFastWhenOpen(t *testing.T) {
	t.Parallel()
	backend := &mock.Dispatcher{Err: errBackend}
	g := GuardDispatcher(backend, CircuitBreakerConfig{MaxFailures: 2})
	ctx := context.Background()

	for range 2 {
		if _, err := g.Dispatch(ctx, agent.Envelope{}, nil); !errors.Is(err, errBackend) {
			t.Fatalf("err = %v, want errBackend", err)
		}
	}
	if g.State() != StateOpen {
		t.Fatalf("state = %v, want open", g.State())
	}

	_, err := g.Dispatch(ctx, agent.Envelope{}, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if n := backend.CallCount(); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}
