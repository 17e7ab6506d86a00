// Package mock provides a test double for [agent.Dispatcher].
//
// Set Replies to the chunks the backend should stream and Result/Err for the
// completion; inspect Envelopes afterwards.
//
//	d := &mock.Dispatcher{
//	    Replies: []agent.Reply{{Kind: agent.ReplyFinal, Text: "Four"}},
//	    Result:  agent.Result{QueuedFinal: true},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mentrabridge/internal/agent"
)

// Dispatcher is a mock implementation of [agent.Dispatcher].
type Dispatcher struct {
	mu sync.Mutex

	// Replies are delivered in order before Dispatch returns.
	Replies []agent.Reply

	// Result is returned on success. Counts is filled from Replies when nil.
	Result agent.Result

	// Err is returned after the replies were delivered.
	Err error

	// DispatchFunc, if set, replaces the canned behaviour entirely.
	DispatchFunc func(ctx context.Context, env agent.Envelope, deliver agent.DeliverFunc) (agent.Result, error)

	envelopes []agent.Envelope
}

var _ agent.Dispatcher = (*Dispatcher)(nil)

// Dispatch implements [agent.Dispatcher].
func (d *Dispatcher) Dispatch(ctx context.Context, env agent.Envelope, deliver agent.DeliverFunc) (agent.Result, error) {
	d.mu.Lock()
	d.envelopes = append(d.envelopes, env)
	fn := d.DispatchFunc
	replies := append([]agent.Reply(nil), d.Replies...)
	res, err := d.Result, d.Err
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, env, deliver)
	}

	counts := make(map[agent.ReplyKind]int)
	for _, r := range replies {
		counts[r.Kind]++
		if deliver != nil {
			if derr := deliver(ctx, r); derr != nil {
				return agent.Result{Counts: counts}, derr
			}
		}
	}
	if err != nil {
		return agent.Result{Counts: counts}, err
	}
	if res.Counts == nil {
		res.Counts = counts
	}
	return res, nil
}

// Envelopes returns a copy of every dispatched envelope.
func (d *Dispatcher) Envelopes() []agent.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]agent.Envelope, len(d.envelopes))
	copy(out, d.envelopes)
	return out
}

// CallCount returns how many times Dispatch was called.
func (d *Dispatcher) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.envelopes)
}
