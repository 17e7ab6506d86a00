// Package agent connects the gateway to the agent backend that answers
// device messages.
//
// Three pieces make up the contract:
//
//   - [Router] resolves which agent, and which conversation of that agent,
//     a device belongs to.
//   - [Envelope] is the structured inbound message handed to the backend.
//   - [Dispatcher] sends an envelope and streams reply chunks back through
//     a [DeliverFunc].
package agent

import (
	"context"
	"errors"
)

// ErrEmptyPeer is returned when a route is requested for an empty identity.
var ErrEmptyPeer = errors.New("agent: empty peer identity")

// ReplyKind classifies a reply chunk.
type ReplyKind string

const (
	// ReplyBlock is an intermediate block of a streamed reply.
	ReplyBlock ReplyKind = "block"

	// ReplyFinal is the terminal reply of a turn.
	ReplyFinal ReplyKind = "final"

	// ReplyTool is a tool result surfaced to the user.
	ReplyTool ReplyKind = "tool"
)

// Reply is one chunk of reply text produced by the backend.
type Reply struct {
	Text string    `json:"text"`
	Kind ReplyKind `json:"kind"`
}

// DeliverFunc receives reply chunks in arrival order. Returning an error
// aborts the dispatch.
type DeliverFunc func(ctx context.Context, r Reply) error

// Result describes a completed dispatch.
type Result struct {
	// QueuedFinal is true when the backend queued a terminal reply.
	QueuedFinal bool `json:"queuedFinal"`

	// Counts is the number of delivered chunks per kind.
	Counts map[ReplyKind]int `json:"counts"`
}

// Dispatcher hands envelopes to the agent backend.
//
// Implementations must be safe for concurrent use.
type Dispatcher interface {
	// Dispatch sends env and calls deliver zero or more times before
	// returning.
	Dispatch(ctx context.Context, env Envelope, deliver DeliverFunc) (Result, error)
}

// DispatcherFunc adapts a function to [Dispatcher].
type DispatcherFunc func(ctx context.Context, env Envelope, deliver DeliverFunc) (Result, error)

// Dispatch implements [Dispatcher].
func (f DispatcherFunc) Dispatch(ctx context.Context, env Envelope, deliver DeliverFunc) (Result, error) {
	return f(ctx, env, deliver)
}
