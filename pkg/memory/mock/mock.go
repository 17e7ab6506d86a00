// Package mock provides a test double for [memory.SessionStore].
//
// The mock records every call for assertion in tests and exposes exported
// fields that control what it returns. It is safe for concurrent use.
//
// Typical usage:
//
//	store := &mock.SessionStore{RecordInboundErr: errors.New("disk full")}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("RecordInbound"); got != 1 {
//	    t.Errorf("expected 1 RecordInbound call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mentrabridge/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// SessionStore is a mock implementation of [memory.SessionStore].
type SessionStore struct {
	mu    sync.Mutex
	calls []Call

	// RecordInboundErr is returned by RecordInbound.
	RecordInboundErr error

	// UpdateLastRouteErr is returned by UpdateLastRoute.
	UpdateLastRouteErr error

	// SessionResult and SessionErr are returned by Session.
	SessionResult memory.SessionInfo
	SessionErr    error

	// RecentResult and RecentErr are returned by Recent.
	RecentResult []memory.Entry
	RecentErr    error
}

var _ memory.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// RecordInbound implements [memory.SessionStore].
func (s *SessionStore) RecordInbound(_ context.Context, rec memory.InboundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("RecordInbound", rec)
	return s.RecordInboundErr
}

// UpdateLastRoute implements [memory.SessionStore].
func (s *SessionStore) UpdateLastRoute(_ context.Context, storePath, sessionKey string, r memory.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateLastRoute", storePath, sessionKey, r)
	return s.UpdateLastRouteErr
}

// Session implements [memory.SessionStore].
func (s *SessionStore) Session(_ context.Context, storePath, sessionKey string) (memory.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Session", storePath, sessionKey)
	return s.SessionResult, s.SessionErr
}

// Recent implements [memory.SessionStore].
func (s *SessionStore) Recent(_ context.Context, storePath, sessionKey string, limit int) ([]memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Recent", storePath, sessionKey, limit)
	return s.RecentResult, s.RecentErr
}

// Calls returns a copy of all recorded calls.
func (s *SessionStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times method was called.
func (s *SessionStore) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (s *SessionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
