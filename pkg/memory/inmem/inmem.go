// Package inmem provides an in-process [memory.SessionStore]. Data is lost on
// restart; it backs deployments without a database and tests.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/mentrabridge/pkg/memory"
)

var _ memory.SessionStore = (*Store)(nil)

type sessionKey struct {
	storePath string
	key       string
}

type session struct {
	info    memory.SessionInfo
	entries []memory.Entry
	seen    map[string]struct{}
}

// Store is an in-process session store. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*session
	now      func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[sessionKey]*session),
		now:      time.Now,
	}
}

// RecordInbound implements [memory.SessionStore].
func (s *Store) RecordInbound(_ context.Context, rec memory.InboundRecord) error {
	if rec.SessionKey == "" {
		return fmt.Errorf("inmem: record inbound: empty session key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sessionKey{rec.StorePath, rec.SessionKey}
	now := s.now()
	sess, ok := s.sessions[k]
	if !ok {
		sess = &session{
			info: memory.SessionInfo{
				StorePath:  rec.StorePath,
				SessionKey: rec.SessionKey,
				AgentID:    rec.AgentID,
				CreatedAt:  now,
			},
			seen: make(map[string]struct{}),
		}
		s.sessions[k] = sess
	}
	sess.info.UpdatedAt = now

	if id := rec.Entry.MessageID; id != "" {
		if _, dup := sess.seen[id]; dup {
			return nil
		}
		sess.seen[id] = struct{}{}
	}
	sess.entries = append(sess.entries, rec.Entry)
	return nil
}

// UpdateLastRoute implements [memory.SessionStore].
func (s *Store) UpdateLastRoute(_ context.Context, storePath, key string, r memory.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey{storePath, key}]
	if !ok {
		return memory.ErrNotFound
	}
	sess.info.LastRoute = r
	sess.info.UpdatedAt = s.now()
	return nil
}

// Session implements [memory.SessionStore].
func (s *Store) Session(_ context.Context, storePath, key string) (memory.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{storePath, key}]
	if !ok {
		return memory.SessionInfo{}, memory.ErrNotFound
	}
	info := sess.info
	info.EntryCount = len(sess.entries)
	return info, nil
}

// Recent implements [memory.SessionStore].
func (s *Store) Recent(_ context.Context, storePath, key string, limit int) ([]memory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{storePath, key}]
	if !ok {
		return nil, memory.ErrNotFound
	}
	entries := sess.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]memory.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Ping always succeeds; it lets the store serve as a readiness check.
func (s *Store) Ping(context.Context) error { return nil }
