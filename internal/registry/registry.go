// Package registry tracks which devices are currently reachable for replies.
package registry

import (
	"sync"
	"time"

	"github.com/MrWong99/mentrabridge/pkg/device"
)

// Session is one connected device.
type Session struct {
	Identity  string
	Handle    device.Handle
	CreatedAt time.Time
}

// Registry maps device identities to their live outbound handle. At most one
// session exists per identity. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Register records h as the session for identity. If another handle was
// registered for identity it is returned as replaced; the caller owns it and
// is expected to close it.
func (r *Registry) Register(identity string, h device.Handle) (replaced device.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sessions[identity]; ok && prev.Handle != h {
		replaced = prev.Handle
	}
	r.sessions[identity] = Session{Identity: identity, Handle: h, CreatedAt: r.now()}
	return replaced
}

// Lookup returns the handle registered for identity.
func (r *Registry) Lookup(identity string) (device.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s.Handle, ok
}

// Session returns the full session entry for identity.
func (r *Registry) Session(identity string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// Remove forgets identity regardless of which handle is registered.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, identity)
}

// Release forgets identity only if h is still its registered handle. A late
// disconnect from a superseded connection therefore leaves the newer session
// in place. It reports whether an entry was removed.
func (r *Registry) Release(identity string, h device.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[identity]
	if !ok || s.Handle != h {
		return false
	}
	delete(r.sessions, identity)
	return true
}

// ClearAll forgets every session and returns the handles that were registered.
func (r *Registry) ClearAll() []device.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Handle, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Handle)
	}
	clear(r.sessions)
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Identities returns the registered identities in no particular order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
