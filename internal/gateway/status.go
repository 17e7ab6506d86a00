package gateway

import (
	"sync"
	"time"
)

// Status is a point-in-time view of the gateway, polled by monitoring.
type Status struct {
	AccountID      string    `json:"accountId"`
	Running        bool      `json:"running"`
	LastStartAt    time.Time `json:"lastStartAt,omitzero"`
	LastStopAt     time.Time `json:"lastStopAt,omitzero"`
	LastError      *string   `json:"lastError"`
	LastInboundAt  time.Time `json:"lastInboundAt,omitzero"`
	LastOutboundAt time.Time `json:"lastOutboundAt,omitzero"`

	// Sessions lists the connected devices, ordered by identity. Filled
	// by [Gateway.Status]; the tracker leaves it nil.
	Sessions []SessionStatus `json:"sessions"`
}

// SessionStatus describes one connected device.
type SessionStatus struct {
	Identity    string    `json:"identity"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// StatusTracker owns the gateway's [Status]. The lifecycle fields are written
// by the [Gateway] only; activity timestamps are recorded by the dispatch and
// outbound hooks. Safe for concurrent use.
type StatusTracker struct {
	mu sync.RWMutex
	s  Status
}

// NewStatusTracker returns a tracker for a stopped gateway.
func NewStatusTracker(accountID string) *StatusTracker {
	return &StatusTracker{s: Status{AccountID: accountID}}
}

// Snapshot returns a copy of the current status.
func (t *StatusTracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s
}

// RecordInbound notes device input at at.
func (t *StatusTracker) RecordInbound(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.s.LastInboundAt) {
		t.s.LastInboundAt = at
	}
}

// RecordOutbound notes speech sent to a device at at.
func (t *StatusTracker) RecordOutbound(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.s.LastOutboundAt) {
		t.s.LastOutboundAt = at
	}
}

func (t *StatusTracker) markStarted(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Running = true
	t.s.LastStartAt = at
	t.s.LastError = nil
}

func (t *StatusTracker) markStopped(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Running = false
	t.s.LastStopAt = at
}

func (t *StatusTracker) markFailed(err error) {
	msg := err.Error()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Running = false
	t.s.LastError = &msg
}
