// Package memory defines the conversation session store the gateway writes
// inbound device messages to, so the agent backend sees one continuous
// conversation per device.
//
// A session is addressed by a store path (where the agent's sessions live,
// see [ResolveStorePath]) and a session key (which conversation, as produced
// by route resolution). The interface is public so that external packages
// can supply alternative backends.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("memory: session not found")

// AgentPlaceholder is replaced by the agent id in store path templates.
const AgentPlaceholder = "{agent}"

// Entry is one inbound message recorded against a session.
type Entry struct {
	// MessageID identifies the message. Recording the same MessageID twice
	// is a no-op.
	MessageID string

	// Channel is the channel tag the message arrived on (e.g., "mentra").
	Channel string

	// From is the sender identity.
	From string

	// Body is the message text or a media placeholder.
	Body string

	// MediaPath and MediaType reference a persisted attachment, if any.
	MediaPath string
	MediaType string

	Timestamp time.Time
}

// Route is where replies for a session should be addressed.
type Route struct {
	Channel   string
	To        string
	AccountID string
}

// InboundRecord bundles everything needed to record an inbound message.
type InboundRecord struct {
	StorePath  string
	SessionKey string
	AgentID    string
	Entry      Entry
}

// SessionInfo describes a stored session.
type SessionInfo struct {
	StorePath  string
	SessionKey string
	AgentID    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastRoute  Route
	EntryCount int
}

// SessionStore persists conversation sessions.
type SessionStore interface {
	// RecordInbound creates the session if missing and appends rec.Entry.
	RecordInbound(ctx context.Context, rec InboundRecord) error

	// UpdateLastRoute sets the reply address of an existing session.
	// It returns ErrNotFound when the session does not exist.
	UpdateLastRoute(ctx context.Context, storePath, sessionKey string, r Route) error

	// Session returns metadata for a session or ErrNotFound.
	Session(ctx context.Context, storePath, sessionKey string) (SessionInfo, error)

	// Recent returns up to limit of the newest entries, oldest first.
	// limit <= 0 returns all entries.
	Recent(ctx context.Context, storePath, sessionKey string, limit int) ([]Entry, error)
}

// ResolveStorePath expands the store path template for agentID. A template
// without the placeholder is returned unchanged.
func ResolveStorePath(template, agentID string) string {
	return strings.ReplaceAll(template, AgentPlaceholder, agentID)
}
