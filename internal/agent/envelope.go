package agent

import (
	"fmt"
	"strings"
	"time"
)

// Envelope is an inbound device message in the shape the agent backend expects.
type Envelope struct {
	MessageID  string    `json:"messageId"`
	Channel    string    `json:"channel"`
	AccountID  string    `json:"accountId"`
	From       string    `json:"from"`
	AgentID    string    `json:"agentId"`
	SessionKey string    `json:"sessionKey"`
	Body       string    `json:"body"`
	RawBody    string    `json:"rawBody"`
	MediaPath  string    `json:"mediaPath,omitempty"`
	MediaType  string    `json:"mediaType,omitempty"`
	Language   string    `json:"language,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	// CorrelationID ties the turn's gateway logs and spans to the agent
	// backend's handling of this message.
	CorrelationID string `json:"correlationId,omitempty"`
}

// EnvelopeInput is what [FormatEnvelope] needs to build an [Envelope].
type EnvelopeInput struct {
	MessageID     string
	CorrelationID string
	Channel       string
	AccountID     string
	From          string
	Route         Route
	Text          string
	MediaPath     string
	MediaType     string
	Language      string
	Timestamp     time.Time
}

// FormatEnvelope builds the envelope for in. Body carries a header naming
// the channel, sender and time so the agent can tell who is talking:
//
//	[Mentra u1 2026-03-01T12:00:00Z] what's two plus two
func FormatEnvelope(in EnvelopeInput) Envelope {
	ts := in.Timestamp.UTC()
	var b strings.Builder
	fmt.Fprintf(&b, "[%s %s %s] %s", channelLabel(in.Channel), in.From, ts.Format(time.RFC3339), in.Text)
	if in.MediaPath != "" {
		fmt.Fprintf(&b, "\n[media attached: %s (%s)]", in.MediaPath, in.MediaType)
	}
	return Envelope{
		MessageID:     in.MessageID,
		Channel:       in.Channel,
		AccountID:     in.AccountID,
		From:          in.From,
		AgentID:       in.Route.AgentID,
		SessionKey:    in.Route.SessionKey,
		Body:          b.String(),
		RawBody:       in.Text,
		MediaPath:     in.MediaPath,
		MediaType:     in.MediaType,
		Language:      in.Language,
		Timestamp:     ts,
		CorrelationID: in.CorrelationID,
	}
}

// channelLabel capitalizes a channel tag for display.
func channelLabel(tag string) string {
	if tag == "" {
		return "Unknown"
	}
	return strings.ToUpper(tag[:1]) + tag[1:]
}
