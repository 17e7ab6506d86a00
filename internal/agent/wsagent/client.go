// Package wsagent implements [agent.Dispatcher] over a WebSocket link to the
// agent backend.
//
// Each dispatch opens its own connection, sends one dispatch frame and reads
// reply frames until the backend reports completion:
//
//	→ {"type":"dispatch","id":"…","envelope":{…}}
//	← {"type":"reply","id":"…","reply":{"kind":"block","text":"…"}}
//	← {"type":"done","id":"…","result":{"queuedFinal":true,"counts":{"final":1}}}
//	← {"type":"error","id":"…","message":"…"}
package wsagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/mentrabridge/internal/agent"
)

const (
	frameDispatch = "dispatch"
	frameReply    = "reply"
	frameDone     = "done"
	frameError    = "error"

	defaultTimeout = 60 * time.Second

	// maxFrameBytes bounds a single reply frame.
	maxFrameBytes = 1 << 20
)

// ErrBackend wraps errors reported by the backend itself.
var ErrBackend = errors.New("wsagent: backend error")

// Frame is the wire format of every message on the agent link.
type Frame struct {
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Envelope *agent.Envelope `json:"envelope,omitempty"`
	Reply    *agent.Reply    `json:"reply,omitempty"`
	Result   *agent.Result   `json:"result,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Option configures a [Client].
type Option func(*Client)

// WithToken sets the Bearer token sent when dialing.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds a single dispatch, including all reply frames.
// Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client dispatches envelopes to a WebSocket agent backend.
// Safe for concurrent use.
type Client struct {
	url        string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

var _ agent.Dispatcher = (*Client)(nil)

// New returns a Client for the backend at url (ws:// or wss://).
func New(url string, opts ...Option) *Client {
	c := &Client{url: url, timeout: defaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dispatch implements [agent.Dispatcher].
func (c *Client) Dispatch(ctx context.Context, env agent.Envelope, deliver agent.DeliverFunc) (agent.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dialOpts := &websocket.DialOptions{HTTPClient: c.httpClient}
	if c.token != "" {
		dialOpts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}
	conn, _, err := websocket.Dial(ctx, c.url, dialOpts)
	if err != nil {
		return agent.Result{}, fmt.Errorf("wsagent: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	id := uuid.NewString()
	req, err := json.Marshal(Frame{Type: frameDispatch, ID: id, Envelope: &env})
	if err != nil {
		return agent.Result{}, fmt.Errorf("wsagent: marshal dispatch: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		return agent.Result{}, fmt.Errorf("wsagent: send dispatch: %w", err)
	}

	counts := make(map[agent.ReplyKind]int)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return agent.Result{Counts: counts}, fmt.Errorf("wsagent: read: %w", err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return agent.Result{Counts: counts}, fmt.Errorf("wsagent: decode frame: %w", err)
		}
		if f.ID != "" && f.ID != id {
			continue
		}

		switch f.Type {
		case frameReply:
			if f.Reply == nil {
				continue
			}
			counts[f.Reply.Kind]++
			if deliver != nil {
				if err := deliver(ctx, *f.Reply); err != nil {
					conn.Close(websocket.StatusNormalClosure, "delivery aborted")
					return agent.Result{Counts: counts}, fmt.Errorf("wsagent: deliver: %w", err)
				}
			}
		case frameDone:
			conn.Close(websocket.StatusNormalClosure, "done")
			res := agent.Result{Counts: counts}
			if f.Result != nil {
				res.QueuedFinal = f.Result.QueuedFinal
				for k, n := range f.Result.Counts {
					res.Counts[k] = max(res.Counts[k], n)
				}
			}
			return res, nil
		case frameError:
			conn.Close(websocket.StatusNormalClosure, "error received")
			return agent.Result{Counts: counts}, fmt.Errorf("%w: %s", ErrBackend, f.Message)
		}
	}
}
