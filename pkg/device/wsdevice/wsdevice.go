// Package wsdevice implements [device.Listener] over WebSocket.
//
// Devices (or the companion app relaying for them) connect to the listener's
// HTTP handler with their identity in the "user" query parameter and the
// gateway API key as a bearer token (or "token" query parameter). Every
// message is a JSON [Frame] in a text message:
//
//	device → gateway   {"type":"transcription","text":"hey mentra","final":true,"language":"en-US"}
//	device → gateway   {"type":"photo","data":"<base64>","mimeType":"image/jpeg"}
//	gateway → device   {"type":"speak","text":"Four","track":"response","interrupt":true}
//	gateway → device   {"type":"stop_audio"}
package wsdevice

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mentrabridge/pkg/device"
)

// Frame types.
const (
	FrameTranscription = "transcription"
	FramePhoto         = "photo"
	FrameSpeak         = "speak"
	FrameStopAudio     = "stop_audio"
)

// defaultReadLimit leaves room for a base64 camera frame.
const defaultReadLimit = 16 << 20

// Frame is the JSON message exchanged with devices.
type Frame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Final     bool   `json:"final,omitempty"`
	Language  string `json:"language,omitempty"`
	Data      string `json:"data,omitempty"`
	MIMEType  string `json:"mimeType,omitempty"`
	Track     string `json:"track,omitempty"`
	Interrupt bool   `json:"interrupt,omitempty"`
}

// ErrStopped is returned by speak calls on a closed connection.
var ErrStopped = errors.New("wsdevice: connection closed")

// Option configures a [Listener].
type Option func(*Listener)

// WithReadLimit sets the maximum size of one inbound frame.
func WithReadLimit(n int64) Option {
	return func(l *Listener) { l.readLimit = n }
}

// WithOriginPatterns allows browser clients from the given origins.
func WithOriginPatterns(patterns ...string) Option {
	return func(l *Listener) { l.originPatterns = patterns }
}

// Listener accepts device WebSocket sessions. It is an [http.Handler];
// mount it on the device path. Requests are refused with 503 while the
// listener is not started.
type Listener struct {
	apiKey         string
	readLimit      int64
	originPatterns []string

	mu       sync.Mutex
	active   bool
	handlers device.Handlers
	ctx      context.Context
	cancel   context.CancelFunc
	conns    map[*conn]struct{}
	wg       sync.WaitGroup
}

var (
	_ device.Listener = (*Listener)(nil)
	_ http.Handler    = (*Listener)(nil)
)

// New returns a stopped Listener that authenticates devices with apiKey.
func New(apiKey string, opts ...Option) *Listener {
	l := &Listener{
		apiKey:    apiKey,
		readLimit: defaultReadLimit,
		conns:     make(map[*conn]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start implements [device.Listener]. Connections live until Stop or until
// ctx is cancelled.
func (l *Listener) Start(ctx context.Context, h device.Handlers) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return errors.New("wsdevice: already started")
	}
	if l.apiKey == "" {
		return errors.New("wsdevice: no api key configured")
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.handlers = h
	l.active = true
	return nil
}

// Stop implements [device.Listener]. It closes every open session and waits
// for their read loops until ctx expires.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return nil
	}
	l.active = false
	conns := make([]*conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	cancel := l.cancel
	l.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.StatusGoingAway, "gateway stopping")
	}
	cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wsdevice: stop: %w", ctx.Err())
	}
}

// Active implements [device.Listener].
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Listener) authorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(l.apiKey)) == 1
}

// ServeHTTP upgrades an authenticated device request and runs its session.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	active, ctx, handlers := l.active, l.ctx, l.handlers
	if active {
		l.wg.Add(1)
	}
	l.mu.Unlock()
	if !active {
		http.Error(w, "device listener not running", http.StatusServiceUnavailable)
		return
	}
	defer l.wg.Done()

	if !l.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	identity := strings.TrimSpace(r.URL.Query().Get("user"))
	if identity == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: l.originPatterns})
	if err != nil {
		slog.Warn("wsdevice: upgrade failed", "identity", identity, "err", err)
		return
	}
	ws.SetReadLimit(l.readLimit)

	c := &conn{ws: ws, identity: identity}
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		c.closeWith(websocket.StatusGoingAway, "gateway stopping")
		return
	}
	l.conns[c] = struct{}{}
	l.mu.Unlock()

	slog.Info("wsdevice: device connected", "identity", identity, "remote", r.RemoteAddr)
	if handlers.OnConnect != nil {
		handlers.OnConnect(identity, c)
	}

	reason := c.readLoop(ctx, handlers)

	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
	c.closeWith(websocket.StatusNormalClosure, "")

	slog.Info("wsdevice: device disconnected", "identity", identity, "reason", reason)
	if handlers.OnDisconnect != nil {
		handlers.OnDisconnect(identity, c, reason)
	}
}

// conn is the [device.Handle] of one WebSocket session.
type conn struct {
	ws       *websocket.Conn
	identity string

	closeOnce sync.Once
}

var _ device.Handle = (*conn)(nil)

func (c *conn) write(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("wsdevice: marshal %s: %w", f.Type, err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsdevice: write %s: %w", f.Type, err)
	}
	return nil
}

// Speak implements [device.Handle].
func (c *conn) Speak(ctx context.Context, text string, opts device.SpeakOptions) error {
	return c.write(ctx, Frame{
		Type:      FrameSpeak,
		Text:      text,
		Track:     string(opts.Track),
		Interrupt: opts.InterruptOthers,
	})
}

// StopAudio implements [device.Handle].
func (c *conn) StopAudio(ctx context.Context) error {
	return c.write(ctx, Frame{Type: FrameStopAudio})
}

// Close implements [device.Handle]. It is used when a newer connection for
// the same identity supersedes this one.
func (c *conn) Close() error {
	c.closeWith(websocket.StatusPolicyViolation, "superseded by a newer session")
	return nil
}

func (c *conn) closeWith(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		go func() { _ = c.ws.Close(code, reason) }()
	})
}

// readLoop delivers inbound frames until the connection ends and returns
// the disconnect reason.
func (c *conn) readLoop(ctx context.Context, h device.Handlers) string {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return disconnectReason(ctx, err)
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Debug("wsdevice: ignoring malformed frame", "identity", c.identity, "err", err)
			continue
		}
		now := time.Now()

		switch f.Type {
		case FrameTranscription:
			if h.OnTranscription != nil {
				h.OnTranscription(c.identity, device.TranscriptionEvent{
					Text:     f.Text,
					Final:    f.Final,
					Language: f.Language,
					At:       now,
				})
			}
		case FramePhoto:
			img, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil || len(img) == 0 {
				slog.Warn("wsdevice: ignoring undecodable photo", "identity", c.identity, "err", err)
				continue
			}
			if h.OnPhoto != nil {
				h.OnPhoto(c.identity, device.PhotoEvent{Data: img, MIMEType: f.MIMEType, At: now})
			}
		default:
			slog.Debug("wsdevice: ignoring frame", "identity", c.identity, "type", f.Type)
		}
	}
}

func disconnectReason(ctx context.Context, err error) string {
	if status := websocket.CloseStatus(err); status != -1 {
		return "closed: " + status.String()
	}
	if ctx.Err() != nil {
		return "gateway stopping"
	}
	return err.Error()
}
