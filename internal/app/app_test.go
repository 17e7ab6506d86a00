package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/mentrabridge/internal/agent"
	agentmock "github.com/MrWong99/mentrabridge/internal/agent/mock"
	"github.com/MrWong99/mentrabridge/internal/app"
	"github.com/MrWong99/mentrabridge/internal/config"
	"github.com/MrWong99/mentrabridge/internal/gateway"
	"github.com/MrWong99/mentrabridge/internal/observe"
	"github.com/MrWong99/mentrabridge/pkg/device/wsdevice"
	memorymock "github.com/MrWong99/mentrabridge/pkg/memory/mock"
)

const apiKey = "device-key"

// testConfig returns a defaulted config with a device key and a temp media dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Device: config.DeviceConfig{APIKey: apiKey},
		Agent:  config.AgentConfig{DefaultAgent: "main"},
		Media:  config.MediaConfig{Dir: t.TempDir()},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *httptest.Server) {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		if a.Gateway().State() == gateway.StateRunning {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = a.Gateway().Stop(ctx)
		}
		srv.Close()
		_ = a.Shutdown(context.Background())
	})
	return a, srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var buf strings.Builder
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, []byte(buf.String())
}

func TestNew_Endpoints(t *testing.T) {
	t.Parallel()
	a, srv := newApp(t, testConfig(t), app.WithSessionStore(&memorymock.SessionStore{}))

	if code, _ := get(t, srv.URL+"/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before start = %d, want 503", code)
	}
	if code, _ := get(t, srv.URL+"/mentra/health"); code != http.StatusNotFound {
		t.Errorf("/mentra/health before start = %d, want 404", code)
	}

	code, body := get(t, srv.URL+"/status")
	if code != http.StatusOK {
		t.Fatalf("/status = %d", code)
	}
	var st gateway.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Running || st.AccountID != config.DefaultAccountID {
		t.Errorf("status = %+v", st)
	}

	if err := a.Gateway().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusOK {
		t.Errorf("/readyz after start = %d, want 200", code)
	}
	code, body = get(t, srv.URL+"/mentra/health")
	if code != http.StatusOK || !strings.Contains(string(body), `"running":true`) {
		t.Errorf("/mentra/health = %d %s", code, body)
	}
}

func TestApp_DeviceRoundTrip(t *testing.T) {
	t.Parallel()
	d := &agentmock.Dispatcher{
		Replies: []agent.Reply{{Kind: agent.ReplyFinal, Text: "Four"}},
	}
	cfg := testConfig(t)
	a, srv := newApp(t, cfg, app.WithDispatcher(d))
	if err := a.Gateway().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + cfg.Device.WSPath + "?user=alice&token=" + apiKey
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	msg, _ := json.Marshal(wsdevice.Frame{Type: wsdevice.FrameTranscription, Text: "Hey Mentra, what is two plus two?", Final: true})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var f wsdevice.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if f.Type == wsdevice.FrameSpeak && f.Track == "response" {
			if f.Text != "Four" {
				t.Errorf("response = %q, want Four", f.Text)
			}
			break
		}
	}

	envs := d.Envelopes()
	if len(envs) != 1 {
		t.Fatalf("dispatched %d envelopes, want 1", len(envs))
	}
	st := a.Gateway().Status()
	if st.LastInboundAt.IsZero() || st.LastOutboundAt.IsZero() {
		t.Errorf("activity not recorded: %+v", st)
	}
	if len(st.Sessions) != 1 || st.Sessions[0].Identity != "alice" {
		t.Errorf("sessions = %+v, want [alice]", st.Sessions)
	}

	code, body := get(t, srv.URL+"/sessions/alice/history?limit=5")
	if code != http.StatusOK {
		t.Fatalf("history = %d %s", code, body)
	}
	var history []struct {
		From string `json:"from"`
		Body string `json:"body"`
	}
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].From != "alice" || !strings.Contains(history[0].Body, "two plus two") {
		t.Errorf("history = %+v", history)
	}
}

func TestApp_HistoryErrors(t *testing.T) {
	t.Parallel()
	_, srv := newApp(t, testConfig(t))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"never spoke", "/sessions/nobody/history", http.StatusNotFound},
		{"bad limit", "/sessions/alice/history?limit=abc", http.StatusBadRequest},
		{"zero limit", "/sessions/alice/history?limit=0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if code, body := get(t, srv.URL+tt.path); code != tt.want {
				t.Errorf("GET %s = %d %s, want %d", tt.path, code, body, tt.want)
			}
		})
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()
	level := new(slog.LevelVar)
	cfg := testConfig(t)
	a, _ := newApp(t, cfg, app.WithLevelVar(level))

	if got := level.Level(); got != slog.LevelInfo {
		t.Fatalf("initial level = %v, want info", got)
	}

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	a.ApplyConfig(cfg, &next)
	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("level after reload = %v, want debug", got)
	}
}

func TestDynamicRoutes(t *testing.T) {
	t.Parallel()
	d := app.NewDynamicRoutes()
	d.Mount("/probe", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	serve := func(path string) int {
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	if got := serve("/probe"); got != http.StatusTeapot {
		t.Errorf("mounted = %d, want 418", got)
	}
	if got := serve("/other"); got != http.StatusNotFound {
		t.Errorf("unknown = %d, want 404", got)
	}
	d.Unmount("/probe")
	if got := serve("/probe"); got != http.StatusNotFound {
		t.Errorf("unmounted = %d, want 404", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Gateway().State() != gateway.StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Gateway().State() != gateway.StateStopped {
		t.Errorf("gateway state = %q after Run", a.Gateway().State())
	}
}
