package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/mentrabridge/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "server.log_level",
		},
		{
			name:    "relative ws path",
			yaml:    "device:\n  ws_path: ws\n",
			wantErr: "device.ws_path",
		},
		{
			name:    "ws path equals health path",
			yaml:    "device:\n  ws_path: /same\n  health_path: /same\n",
			wantErr: "must differ",
		},
		{
			name:    "echo threshold out of range",
			yaml:    "gate:\n  echo_overlap_threshold: 1.5\n",
			wantErr: "gate.echo_overlap_threshold",
		},
		{
			name:    "negative listen window",
			yaml:    "gate:\n  listen_window: -1s\n",
			wantErr: "gate.listen_window",
		},
		{
			name:    "blank device name",
			yaml:    "gate:\n  device_names: [mentra, \" \"]\n",
			wantErr: "gate.device_names[1]",
		},
		{
			name:    "bad agent scheme",
			yaml:    "agent:\n  url: http://localhost/agent\n",
			wantErr: "agent.url scheme",
		},
		{
			name:    "binding missing agent",
			yaml:    "agent:\n  bindings:\n    - peer: alice\n",
			wantErr: "agent.bindings[0].agent",
		},
		{
			name:    "duplicate binding",
			yaml:    "agent:\n  bindings:\n    - peer: alice\n      agent: a\n    - peer: alice\n      agent: b\n",
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Agent: config.AgentConfig{
			Bindings: []config.BindingConfig{{Peer: ""}},
		},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "agent.bindings[0].peer", "agent.bindings[0].agent"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q does not mention %q", err, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.AccountID != "glasses" {
		t.Errorf("account_id: got %q, want %q", cfg.Device.AccountID, "glasses")
	}
}
