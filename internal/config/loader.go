package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Device
	if cfg.Device.APIKey == "" {
		slog.Warn("device.api_key is empty; the gateway will refuse to start")
	}
	for name, p := range map[string]string{"device.ws_path": cfg.Device.WSPath, "device.health_path": cfg.Device.HealthPath} {
		if p != "" && !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("%s %q must start with '/'", name, p))
		}
	}
	if cfg.Device.WSPath != "" && cfg.Device.WSPath == cfg.Device.HealthPath {
		errs = append(errs, fmt.Errorf("device.ws_path and device.health_path must differ (both %q)", cfg.Device.WSPath))
	}
	if cfg.Device.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("device.event_buffer %d must not be negative", cfg.Device.EventBuffer))
	}

	// Gate
	g := cfg.Gate
	if g.EchoOverlapThreshold < 0 || g.EchoOverlapThreshold > 1 {
		errs = append(errs, fmt.Errorf("gate.echo_overlap_threshold %.2f is out of range [0, 1]", g.EchoOverlapThreshold))
	}
	for name, d := range map[string]int64{
		"gate.listen_window":   int64(g.ListenWindow),
		"gate.speech_floor":    int64(g.SpeechFloor),
		"gate.speech_per_word": int64(g.SpeechPerWord),
		"gate.speech_padding":  int64(g.SpeechPadding),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	for i, w := range g.WakeWords {
		if strings.TrimSpace(w) == "" {
			errs = append(errs, fmt.Errorf("gate.wake_words[%d] is empty", i))
		}
	}
	for i, w := range g.DeviceNames {
		if strings.TrimSpace(w) == "" {
			errs = append(errs, fmt.Errorf("gate.device_names[%d] is empty", i))
		}
	}

	// Agent
	if cfg.Agent.URL == "" {
		slog.Warn("agent.url is empty; inbound messages cannot be answered")
	} else if u, err := url.Parse(cfg.Agent.URL); err != nil {
		errs = append(errs, fmt.Errorf("agent.url %q: %w", cfg.Agent.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("agent.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}
	peersSeen := make(map[string]int, len(cfg.Agent.Bindings))
	for i, b := range cfg.Agent.Bindings {
		prefix := fmt.Sprintf("agent.bindings[%d]", i)
		if b.Peer == "" {
			errs = append(errs, fmt.Errorf("%s.peer is required", prefix))
		} else {
			if prev, ok := peersSeen[b.Peer]; ok {
				errs = append(errs, fmt.Errorf("%s.peer %q is a duplicate of agent.bindings[%d]", prefix, b.Peer, prev))
			}
			peersSeen[b.Peer] = i
		}
		if b.Agent == "" {
			errs = append(errs, fmt.Errorf("%s.agent is required", prefix))
		}
	}
	if cfg.Agent.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("agent.breaker.max_failures %d must not be negative", cfg.Agent.Breaker.MaxFailures))
	}

	// Memory
	if cfg.Memory.StorePath != "" && !strings.Contains(cfg.Memory.StorePath, "{agent}") {
		slog.Warn("memory.store_path has no {agent} placeholder; all agents share one store", "store_path", cfg.Memory.StorePath)
	}

	return errors.Join(errs...)
}
