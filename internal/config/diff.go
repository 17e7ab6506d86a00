package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GateChanged is set when any voice gate tuning differs. New sessions
	// pick up the new tuning; live sessions keep theirs.
	GateChanged bool

	// RepliesChanged is set when any gateway phrase differs.
	RepliesChanged bool

	// RoutesChanged is set when the default agent or the bindings differ.
	RoutesChanged   bool
	BindingsAdded   []string // peers
	BindingsRemoved []string // peers
	BindingsMoved   []string // peers whose agent changed

	// RestartRequired lists settings that changed but only take effect
	// after a process restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GateChanged && !d.RepliesChanged &&
		!d.RoutesChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.GateChanged = !reflect.DeepEqual(old.Gate, new.Gate)
	d.RepliesChanged = !reflect.DeepEqual(old.Replies, new.Replies)

	oldB := bindingMap(old.Agent.Bindings)
	newB := bindingMap(new.Agent.Bindings)
	for peer, agent := range oldB {
		next, ok := newB[peer]
		switch {
		case !ok:
			d.BindingsRemoved = append(d.BindingsRemoved, peer)
		case next != agent:
			d.BindingsMoved = append(d.BindingsMoved, peer)
		}
	}
	for peer := range newB {
		if _, ok := oldB[peer]; !ok {
			d.BindingsAdded = append(d.BindingsAdded, peer)
		}
	}
	slices.Sort(d.BindingsAdded)
	slices.Sort(d.BindingsRemoved)
	slices.Sort(d.BindingsMoved)
	d.RoutesChanged = old.Agent.DefaultAgent != new.Agent.DefaultAgent ||
		len(d.BindingsAdded)+len(d.BindingsRemoved)+len(d.BindingsMoved) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Device != new.Device {
		d.RestartRequired = append(d.RestartRequired, "device")
	}
	if old.Agent.URL != new.Agent.URL || old.Agent.Token != new.Agent.Token ||
		old.Agent.Timeout != new.Agent.Timeout || old.Agent.Breaker != new.Agent.Breaker {
		d.RestartRequired = append(d.RestartRequired, "agent")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	if old.Media != new.Media {
		d.RestartRequired = append(d.RestartRequired, "media")
	}
	return d
}

func bindingMap(bs []BindingConfig) map[string]string {
	m := make(map[string]string, len(bs))
	for _, b := range bs {
		m[b.Peer] = b.Agent
	}
	return m
}
