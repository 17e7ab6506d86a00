package gate_test

import (
	"testing"

	"github.com/MrWong99/mentrabridge/internal/gate"
)

func TestWakeMatcher_ExtractCommand(t *testing.T) {
	t.Parallel()

	m := gate.NewWakeMatcher(nil, nil)

	tests := []struct {
		text     string
		wantCmd  string
		wantWake bool
	}{
		{"Hey Mentra what's two plus two", "what's two plus two", true},
		{"hey mentra", "hello", true},
		{"Hey, Mentra! Turn on the lights.", "Turn on the lights.", true},
		{"Hi mantra, what time is it?", "what time is it?", true},
		{"...hey mentra, hello", "hello", true},
		{"Um, hey Mentra, what's up", "what's up", true},
		{"HEY MENTOR -- read that sign", "read that sign", true},
		{"Hey Mentrah what", "what", true},
		{"Hey Mentra.", "hello", true},
		{"hey men tra what", "what", true},
		{"I told mentra hello", "I told mentra hello", false},
		{"hey there", "hey there", false},
		{"hey men", "hey men", false},
		{"mentra what time is it", "mentra what time is it", false},
		{"hey martha how are you", "hey martha how are you", false},
		{"hey mentally", "hey mentally", false},
		{"hey manta ray", "hey manta ray", false},
		{"Hey Mendra what", "what", true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			cmd, woke := m.ExtractCommand(tt.text, "hello")
			if woke != tt.wantWake {
				t.Fatalf("ExtractCommand(%q) wake = %v, want %v", tt.text, woke, tt.wantWake)
			}
			if cmd != tt.wantCmd {
				t.Errorf("ExtractCommand(%q) = %q, want %q", tt.text, cmd, tt.wantCmd)
			}
		})
	}
}

func TestWakeMatcher_PhoneticDeviceName(t *testing.T) {
	t.Parallel()

	m := gate.NewWakeMatcher(nil, nil)
	wm, ok := m.Match("Hey Mendra what time is it")
	if !ok {
		t.Fatal("Match(\"Hey Mendra ...\") = false, want true")
	}
	if !wm.Phonetic {
		t.Error("Phonetic = false, want true")
	}
	if wm.Remainder != "what time is it" {
		t.Errorf("Remainder = %q, want %q", wm.Remainder, "what time is it")
	}
	if wm.Prefix != "Hey Mendra" {
		t.Errorf("Prefix = %q, want %q", wm.Prefix, "Hey Mendra")
	}
}

func TestWakeMatcher_CustomNames(t *testing.T) {
	t.Parallel()

	m := gate.NewWakeMatcher([]string{"yo"}, []string{"jarvis"})
	if cmd, ok := m.ExtractCommand("yo jarvis lights on", "hi"); !ok || cmd != "lights on" {
		t.Errorf("ExtractCommand = (%q, %v), want (%q, true)", cmd, ok, "lights on")
	}
	if _, ok := m.Match("hey jarvis lights on"); ok {
		t.Error("Match with unconfigured greeting = true, want false")
	}
}

func TestIsStopCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"stop", true},
		{"Stop.", true},
		{"  STOP!! ", true},
		{"stop?", true},
		{"stop talking", false},
		{"don't stop", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := gate.IsStopCommand(tt.text); got != tt.want {
			t.Errorf("IsStopCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestStopMatcher_CustomWords(t *testing.T) {
	t.Parallel()

	m := gate.NewStopMatcher([]string{"stop", "quiet"})
	if !m.Match("Quiet!") {
		t.Error("Match(\"Quiet!\") = false, want true")
	}
	if m.Match("be quiet") {
		t.Error("Match(\"be quiet\") = true, want false")
	}
}
