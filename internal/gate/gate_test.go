package gate_test

import (
	"testing"
	"time"

	"github.com/MrWong99/mentrabridge/internal/config"
	"github.com/MrWong99/mentrabridge/internal/gate"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGate_WakeAndReplyScenario(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultConfig())

	d := g.Evaluate("Hey Mentra what's two plus two", t0)
	if !d.Accept || d.Reason != gate.ReasonWake {
		t.Fatalf("wake decision = %+v, want accepted wake", d)
	}
	if d.Command != "what's two plus two" {
		t.Errorf("Command = %q, want %q", d.Command, "what's two plus two")
	}

	// Reply "Four" is spoken at T.
	T := t0.Add(800 * time.Millisecond)
	g.BeginResponse("Four", T)
	snap := g.State().Snapshot()
	if want := T.Add(2000 * time.Millisecond); !snap.SpeakingUntil.Equal(want) {
		t.Errorf("SpeakingUntil = %v, want %v", snap.SpeakingUntil, want)
	}
	if snap.RecentTTS != "Four" {
		t.Errorf("RecentTTS = %q, want %q", snap.RecentTTS, "Four")
	}
	g.EndResponse(T)
	if want := T.Add(30 * time.Second); !g.State().Snapshot().ListenUntil.Equal(want) {
		t.Errorf("ListenUntil = %v, want %v", g.State().Snapshot().ListenUntil, want)
	}

	// Still playing.
	if d := g.Evaluate("for", T.Add(time.Second)); d.Accept || d.Reason != gate.ReasonSpeaking {
		t.Errorf("during playback decision = %+v, want rejected speaking", d)
	}

	// Self-heard echo once playback ended.
	if d := g.Evaluate("for", T.Add(2500*time.Millisecond)); d.Accept || d.Reason != gate.ReasonEcho {
		t.Errorf("echo decision = %+v, want rejected echo", d)
	}
	if got := g.State().Snapshot().RecentTTS; got != "" {
		t.Errorf("RecentTTS after echo = %q, want empty", got)
	}

	// Follow-up without wake phrase inside the window.
	d = g.Evaluate("what about three plus three", T.Add(5*time.Second))
	if !d.Accept || d.Reason != gate.ReasonFollowUp {
		t.Fatalf("follow-up decision = %+v, want accepted follow_up", d)
	}
	if d.Command != "what about three plus three" {
		t.Errorf("Command = %q, want raw text", d.Command)
	}
}

func TestGate_ListenWindowBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		offset time.Duration
		accept bool
	}{
		{"inside window", 29 * time.Second, true},
		{"after window", 31 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := gate.New(gate.DefaultConfig())
			g.EndResponse(t0)
			d := g.Evaluate("and tomorrow", t0.Add(tt.offset))
			if d.Accept != tt.accept {
				t.Errorf("Evaluate at T+%v accept = %v, want %v (reason %s)", tt.offset, d.Accept, tt.accept, d.Reason)
			}
		})
	}
}

func TestGate_NoWakeRejected(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultConfig())
	d := g.Evaluate("what's the weather like", t0)
	if d.Accept || d.Reason != gate.ReasonNoWake {
		t.Errorf("decision = %+v, want rejected no_wake", d)
	}
}

func TestGate_EmptyRejected(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultConfig())
	if d := g.Evaluate("   ", t0); d.Accept || d.Reason != gate.ReasonEmpty {
		t.Errorf("decision = %+v, want rejected empty", d)
	}
}

func TestGate_StopAlwaysWinsAndResets(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"Stop.", "stop"} {
		t.Run(text, func(t *testing.T) {
			t.Parallel()
			g := gate.New(gate.DefaultConfig())
			g.BeginResponse("a long answer about many things", t0)
			g.EndResponse(t0)

			// Inside the speaking window, stop still passes.
			d := g.Evaluate(text, t0.Add(100*time.Millisecond))
			if !d.Accept || !d.Stop || d.Reason != gate.ReasonStop {
				t.Fatalf("decision = %+v, want accepted stop", d)
			}
			snap := g.State().Snapshot()
			if !snap.ListenUntil.IsZero() || !snap.SpeakingUntil.IsZero() || snap.RecentTTS != "" {
				t.Errorf("state after stop = %+v, want zero", snap)
			}
		})
	}
}

func TestGate_AcceptsWhenNotEchoAndWoken(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultConfig())
	g.BeginResponse("the weather today is sunny", t0)

	after := t0.Add(5 * time.Second)
	d := g.Evaluate("weather today is sunny", after)
	if d.Accept || d.Reason != gate.ReasonEcho {
		t.Fatalf("decision = %+v, want rejected echo", d)
	}

	// The echo is consumed, so a distinct wake utterance passes.
	d = g.Evaluate("hey mentra what time is it", after)
	if !d.Accept || d.Command != "what time is it" {
		t.Errorf("decision = %+v, want accepted \"what time is it\"", d)
	}
}

func TestGate_AcknowledgmentEcho(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reply  string
		heard  string
		reason gate.Reason
	}{
		{"acknowledgment heard back", "Four", "Let me check.", gate.ReasonEcho},
		{"reply heard back first", "Four", "four", gate.ReasonEcho},
		{"unrelated follow-up", "Four", "and the weather", gate.ReasonFollowUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := gate.New(gate.DefaultConfig())
			g.BeginAcknowledgment("Let me check.")
			g.BeginResponse(tt.reply, t0)
			g.EndResponse(t0)

			after := t0.Add(10 * time.Second)
			if d := g.Evaluate(tt.heard, after); d.Reason != tt.reason {
				t.Fatalf("Evaluate(%q) reason = %s, want %s", tt.heard, d.Reason, tt.reason)
			}
			if tt.reason != gate.ReasonEcho {
				return
			}
			// Each remembered phrase suppresses one transcription only.
			if d := g.Evaluate(tt.heard, after); !d.Accept || d.Reason != gate.ReasonFollowUp {
				t.Errorf("second %q = %+v, want accepted follow-up", tt.heard, d)
			}
		})
	}
}

func TestListenState_ResetForgetsAcknowledgment(t *testing.T) {
	t.Parallel()

	var s gate.ListenState
	s.MarkAcknowledgment("On it.")
	s.Reset()
	if snap := s.Snapshot(); snap.RecentAck != "" {
		t.Errorf("RecentAck after Reset = %q", snap.RecentAck)
	}
	if s.ConsumeEcho("on it", gate.EchoOptions{Threshold: gate.DefaultEchoThreshold}) {
		t.Error("ConsumeEcho after Reset = true, want false")
	}
}

func TestGate_DeadlinesOnlyMoveForward(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.DefaultConfig())
	g.EndResponse(t0.Add(10 * time.Second))
	g.EndResponse(t0)
	if want := t0.Add(40 * time.Second); !g.State().Snapshot().ListenUntil.Equal(want) {
		t.Errorf("ListenUntil = %v, want %v", g.State().Snapshot().ListenUntil, want)
	}

	g.BeginResponse("one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty", t0)
	g.BeginResponse("ok", t0)
	snap := g.State().Snapshot()
	if want := t0.Add(3600 * time.Millisecond); !snap.SpeakingUntil.Equal(want) {
		t.Errorf("SpeakingUntil = %v, want %v", snap.SpeakingUntil, want)
	}
	if snap.RecentTTS != "ok" {
		t.Errorf("RecentTTS = %q, want newest reply %q", snap.RecentTTS, "ok")
	}
}

func TestFromSettings(t *testing.T) {
	t.Parallel()

	off := false
	cfg := gate.FromSettings(config.GateConfig{
		DeviceNames:          []string{"jarvis"},
		DefaultCommand:       "hi",
		EchoOverlapThreshold: 0.8,
		PhoneticEcho:         &off,
		ListenWindow:         10 * time.Second,
		SpeechFloor:          time.Second,
	})
	if cfg.DeviceNames[0] != "jarvis" {
		t.Errorf("DeviceNames = %v", cfg.DeviceNames)
	}
	if len(cfg.WakeWords) != len(gate.DefaultWakeWords) {
		t.Errorf("WakeWords = %v, want defaults", cfg.WakeWords)
	}
	if cfg.Echo.Threshold != 0.8 || cfg.Echo.Phonetic {
		t.Errorf("Echo = %+v, want {0.8 false}", cfg.Echo)
	}
	if cfg.ListenWindow != 10*time.Second {
		t.Errorf("ListenWindow = %v, want 10s", cfg.ListenWindow)
	}
	if cfg.Speech.Floor != time.Second || cfg.Speech.PerWord != gate.DefaultSpeechPerWord {
		t.Errorf("Speech = %+v", cfg.Speech)
	}

	g := gate.New(cfg)
	if d := g.Evaluate("hey jarvis", t0); d.Command != "hi" {
		t.Errorf("Command = %q, want %q", d.Command, "hi")
	}
}

func TestListenState_ConsumeEcho(t *testing.T) {
	t.Parallel()
	opts := gate.EchoOptions{Threshold: gate.DefaultEchoThreshold, Phonetic: true}

	var s gate.ListenState
	if s.ConsumeEcho("anything", opts) {
		t.Fatal("ConsumeEcho with no spoken text = true")
	}

	s.MarkSpeaking("The weather is sunny today", time.Time{})
	if s.ConsumeEcho("pizza for dinner", opts) {
		t.Error("unrelated text consumed as echo")
	}
	if got := s.Snapshot().RecentTTS; got == "" {
		t.Fatal("non-matching text cleared the spoken reply")
	}
	if !s.ConsumeEcho("weather is sunny", opts) {
		t.Fatal("echo not detected")
	}
	if got := s.Snapshot().RecentTTS; got != "" {
		t.Errorf("RecentTTS after echo = %q, want empty", got)
	}
	if s.ConsumeEcho("weather is sunny", opts) {
		t.Error("same echo consumed twice")
	}
}
