package outbound_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/mentrabridge/internal/gate"
	"github.com/MrWong99/mentrabridge/internal/observe"
	"github.com/MrWong99/mentrabridge/internal/outbound"
	"github.com/MrWong99/mentrabridge/internal/registry"
	"github.com/MrWong99/mentrabridge/pkg/device"
	"github.com/MrWong99/mentrabridge/pkg/device/mock"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type activity struct {
	mu  sync.Mutex
	ats []time.Time
}

func (a *activity) RecordOutbound(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ats = append(a.ats, at)
}

func (a *activity) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ats)
}

func newDelivery(t *testing.T, reg *registry.Registry, act *activity, now func() time.Time) *outbound.Delivery {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return outbound.New(reg,
		outbound.WithActivity(act),
		outbound.WithMetrics(m),
		outbound.WithClock(now),
	)
}

func TestSpeakResponse_UpdatesGate(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	h := &mock.Handle{}
	reg.Register("u1", h)
	act := &activity{}

	// The clock advances one second per call: BeginResponse at t0,
	// activity at t0+1s, EndResponse at t0+2s.
	var mu sync.Mutex
	now := t0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n := now
		now = now.Add(time.Second)
		return n
	}
	d := newDelivery(t, reg, act, clock)
	g := gate.New(gate.DefaultConfig())

	if !d.SpeakResponse(context.Background(), "u1", "Four", g) {
		t.Fatal("SpeakResponse = false")
	}

	calls := h.Spoken()
	if len(calls) != 1 {
		t.Fatalf("speak calls = %d, want 1", len(calls))
	}
	want := device.SpeakOptions{Track: device.TrackResponse, InterruptOthers: true}
	if calls[0].Text != "Four" || calls[0].Opts != want {
		t.Errorf("speak = %+v, want Four %+v", calls[0], want)
	}

	snap := g.State().Snapshot()
	if snap.RecentTTS != "Four" {
		t.Errorf("RecentTTS = %q, want Four", snap.RecentTTS)
	}
	if want := t0.Add(2 * time.Second); !snap.SpeakingUntil.Equal(want) {
		t.Errorf("SpeakingUntil = %v, want %v", snap.SpeakingUntil, want)
	}
	if want := t0.Add(2*time.Second + gate.DefaultListenWindow); !snap.ListenUntil.Equal(want) {
		t.Errorf("ListenUntil = %v, want %v", snap.ListenUntil, want)
	}
	if act.count() != 1 {
		t.Errorf("outbound activity = %d, want 1", act.count())
	}
}

func TestSpeakResponse_FailureKeepsListenWindowClosed(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	reg.Register("u1", &mock.Handle{SpeakErr: errors.New("socket closed")})
	act := &activity{}
	d := newDelivery(t, reg, act, func() time.Time { return t0 })
	g := gate.New(gate.DefaultConfig())

	if d.SpeakResponse(context.Background(), "u1", "Four", g) {
		t.Fatal("SpeakResponse = true on device error")
	}
	snap := g.State().Snapshot()
	if !snap.ListenUntil.IsZero() {
		t.Errorf("ListenUntil = %v, want zero", snap.ListenUntil)
	}
	if snap.RecentTTS != "Four" {
		t.Errorf("RecentTTS = %q, want Four (marked before playback)", snap.RecentTTS)
	}
	if act.count() != 0 {
		t.Errorf("outbound activity recorded for failed speak")
	}
}

func TestSpeak_UnknownIdentityIsNoop(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	h := &mock.Handle{}
	reg.Register("u1", h)
	reg.Remove("u1")
	d := newDelivery(t, reg, &activity{}, time.Now)

	if d.Speak(context.Background(), "u1", "hello", device.SpeakOptions{Track: device.TrackResponse}) {
		t.Error("Speak to a removed session = true")
	}
	if len(h.Spoken()) != 0 {
		t.Error("removed handle was spoken to")
	}
	if d.Interrupt(context.Background(), "u1") {
		t.Error("Interrupt of a removed session = true")
	}
}

func TestAcknowledge(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	h := &mock.Handle{}
	reg.Register("u1", h)
	d := newDelivery(t, reg, &activity{}, time.Now)

	if d.Acknowledge(context.Background(), "u1", "") {
		t.Error("empty acknowledgment was spoken")
	}
	if !d.Acknowledge(context.Background(), "u1", "Got it.") {
		t.Fatal("Acknowledge = false")
	}
	calls := h.Spoken()
	if len(calls) != 1 {
		t.Fatalf("speak calls = %d, want 1", len(calls))
	}
	if calls[0].Opts.Track != device.TrackAcknowledgment || calls[0].Opts.InterruptOthers {
		t.Errorf("ack opts = %+v", calls[0].Opts)
	}
}

func TestSpeakApology_NoListenWindow(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	reg.Register("u1", &mock.Handle{})
	d := newDelivery(t, reg, &activity{}, func() time.Time { return t0 })
	g := gate.New(gate.DefaultConfig())

	if !d.SpeakApology(context.Background(), "u1", "Sorry, something went wrong.", g) {
		t.Fatal("SpeakApology = false")
	}
	snap := g.State().Snapshot()
	if !snap.ListenUntil.IsZero() {
		t.Errorf("ListenUntil = %v, want zero", snap.ListenUntil)
	}
	if snap.SpeakingUntil.IsZero() {
		t.Error("SpeakingUntil not set for apology")
	}
}

func TestInterrupt(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	ok := &mock.Handle{}
	bad := &mock.Handle{StopAudioErr: errors.New("gone")}
	reg.Register("ok", ok)
	reg.Register("bad", bad)
	d := newDelivery(t, reg, &activity{}, time.Now)

	if !d.Interrupt(context.Background(), "ok") {
		t.Error("Interrupt(ok) = false")
	}
	if d.Interrupt(context.Background(), "bad") {
		t.Error("Interrupt(bad) = true")
	}
	if ok.StopAudioCount() != 1 || bad.StopAudioCount() != 1 {
		t.Errorf("stop counts = %d, %d", ok.StopAudioCount(), bad.StopAudioCount())
	}
}
