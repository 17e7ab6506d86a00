// Package gate decides which transcriptions from a wearable device are meant
// for the assistant.
//
// A [Gate] owns one session's [ListenState] and applies, in order:
//
//  1. Stop: a lone "stop" always passes and resets all state.
//  2. Speaking suppression: nothing passes while a reply is presumed to be
//     playing.
//  3. Echo: text resembling the last spoken reply is dropped, and the reply
//     text is forgotten.
//  4. Wake: the text must open with the wake phrase unless the follow-up
//     listen window is still open.
//  5. Extraction: the wake phrase is stripped from the command.
//
// The matching helpers ([Normalize], [IsEcho], [EstimateSpeech],
// [WakeMatcher]) are pure and usable on their own.
package gate

import (
	"strings"
	"time"

	"github.com/MrWong99/mentrabridge/internal/config"
)

// DefaultListenWindow is how long after a reply follow-ups skip the wake phrase.
const DefaultListenWindow = 30 * time.Second

// DefaultCommand replaces an empty command after a bare wake phrase.
const DefaultCommand = "hello"

// Reason explains a [Decision].
type Reason string

const (
	ReasonStop     Reason = "stop"
	ReasonWake     Reason = "wake"
	ReasonFollowUp Reason = "follow_up"
	ReasonEmpty    Reason = "empty"
	ReasonSpeaking Reason = "speaking"
	ReasonEcho     Reason = "echo"
	ReasonNoWake   Reason = "no_wake"
)

// Decision is the outcome of evaluating one transcription.
type Decision struct {
	// Accept is true when the utterance should be acted on.
	Accept bool

	// Stop is true for an interrupt command. Stop decisions are accepted
	// but carry no command.
	Stop bool

	// Reason names the rule that decided.
	Reason Reason

	// Command is the text to forward to the agent when Accept is true and
	// Stop is false.
	Command string
}

// Config tunes a [Gate]. Zero values take the package defaults.
type Config struct {
	WakeWords      []string
	DeviceNames    []string
	StopWords      []string
	DefaultCommand string
	Echo           EchoOptions
	ListenWindow   time.Duration
	Speech         SpeechModel
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		WakeWords:      DefaultWakeWords,
		DeviceNames:    DefaultDeviceNames,
		StopWords:      DefaultStopWords,
		DefaultCommand: DefaultCommand,
		Echo:           EchoOptions{Threshold: DefaultEchoThreshold, Phonetic: true},
		ListenWindow:   DefaultListenWindow,
		Speech:         DefaultSpeechModel(),
	}
}

// FromSettings converts the YAML gate section into a Config.
func FromSettings(s config.GateConfig) Config {
	c := DefaultConfig()
	if len(s.WakeWords) > 0 {
		c.WakeWords = s.WakeWords
	}
	if len(s.DeviceNames) > 0 {
		c.DeviceNames = s.DeviceNames
	}
	if len(s.StopWords) > 0 {
		c.StopWords = s.StopWords
	}
	if s.DefaultCommand != "" {
		c.DefaultCommand = s.DefaultCommand
	}
	if s.EchoOverlapThreshold > 0 {
		c.Echo.Threshold = s.EchoOverlapThreshold
	}
	if s.PhoneticEcho != nil {
		c.Echo.Phonetic = *s.PhoneticEcho
	}
	if s.ListenWindow > 0 {
		c.ListenWindow = s.ListenWindow
	}
	if s.SpeechFloor > 0 {
		c.Speech.Floor = s.SpeechFloor
	}
	if s.SpeechPerWord > 0 {
		c.Speech.PerWord = s.SpeechPerWord
	}
	if s.SpeechPadding > 0 {
		c.Speech.Padding = s.SpeechPadding
	}
	return c
}

// Gate is the voice gate of one device session.
// All methods are safe for concurrent use.
type Gate struct {
	cfg   Config
	wake  *WakeMatcher
	stop  *StopMatcher
	state *ListenState
}

// New returns a Gate with a fresh [ListenState].
func New(cfg Config) *Gate {
	d := DefaultConfig()
	if cfg.DefaultCommand == "" {
		cfg.DefaultCommand = d.DefaultCommand
	}
	if cfg.Echo.Threshold <= 0 {
		cfg.Echo.Threshold = d.Echo.Threshold
	}
	if cfg.ListenWindow <= 0 {
		cfg.ListenWindow = d.ListenWindow
	}
	if cfg.Speech == (SpeechModel{}) {
		cfg.Speech = d.Speech
	}
	return &Gate{
		cfg:   cfg,
		wake:  NewWakeMatcher(cfg.WakeWords, cfg.DeviceNames),
		stop:  NewStopMatcher(cfg.StopWords),
		state: &ListenState{},
	}
}

// State exposes the gate's listen state.
func (g *Gate) State() *ListenState { return g.state }

// Config returns the effective configuration.
func (g *Gate) Config() Config { return g.cfg }

// Evaluate decides whether text, transcribed at now, is meant for the
// assistant. It mutates the listen state for stop commands and echoes.
func (g *Gate) Evaluate(text string, now time.Time) Decision {
	if strings.TrimSpace(text) == "" {
		return Decision{Reason: ReasonEmpty}
	}

	if g.stop.Match(text) {
		g.state.Reset()
		return Decision{Accept: true, Stop: true, Reason: ReasonStop}
	}

	snap := g.state.Snapshot()
	if now.Before(snap.SpeakingUntil) {
		return Decision{Reason: ReasonSpeaking}
	}
	if g.state.ConsumeEcho(text, g.cfg.Echo) {
		return Decision{Reason: ReasonEcho}
	}
	listening := now.Before(snap.ListenUntil)

	if cmd, ok := g.wake.ExtractCommand(text, g.cfg.DefaultCommand); ok {
		return Decision{Accept: true, Reason: ReasonWake, Command: cmd}
	}
	if listening {
		return Decision{Accept: true, Reason: ReasonFollowUp, Command: text}
	}
	return Decision{Reason: ReasonNoWake}
}

// BeginResponse records that text is about to be spoken at now. The speaking
// deadline becomes now plus the estimated playback time.
func (g *Gate) BeginResponse(text string, now time.Time) {
	g.state.MarkSpeaking(text, now.Add(g.cfg.Speech.Estimate(text)))
}

// BeginAcknowledgment records that the filler phrase text is about to be
// spoken so the device hearing it is not taken as a command.
func (g *Gate) BeginAcknowledgment(text string) {
	g.state.MarkAcknowledgment(text)
}

// EndResponse opens the follow-up listen window after a reply finished
// speaking at now.
func (g *Gate) EndResponse(now time.Time) {
	g.state.ExtendListen(now.Add(g.cfg.ListenWindow))
}
