package gate

import "time"

// Speech duration defaults used to predict how long synthesized audio keeps
// playing on the device.
const (
	DefaultSpeechFloor   = 2000 * time.Millisecond
	DefaultSpeechPerWord = 130 * time.Millisecond
	DefaultSpeechPadding = 1000 * time.Millisecond
)

// SpeechModel estimates playback duration from text length.
type SpeechModel struct {
	Floor   time.Duration
	PerWord time.Duration
	Padding time.Duration
}

// DefaultSpeechModel returns the model behind [EstimateSpeech].
func DefaultSpeechModel() SpeechModel {
	return SpeechModel{
		Floor:   DefaultSpeechFloor,
		PerWord: DefaultSpeechPerWord,
		Padding: DefaultSpeechPadding,
	}
}

// Estimate returns max(Floor, words(text)*PerWord + Padding).
func (m SpeechModel) Estimate(text string) time.Duration {
	d := time.Duration(WordCount(text))*m.PerWord + m.Padding
	return max(d, m.Floor)
}

// EstimateSpeech estimates playback duration with the default model.
//
//	EstimateSpeech("hello there") == 2000ms
//	EstimateSpeech(<20 words>)   == 3600ms
func EstimateSpeech(text string) time.Duration {
	return DefaultSpeechModel().Estimate(text)
}
