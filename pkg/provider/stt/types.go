package stt

import "time"

// Transcript is the result of transcribing one audio window.
type Transcript struct {
	// Text is the transcribed speech, trimmed. Empty means nothing usable
	// was heard.
	Text string

	// Engine names the provider that produced the text (e.g. "whisper").
	Engine string

	// Latency is the wall-clock time the provider took.
	Latency time.Duration

	// Confidence is the provider's overall confidence (0.0–1.0). Zero when
	// the provider does not report one.
	Confidence float64
}

// Empty reports whether the transcript carries no text.
func (t Transcript) Empty() bool { return t.Text == "" }

// KeywordBoost is a recognition hint for a word the provider should favour,
// such as a command word.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g. "jump").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
