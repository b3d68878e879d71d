// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider transcribes one short, already-windowed stretch of mono audio
// per call. Windowing and silence gating happen upstream, so providers are
// simple request/response wrappers around a local engine (whisper.cpp) or
// a network service (Deepgram, OpenAI). Exactly one provider is active per
// process; callers never branch on which.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when Transcribe receives no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts samples (mono, normalized to [-1, 1], at
	// sampleRate) to text. Implementations fill Text and, where known,
	// Confidence; Engine and Latency may be left for the caller.
	// A successful call with no speech returns an empty Text and nil error.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Transcript, error)

	// Name returns the engine identifier reported in transcripts.
	Name() string
}
