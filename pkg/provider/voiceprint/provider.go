// Package voiceprint defines the Extractor interface for speaker-embedding
// backends.
//
// An extractor maps a stretch of mono audio to a fixed-length vector that
// summarizes the speaker's voice. Vectors from the same extractor can be
// compared with cosine similarity; vectors from different extractors (or
// different models) cannot.
//
// Implementations must be safe for concurrent use.
package voiceprint

import (
	"context"
	"errors"
)

// ErrTooShort is returned when the audio is too short to yield an
// embedding.
var ErrTooShort = errors.New("voiceprint: audio too short")

// Extractor is the abstraction over any speaker-embedding backend.
type Extractor interface {
	// Extract computes an embedding for samples (normalized to [-1, 1]) at
	// sampleRate. The result has length Dimensions(). It need not be
	// normalized; callers normalize before comparing.
	Extract(ctx context.Context, samples []float32, sampleRate int) ([]float32, error)

	// Dimensions returns the fixed length of every embedding.
	Dimensions() int

	// Close releases model resources.
	Close() error
}
