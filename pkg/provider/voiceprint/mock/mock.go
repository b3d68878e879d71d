// Package mock provides a test double for voiceprint.Extractor.
//
// By default Extract returns Embedding. Set ExtractFunc to derive the
// embedding from the audio, Delay to simulate a slow model, or Err to fail:
//
//	ex := &mock.Extractor{Embedding: []float32{1, 0, 0}}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
)

// Extractor is a mock implementation of voiceprint.Extractor.
type Extractor struct {
	mu sync.Mutex

	// Embedding is returned by Extract when ExtractFunc is nil.
	Embedding []float32

	// ExtractFunc, if set, computes the result instead of Embedding.
	ExtractFunc func(samples []float32) ([]float32, error)

	// Err, if non-nil, is returned by Extract.
	Err error

	// Delay makes Extract wait before returning, honouring ctx.
	Delay time.Duration

	// Dims is returned by Dimensions. Defaults to len(Embedding).
	Dims int

	// Calls counts Extract invocations.
	Calls int

	// Closed is set by Close.
	Closed bool
}

// Extract records the call and returns the configured result.
func (e *Extractor) Extract(ctx context.Context, samples []float32, _ int) ([]float32, error) {
	e.mu.Lock()
	e.Calls++
	delay, err, fn, emb := e.Delay, e.Err, e.ExtractFunc, e.Embedding
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(samples)
	}
	return append([]float32(nil), emb...), nil
}

// Dimensions returns Dims or len(Embedding).
func (e *Extractor) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Dims > 0 {
		return e.Dims
	}
	return len(e.Embedding)
}

// Close marks the extractor closed.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	return nil
}

// CallCount returns the number of Extract calls.
func (e *Extractor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Calls
}

var _ voiceprint.Extractor = (*Extractor)(nil)
