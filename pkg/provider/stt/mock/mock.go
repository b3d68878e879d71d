// Package mock provides test doubles for the stt package interfaces.
//
// Provider returns a scripted Transcript (or error) and records every call so
// tests can assert on what audio reached the transcriber. Set Delay to
// simulate a slow engine; the delay honours context cancellation.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "jump"}}
//	tr, _ := p.Transcribe(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/gamevox/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the audio passed to Transcribe.
	Samples []float32
	// SampleRate is the rate passed to Transcribe.
	SampleRate int
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// Result is returned by Transcribe when Err is nil.
	Result stt.Transcript

	// TranscribeFunc, if set, overrides Result and Err.
	TranscribeFunc func(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error)

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Delay is waited before returning. A cancelled context ends the wait
	// early with ctx.Err().
	Delay time.Duration

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Name returns EngineName or "mock".
func (p *Provider) Name() string {
	if p.EngineName != "" {
		return p.EngineName
	}
	return "mock"
}

// Transcribe records the call and returns the scripted result.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	cp := make([]float32, len(samples))
	copy(cp, samples)

	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Samples: cp, SampleRate: sampleRate})
	fn, res, err, delay := p.TranscribeFunc, p.Result, p.Err, p.Delay
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, samples, sampleRate)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Recorded returns a copy of Calls. Thread-safe.
func (p *Provider) Recorded() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.Calls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
