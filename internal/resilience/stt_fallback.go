package resilience

import (
	"context"

	"github.com/MrWong99/gamevox/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across engines, for
// example a local whisper server backed by a cloud engine.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns a failover provider preferring primary.
func NewSTTFallback(primary stt.Provider, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primary.Name(), cfg)}
}

// AddFallback registers another engine, tried after the existing ones.
func (f *STTFallback) AddFallback(p stt.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Name is the primary engine's name.
func (f *STTFallback) Name() string { return f.group.Primary() }

// Available reports whether any engine's breaker is closed or probing.
func (f *STTFallback) Available() bool { return f.group.Available() }

// States reports breaker state per engine.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Transcribe returns the first engine's transcript. Engine is always the
// name of the engine that answered, so events show when a fallback served.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	tr, served, err := Call(f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, samples, sampleRate)
	})
	if err != nil {
		return stt.Transcript{}, err
	}
	tr.Engine = served
	return tr, nil
}
