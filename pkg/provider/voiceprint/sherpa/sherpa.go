// Package sherpa extracts speaker embeddings with sherpa-onnx's
// SpeakerEmbeddingExtractor (3D-Speaker, WeSpeaker or NeMo models).
package sherpa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
)

var _ voiceprint.Extractor = (*Extractor)(nil)

// Option configures an [Extractor].
type Option func(*sherpa.SpeakerEmbeddingExtractorConfig)

// WithThreads sets the inference thread count. Default: 1.
func WithThreads(n int) Option {
	return func(c *sherpa.SpeakerEmbeddingExtractorConfig) { c.NumThreads = n }
}

// WithProvider selects the ONNX execution provider ("cpu", "cuda",
// "coreml"). Default: "cpu".
func WithProvider(p string) Option {
	return func(c *sherpa.SpeakerEmbeddingExtractorConfig) { c.Provider = p }
}

// Extractor wraps a sherpa-onnx speaker embedding extractor.
type Extractor struct {
	mu  sync.Mutex
	ex  *sherpa.SpeakerEmbeddingExtractor
	dim int
}

// New loads the model at modelPath.
func New(modelPath string, opts ...Option) (*Extractor, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("sherpa voiceprint: model: %w", err)
	}
	cfg := sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      modelPath,
		NumThreads: 1,
		Provider:   "cpu",
	}
	for _, o := range opts {
		o(&cfg)
	}
	ex := sherpa.NewSpeakerEmbeddingExtractor(&cfg)
	if ex == nil {
		return nil, fmt.Errorf("sherpa voiceprint: failed to load %s", modelPath)
	}
	return &Extractor{ex: ex, dim: ex.Dim()}, nil
}

// Dimensions returns the model's embedding size.
func (e *Extractor) Dimensions() int { return e.dim }

// Extract feeds samples through a fresh stream and computes the embedding.
func (e *Extractor) Extract(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	if len(samples) == 0 {
		return nil, voiceprint.ErrTooShort
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ex == nil {
		return nil, errors.New("sherpa voiceprint: extractor closed")
	}

	stream := e.ex.CreateStream()
	defer sherpa.DeleteOnlineStream(stream)
	stream.AcceptWaveform(sampleRate, samples)
	stream.InputFinished()

	if !e.ex.IsReady(stream) {
		return nil, voiceprint.ErrTooShort
	}
	return e.ex.Compute(stream), nil
}

// Close frees the native extractor.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ex != nil {
		sherpa.DeleteSpeakerEmbeddingExtractor(e.ex)
		e.ex = nil
	}
	return nil
}
