// Package fbank is a model-free speaker embedding built from cepstral
// statistics.
//
// Each utterance is turned into log-mel frames, decorrelated with a DCT
// into cepstra, and pooled into the per-coefficient mean and standard
// deviation of the frames whose energy is within 30 dB of the loudest. The result is far weaker than a neural
// encoder but is deterministic, dependency-free at runtime, and good enough
// to tell a small group of players apart. It is the default extractor.
package fbank

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
)

var _ voiceprint.Extractor = (*Extractor)(nil)

const (
	defaultCepstra = 20
	// frames more than this far below the loudest frame are ignored
	energyFloorDB = 30.0
)

// Option configures an [Extractor].
type Option func(*Extractor)

// WithCepstra sets how many cepstral coefficients (excluding c0) are pooled.
// The embedding has 2*n dimensions. Default: 20.
func WithCepstra(n int) Option {
	return func(e *Extractor) { e.cepstra = n }
}

// WithMelConfig overrides the filterbank front end.
func WithMelConfig(cfg MelConfig) Option {
	return func(e *Extractor) { e.melCfg = cfg }
}

// Extractor is the cepstral-statistics voiceprint extractor.
type Extractor struct {
	melCfg  MelConfig
	cepstra int

	mu  sync.Mutex
	mel *Mel
	dct *fourier.DCT
}

// New returns an extractor. It never fails; the error return keeps the
// constructor shape of the model-backed extractors.
func New(opts ...Option) (*Extractor, error) {
	e := &Extractor{melCfg: DefaultMelConfig(), cepstra: defaultCepstra}
	for _, o := range opts {
		o(e)
	}
	if e.cepstra < 1 || e.cepstra >= e.melCfg.NMels {
		return nil, fmt.Errorf("fbank: cepstra must be in [1, %d), got %d", e.melCfg.NMels, e.cepstra)
	}
	e.mel = NewMel(e.melCfg)
	e.dct = fourier.NewDCT(e.melCfg.NMels)
	return e, nil
}

// Dimensions returns 2 × cepstra (means then standard deviations).
func (e *Extractor) Dimensions() int { return 2 * e.cepstra }

// Extract computes the embedding. Audio at a rate other than the front
// end's is rejected: normalization happens upstream.
func (e *Extractor) Extract(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	if sampleRate != e.melCfg.SampleRate {
		return nil, fmt.Errorf("fbank: sample rate %d, want %d", sampleRate, e.melCfg.SampleRate)
	}
	if e.mel.Frames(len(samples)) < 2 {
		return nil, voiceprint.ErrTooShort
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	spec := e.mel.Compute(samples)
	ceps := make([][]float64, len(spec))
	energy := make([]float64, len(spec))
	for i, frame := range spec {
		energy[i] = stat.Mean(frame, nil)
		c := e.dct.Transform(nil, frame)
		ceps[i] = c[1 : e.cepstra+1]
	}
	e.mu.Unlock()

	voiced := selectVoiced(ceps, energy)
	if len(voiced) < 2 {
		return nil, voiceprint.ErrTooShort
	}

	out := make([]float32, 2*e.cepstra)
	col := make([]float64, len(voiced))
	for k := range e.cepstra {
		for i, c := range voiced {
			col[i] = c[k]
		}
		mean, std := stat.MeanStdDev(col, nil)
		out[k] = float32(mean)
		out[e.cepstra+k] = float32(std)
	}
	for _, v := range out {
		if math.IsNaN(float64(v)) {
			return nil, fmt.Errorf("fbank: non-finite embedding")
		}
	}
	return out, nil
}

// Close is a no-op.
func (e *Extractor) Close() error { return nil }

// selectVoiced keeps frames whose mean log band power is within
// energyFloorDB of the loudest frame.
func selectVoiced(ceps [][]float64, energy []float64) [][]float64 {
	peak := math.Inf(-1)
	for _, v := range energy {
		peak = max(peak, v)
	}
	floor := peak - energyFloorDB/10*math.Ln10
	var out [][]float64
	for i, c := range ceps {
		if energy[i] >= floor {
			out = append(out, c)
		}
	}
	return out
}
