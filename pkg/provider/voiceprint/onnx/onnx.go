// Package onnx runs a WeSpeaker-style speaker encoder through ONNX Runtime.
//
// The model takes an 80-band log-mel spectrogram shaped [1, frames, 80] and
// returns one embedding. Features come from the same front end as the
// fbank extractor. The ONNX Runtime shared library is located via the
// LibraryPath option or the ONNXRUNTIME_SHARED_LIBRARY_PATH environment
// variable, and initialized once per process.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint/fbank"
)

var _ voiceprint.Extractor = (*Extractor)(nil)

var (
	initOnce sync.Once
	initErr  error
)

// minSamples is 100ms at 16 kHz; shorter clips make the encoder unstable.
const minSamples = 1600

// Option configures an [Extractor].
type Option func(*Extractor)

// WithLibraryPath sets the ONNX Runtime shared library location.
func WithLibraryPath(path string) Option {
	return func(e *Extractor) { e.libPath = path }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.log = l }
}

// Extractor wraps an ONNX speaker-encoder session. Inference is serialized;
// the session is not documented as safe for concurrent Run calls.
type Extractor struct {
	modelPath string
	libPath   string
	log       *slog.Logger

	mel *fbank.Mel

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	dims    int
}

// New loads the model at modelPath. dims is the embedding size the model
// emits (e.g. 256 for WeSpeaker ResNet34); it is checked on first use.
func New(modelPath string, dims int, opts ...Option) (*Extractor, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx voiceprint: model: %w", err)
	}
	e := &Extractor{
		modelPath: modelPath,
		log:       slog.Default(),
		mel:       fbank.NewMel(fbank.DefaultMelConfig()),
		dims:      dims,
	}
	for _, o := range opts {
		o(e)
	}
	if err := initRuntime(e.libPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx voiceprint: inspect model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("onnx voiceprint: want 1 input and at least 1 output, got %d and %d", len(inputs), len(outputs))
	}
	e.log.Info("onnx voiceprint model loaded",
		"path", modelPath, "input", inputs[0].Name, "output", outputs[0].Name)

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx voiceprint: session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, fmt.Errorf("onnx voiceprint: create session: %w", err)
	}
	e.session = session
	return e, nil
}

func initRuntime(libPath string) error {
	initOnce.Do(func() {
		if libPath == "" {
			libPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
		}
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("onnx voiceprint: initialize runtime: %w", err)
		}
	})
	return initErr
}

// Dimensions returns the configured embedding size.
func (e *Extractor) Dimensions() int { return e.dims }

// Extract runs the encoder on samples.
func (e *Extractor) Extract(ctx context.Context, samples []float32, sampleRate int) ([]float32, error) {
	if sampleRate != e.mel.Config().SampleRate {
		return nil, fmt.Errorf("onnx voiceprint: sample rate %d, want %d", sampleRate, e.mel.Config().SampleRate)
	}
	if len(samples) < minSamples {
		return nil, voiceprint.ErrTooShort
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("onnx voiceprint: extractor closed")
	}

	spec := e.mel.Compute(samples)
	nMels := e.mel.Config().NMels
	flat := make([]float32, len(spec)*nMels)
	for t, frame := range spec {
		for m, v := range frame {
			flat[t*nMels+m] = float32(v)
		}
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(spec)), int64(nMels)), flat)
	if err != nil {
		return nil, fmt.Errorf("onnx voiceprint: input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("onnx voiceprint: inference: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx voiceprint: unexpected output type %T", outputs[0])
	}
	data := tensor.GetData()
	if e.dims > 0 && len(data) != e.dims {
		return nil, fmt.Errorf("onnx voiceprint: model returned %d dimensions, configured %d", len(data), e.dims)
	}
	return append([]float32(nil), data...), nil
}

// Close destroys the session.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
