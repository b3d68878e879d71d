package whisper

// NativeProvider links whisper.cpp through CGO. libwhisper.a and whisper.h
// must be reachable through LIBRARY_PATH and C_INCLUDE_PATH when building.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider is an in-process [stt.Provider]. The model is loaded once;
// every call gets its own whisper context because contexts are not safe
// for concurrent use.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	prompt   string
	threads  uint
	log      *slog.Logger
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the spoken language code. Default "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativePrompt sets the initial prompt used to bias decoding.
func WithNativePrompt(prompt string) NativeOption {
	return func(p *NativeProvider) { p.prompt = prompt }
}

// WithNativeThreads sets decoder threads. Zero keeps the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// WithNativeLogger sets the logger for non-fatal warnings.
func WithNativeLogger(l *slog.Logger) NativeOption {
	return func(p *NativeProvider) { p.log = l }
}

// NewNative loads the ggml model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements stt.Provider. Windows not at 16 kHz are resampled
// first. Inference cannot be interrupted, so ctx is only checked before
// and after it.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	start := time.Now()

	pcm, err := to16k(samples, sampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: resample: %w", err)
	}
	wctx, err := p.newContext()
	if err != nil {
		return stt.Transcript{}, err
	}
	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	text, err := segments(wctx)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Engine: p.Name(), Latency: time.Since(start)}, nil
}

func (p *NativeProvider) newContext() (whisperlib.Context, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		p.log.Warn("whisper: language rejected, using model default", "language", p.language, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if p.prompt != "" {
		wctx.SetInitialPrompt(p.prompt)
	}
	return wctx, nil
}

// to16k returns samples at the rate whisper.cpp requires. Zero means the
// caller already delivers 16 kHz.
func to16k(samples []float32, sampleRate int) ([]float32, error) {
	if sampleRate == 0 || sampleRate == audio.DefaultSampleRate {
		return samples, nil
	}
	conv, err := audio.NewConverter(audio.Format{SampleRate: sampleRate, Channels: 1}, audio.Mono16k)
	if err != nil {
		return nil, err
	}
	pcm, err := conv.Convert(audio.Float32ToInt16(samples))
	if err != nil {
		return nil, err
	}
	return audio.Int16ToFloat32(pcm), nil
}

// segments joins the non-empty segment texts of a processed context.
func segments(wctx whisperlib.Context) (string, error) {
	var parts []string
	for {
		seg, err := wctx.NextSegment()
		switch {
		case errors.Is(err, io.EOF):
			return strings.Join(parts, " "), nil
		case err != nil:
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
}
