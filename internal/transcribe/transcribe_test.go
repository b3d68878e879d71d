package transcribe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/internal/transcribe"
	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
	"github.com/MrWong99/gamevox/pkg/provider/stt/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func window() audio.Window {
	return audio.Window{
		Samples:    make([]float32, 8000),
		SampleRate: audio.DefaultSampleRate,
		Duration:   500 * time.Millisecond,
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider *mock.Provider
		want     string
		engine   string
	}{
		{
			name:     "text is trimmed",
			provider: &mock.Provider{EngineName: "whisper", Result: stt.Transcript{Text: "  jump  "}},
			want:     "jump",
			engine:   "whisper",
		},
		{
			name:     "provider error yields empty text",
			provider: &mock.Provider{EngineName: "deepgram", Err: errors.New("boom")},
			want:     "",
			engine:   "deepgram",
		},
		{
			name:     "empty result",
			provider: &mock.Provider{Result: stt.Transcript{Text: "   "}},
			want:     "",
			engine:   "mock",
		},
		{
			name:     "fallback member name wins",
			provider: &mock.Provider{EngineName: "stt-fallback", Result: stt.Transcript{Text: "up", Engine: "openai"}},
			want:     "up",
			engine:   "openai",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := transcribe.New(tc.provider, transcribe.WithMetrics(testMetrics(t)))
			got := tr.Transcribe(context.Background(), window())
			if got.Text != tc.want {
				t.Errorf("Text = %q, want %q", got.Text, tc.want)
			}
			if got.Engine != tc.engine {
				t.Errorf("Engine = %q, want %q", got.Engine, tc.engine)
			}
			if tc.provider.CallCount() != 1 {
				t.Errorf("provider calls = %d, want 1", tc.provider.CallCount())
			}
		})
	}
}

func TestTranscribe_TimeoutIsTotal(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Delay: time.Second, Result: stt.Transcript{Text: "late"}}
	tr := transcribe.New(p, transcribe.WithMetrics(testMetrics(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := tr.Transcribe(ctx, window())
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("Transcribe did not honour context deadline")
	}
	if !got.Empty() {
		t.Errorf("Text = %q, want empty", got.Text)
	}
	if got.Latency <= 0 {
		t.Error("Latency not measured")
	}
}

func TestTranscribe_PassesWindowAudio(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	tr := transcribe.New(p, transcribe.WithMetrics(testMetrics(t)))
	w := window()
	w.Samples[0] = 0.5

	tr.Transcribe(context.Background(), w)

	if len(p.Calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(p.Calls))
	}
	c := p.Calls[0]
	if c.SampleRate != audio.DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", c.SampleRate, audio.DefaultSampleRate)
	}
	if len(c.Samples) != 8000 || c.Samples[0] != 0.5 {
		t.Errorf("samples not forwarded unchanged")
	}
}

func TestEngine(t *testing.T) {
	t.Parallel()
	tr := transcribe.New(&mock.Provider{EngineName: "whisper-native"}, transcribe.WithMetrics(testMetrics(t)))
	if got := tr.Engine(); got != "whisper-native" {
		t.Errorf("Engine() = %q, want %q", got, "whisper-native")
	}
}
