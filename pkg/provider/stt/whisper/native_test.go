package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/gamevox/pkg/provider/stt"
	"github.com/MrWong99/gamevox/pkg/provider/stt/whisper"
)

// testModelPath skips the test unless WHISPER_MODEL_PATH names a model.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_BadModel(t *testing.T) {
	t.Parallel()
	for _, path := range []string{"", "/nonexistent/ggml-base.en.bin"} {
		if _, err := whisper.NewNative(path); err == nil {
			t.Errorf("NewNative(%q) = nil error", path)
		}
	}
}

func TestNativeTranscribe_EmptyAudio(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	if _, err := p.Transcribe(context.Background(), nil, 16000); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestNativeTranscribe_CancelledContext(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, makeSpeech(8000), 16000); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNativeTranscribe_Tone(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t),
		whisper.WithNativeThreads(2),
		whisper.WithNativePrompt("up down left right"),
	)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	// 48 kHz input goes through the resampler first.
	tr, err := p.Transcribe(context.Background(), makeSpeech(48000), 48000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Engine != "whisper-native" {
		t.Errorf("Engine = %q, want %q", tr.Engine, "whisper-native")
	}
}
