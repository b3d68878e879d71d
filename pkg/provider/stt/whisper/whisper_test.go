package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/gamevox/pkg/provider/stt"
	"github.com/MrWong99/gamevox/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// captured holds the multipart fields and the uploaded file of the last
// request seen by a mock server.
type captured struct {
	mu     sync.Mutex
	fields map[string]string
	file   []byte
	calls  int
}

func (c *captured) snapshot() (map[string]string, []byte, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields, c.file, c.calls
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText and records the form it received.
func newMockServer(t *testing.T, responseText string, rec *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rec != nil {
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			f.Close()

			fields := make(map[string]string)
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			rec.mu.Lock()
			rec.fields = fields
			rec.file = data
			rec.calls++
			rec.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeech generates n samples of a 440 Hz sine at amplitude 0.3.
func makeSpeech(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithPrompt("up down"),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "whisper" {
		t.Errorf("Name() = %q, want %q", p.Name(), "whisper")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ReturnsTrimmedText(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "  jump \n", nil)
	p, _ := whisper.New(srv.URL)

	tr, err := p.Transcribe(context.Background(), makeSpeech(8000), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "jump" {
		t.Errorf("Text = %q, want %q", tr.Text, "jump")
	}
	if tr.Engine != "whisper" {
		t.Errorf("Engine = %q, want %q", tr.Engine, "whisper")
	}
	if tr.Latency <= 0 {
		t.Errorf("Latency = %v, want > 0", tr.Latency)
	}
}

func TestTranscribe_SendsFormFields(t *testing.T) {
	t.Parallel()
	rec := &captured{}
	srv := newMockServer(t, "up", rec)
	p, _ := whisper.New(srv.URL+"/",
		whisper.WithLanguage("de"),
		whisper.WithModel("base.en"),
		whisper.WithPrompt("up down left right"),
	)

	if _, err := p.Transcribe(context.Background(), makeSpeech(8000), 16000); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	fields, file, calls := rec.snapshot()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	want := map[string]string{
		"language":        "de",
		"model":           "base.en",
		"prompt":          "up down left right",
		"response_format": "json",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %q = %q, want %q", k, fields[k], v)
		}
	}
	if len(file) < 44 || string(file[:4]) != "RIFF" || string(file[8:12]) != "WAVE" {
		t.Fatalf("uploaded file is not a WAV (len %d)", len(file))
	}
}

func TestTranscribe_OmitsEmptyFields(t *testing.T) {
	t.Parallel()
	rec := &captured{}
	srv := newMockServer(t, "", rec)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), makeSpeech(1600), 16000); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	fields, _, _ := rec.snapshot()
	for _, k := range []string{"model", "prompt"} {
		if _, ok := fields[k]; ok {
			t.Errorf("field %q sent although unset", k)
		}
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "never", nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), nil, 16000)
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "error body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error": "failed to read WAV file"}`))
			},
			wantMsg: "failed to read WAV file",
		},
		{
			name: "error in ok reply",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"error": "model busy"}`))
			},
			wantMsg: "model busy",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			p, _ := whisper.New(srv.URL)
			_, err := p.Transcribe(context.Background(), makeSpeech(1600), 16000)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("err = %v, want it to mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Transcribe(ctx, makeSpeech(1600), 16000)
	if err == nil {
		t.Fatal("expected error after context deadline, got nil")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Transcribe returned after %v; context was not honoured", elapsed)
	}
}
