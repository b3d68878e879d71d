// Package whisper transcribes windows with whisper.cpp.
//
// [Provider] posts each window to a running whisper-server (POST
// /inference). [NativeProvider] links whisper.cpp through its CGO bindings
// and skips the HTTP hop. whisper.cpp is a batch engine and windows are
// short, so neither keeps a streaming session.
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithPrompt("up down left right jump"),
//	)
//	tr, err := p.Transcribe(ctx, window.Samples, window.SampleRate)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 10 * time.Second

	// maxErrorBody bounds how much of a failed response is read for the
	// error message.
	maxErrorBody = 4 << 10
)

var _ stt.Provider = (*Provider)(nil)

// Provider is an [stt.Provider] for a whisper-server instance. It keeps no
// per-request state.
type Provider struct {
	endpoint string
	model    string
	language string
	prompt   string
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use ("base.en", "small").
// Empty leaves the server's loaded model in place.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the spoken language code. Default "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithPrompt sets the initial prompt. Listing the command vocabulary here
// biases decoding towards those words.
func WithPrompt(prompt string) Option { return func(p *Provider) { p.prompt = prompt } }

// WithHTTPClient replaces the HTTP client. Its Timeout bounds each request.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// New returns a provider for the server at serverURL, for example
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		endpoint: strings.TrimRight(serverURL, "/") + "/inference",
		language: defaultLanguage,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "whisper" }

// Transcribe implements stt.Provider. The window is uploaded as a 16-bit
// WAV file.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	start := time.Now()

	body, contentType, err := p.form(samples, sampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: build form: %w", err)
	}
	text, err := p.post(ctx, body, contentType)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Engine: p.Name(), Latency: time.Since(start)}, nil
}

// form encodes the multipart body whisper-server expects. Empty optional
// fields are left out so the server keeps its own defaults.
func (p *Provider) form(samples []float32, sampleRate int) (*bytes.Buffer, string, error) {
	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "window.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}
	for _, kv := range [...][2]string{
		{"response_format", "json"},
		{"temperature", "0.0"},
		{"language", p.language},
		{"model", p.model},
		{"prompt", p.prompt},
	} {
		if kv[1] == "" {
			continue
		}
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// inferenceReply covers both shapes whisper-server answers with.
type inferenceReply struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

func (p *Provider) post(ctx context.Context, body io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var r inferenceReply
		if json.Unmarshal(raw, &r) == nil && r.Error != "" {
			return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, r.Error)
		}
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var r inferenceReply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	if r.Error != "" {
		return "", fmt.Errorf("whisper: server error: %s", r.Error)
	}
	return strings.TrimSpace(r.Text), nil
}
