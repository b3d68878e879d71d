// Package openai transcribes windows with OpenAI's audio transcription
// endpoint, or any server that implements it (faster-whisper-server,
// LocalAI) reached through WithBaseURL.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider is an [stt.Provider] for the /audio/transcriptions endpoint.
type Provider struct {
	client oai.Client

	model    oai.AudioModel
	language string
	prompt   string

	baseURL string
	timeout time.Duration
}

// Option configures a [Provider].
type Option func(*Provider)

// WithBaseURL points the client at a compatible server instead of OpenAI.
func WithBaseURL(url string) Option { return func(p *Provider) { p.baseURL = url } }

// WithModel sets the transcription model. Default "whisper-1".
func WithModel(model string) Option { return func(p *Provider) { p.model = oai.AudioModel(model) } }

// WithLanguage sets the ISO-639-1 input language. Default "en"; empty lets
// the model detect it.
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithPrompt biases the model towards the words it contains, typically the
// command vocabulary.
func WithPrompt(prompt string) Option { return func(p *Provider) { p.prompt = prompt } }

// WithTimeout bounds every HTTP round trip.
func WithTimeout(d time.Duration) Option { return func(p *Provider) { p.timeout = d } }

// New returns a provider authenticating with apiKey. Retries are off; the
// caller's failover handles a failed window.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{model: oai.AudioModelWhisper1, language: "en"}
	for _, o := range opts {
		o(p)
	}

	ro := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if p.baseURL != "" {
		ro = append(ro, option.WithBaseURL(p.baseURL))
	}
	if p.timeout > 0 {
		ro = append(ro, option.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}
	p.client = oai.NewClient(ro...)
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements stt.Provider. The window is uploaded as WAV.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	start := time.Now()

	params, err := p.params(samples, sampleRate)
	if err != nil {
		return stt.Transcript{}, err
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai: transcribe: %w", err)
	}
	return stt.Transcript{
		Text:    strings.TrimSpace(resp.Text),
		Engine:  p.Name(),
		Latency: time.Since(start),
	}, nil
}

func (p *Provider) params(samples []float32, sampleRate int) (oai.AudioTranscriptionNewParams, error) {
	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return oai.AudioTranscriptionNewParams{}, fmt.Errorf("openai: encode wav: %w", err)
	}
	params := oai.AudioTranscriptionNewParams{
		File:        oai.File(bytes.NewReader(wav), "window.wav", "audio/wav"),
		Model:       p.model,
		Temperature: oai.Float(0),
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}
	return params, nil
}
