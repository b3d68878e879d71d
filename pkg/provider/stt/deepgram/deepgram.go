// Package deepgram transcribes windows with Deepgram's live websocket API.
// Each window gets its own short stream: the audio in 100 ms frames, then
// CloseStream, then final results until Deepgram sends Metadata or closes
// the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2"
	defaultLanguage  = "en"

	// chunkBytes is 100 ms of 16 kHz linear16, the frame size Deepgram
	// recommends for live audio.
	chunkBytes = 3200
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts recognition of the given words, typically the command
// vocabulary.
func WithKeywords(keywords []stt.KeywordBoost) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// WithEndpoint overrides the websocket endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []stt.KeywordBoost
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "deepgram" }

// Transcribe streams samples to Deepgram as linear16 PCM and returns the
// concatenation of all final results.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	start := time.Now()

	wsURL, err := p.buildURL(sampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	pcm := audio.EncodePCM16LE(audio.Float32ToInt16(samples))
	for off := 0; off < len(pcm); off += chunkBytes {
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:min(off+chunkBytes, len(pcm))]); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := wsjson.Write(ctx, conn, control{Type: "CloseStream"}); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var acc finals
	for {
		_, raw, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stt.Transcript{}, fmt.Errorf("deepgram: %w", ctxErr)
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}
		var m message
		if json.Unmarshal(raw, &m) != nil {
			continue
		}
		if m.Type == "Metadata" {
			break
		}
		acc.add(m)
	}
	return stt.Transcript{
		Text:       acc.text(),
		Confidence: acc.confidence(),
		Engine:     p.Name(),
		Latency:    time.Since(start),
	}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "jump:2")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// control is a client-to-server control message.
type control struct {
	Type string `json:"type"`
}

// message is the subset of Deepgram's server messages the provider reads.
// Results carry transcripts; Metadata is the last message after
// CloseStream.
type message struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// finals accumulates the top alternative of every final, non-empty result.
type finals struct {
	parts []string
	conf  float64
}

func (f *finals) add(m message) {
	if m.Type != "Results" || !m.IsFinal || len(m.Channel.Alternatives) == 0 {
		return
	}
	alt := m.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return
	}
	f.parts = append(f.parts, text)
	f.conf += alt.Confidence
}

func (f *finals) text() string { return strings.Join(f.parts, " ") }

// confidence is the mean over collected finals, zero when there are none.
func (f *finals) confidence() float64 {
	if len(f.parts) == 0 {
		return 0
	}
	return f.conf / float64(len(f.parts))
}
