package command

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/gamevox/internal/command/phonetic"
	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/internal/resilience"
	"github.com/MrWong99/gamevox/pkg/provider/llm"
)

// DefaultLLMTimeout bounds the language-model stage.
const DefaultLLMTimeout = 400 * time.Millisecond

// llmMaxTokens caps the model reply; a single JSON object fits easily.
const llmMaxTokens = 50

// Option configures an [Extractor].
type Option func(*Extractor)

// WithLLM enables the language-model fallback stage. Wrap p in a
// [resilience.LLMFallback] to get a circuit breaker in front of it.
func WithLLM(p llm.Provider) Option {
	return func(e *Extractor) { e.llm = p }
}

// WithLLMTimeout bounds each fallback call. Default: [DefaultLLMTimeout].
func WithLLMTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithPhonetic adds a pronunciation check to the word scan, tried after the
// alias table for each word.
func WithPhonetic(m *phonetic.Matcher) Option {
	return func(e *Extractor) { e.phonetic = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// Extractor runs the staged extraction. It is safe for concurrent use; the
// vocabulary can be swapped while extractions are in flight.
type Extractor struct {
	vocab    atomic.Pointer[Vocabulary]
	llm      llm.Provider
	timeout  time.Duration
	phonetic *phonetic.Matcher
	log      *slog.Logger
	metrics  *observe.Metrics
}

// New returns an Extractor over v.
func New(v *Vocabulary, opts ...Option) *Extractor {
	e := &Extractor{
		timeout: DefaultLLMTimeout,
		log:     slog.Default(),
	}
	e.vocab.Store(v)
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Vocabulary returns the table currently in use.
func (e *Extractor) Vocabulary() *Vocabulary {
	return e.vocab.Load()
}

// SetVocabulary swaps the command table. Extractions already running finish
// with the old one.
func (e *Extractor) SetVocabulary(v *Vocabulary) {
	e.vocab.Store(v)
}

// HasLLM reports whether the fallback stage calls a language model.
func (e *Extractor) HasLLM() bool {
	return e.llm != nil
}

// Extract returns the first command in text. It never fails: a broken or
// slow language model yields a Parsed with no command.
func (e *Extractor) Extract(ctx context.Context, text string) Parsed {
	start := time.Now()
	p := e.extract(ctx, text)
	e.metrics.ExtractDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("stage", p.Stage.String())))
	return p
}

func (e *Extractor) extract(ctx context.Context, text string) Parsed {
	v := e.vocab.Load()
	norm := normalize(text)
	if norm == "" {
		return Parsed{RawText: text}
	}

	if c, ok := v.lookup(norm); ok {
		return Parsed{Command: c, RawText: text, Confidence: ConfidenceDirect, Stage: StageDirect}
	}

	if c, conf, ok := e.scan(v, norm); ok {
		return Parsed{Command: c, RawText: text, Confidence: conf, Stage: StageWordScan}
	}

	return e.fallback(ctx, v, text)
}

// scan checks each word in order and returns on the first hit.
func (e *Extractor) scan(v *Vocabulary, text string) (string, float64, bool) {
	var candidates []string
	for _, w := range words(text) {
		if c, ok := v.lookup(w); ok {
			return c, ConfidenceWord, true
		}
		if c, ok := v.alias(w); ok {
			return c, ConfidenceAlias, true
		}
		if e.phonetic == nil {
			continue
		}
		if candidates == nil {
			candidates = v.Commands()
		}
		if c, _, ok := e.phonetic.Match(w, candidates); ok {
			return c, ConfidenceAlias, true
		}
	}
	return "", 0, false
}

func (e *Extractor) fallback(ctx context.Context, v *Vocabulary, text string) Parsed {
	none := Parsed{RawText: text, Stage: StageFallback}
	if e.llm == nil {
		return substring(v, text)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	name := e.llm.Name()
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(v.Commands()),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: userPrompt(text)}},
		Temperature:  0,
		MaxTokens:    llmMaxTokens,
		JSON:         true,
		Schema:       replySchema(v.Commands()),
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		e.metrics.RecordProviderRequest(ctx, name, "llm", "skipped")
		observe.Logger(ctx).Debug("command: llm skipped, circuit open", "provider", name)
		return none
	case err != nil:
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		e.metrics.RecordProviderRequest(ctx, name, "llm", status)
		e.metrics.RecordProviderError(ctx, name, "llm")
		observe.Logger(ctx).Warn("command: llm parse failed", "provider", name, "status", status, "err", err)
		return none
	case resp == nil:
		e.metrics.RecordProviderRequest(ctx, name, "llm", "empty")
		return none
	}
	e.metrics.RecordProviderRequest(ctx, name, "llm", "ok")

	cmd, conf, err := parseReply(resp.Content)
	if err != nil {
		e.log.Warn("command: unusable llm reply", "provider", name, "reply", resp.Content, "err", err)
		return none
	}
	if cmd == "" {
		return none
	}
	c, ok := v.lookup(normalize(cmd))
	if !ok {
		e.log.Warn("command: llm returned command outside vocabulary", "provider", name, "command", cmd)
		return none
	}
	return Parsed{Command: c, RawText: text, Confidence: conf, Stage: StageFallback}
}

// substring returns the first vocabulary entry, in configured order, that
// occurs anywhere in text.
func substring(v *Vocabulary, text string) Parsed {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, c := range v.commands {
		if strings.Contains(lower, c) {
			return Parsed{Command: c, RawText: text, Confidence: ConfidenceSubstring, Stage: StageFallback}
		}
	}
	return Parsed{RawText: text, Stage: StageFallback}
}
