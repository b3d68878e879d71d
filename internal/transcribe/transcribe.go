// Package transcribe turns one audio window into text using the single
// speech-to-text engine chosen at startup.
//
// A [Transcriber] never fails: provider errors, timeouts, and empty results
// all collapse into a [stt.Transcript] with empty Text, so the pipeline can
// treat "nothing heard" and "engine broke" the same way. Errors are logged
// and counted instead.
package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
)

// Option configures a [Transcriber].
type Option func(*Transcriber)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcriber) { t.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) { t.metrics = m }
}

// Transcriber wraps exactly one [stt.Provider]. Safe for concurrent use if
// the provider is.
type Transcriber struct {
	provider stt.Provider
	log      *slog.Logger
	metrics  *observe.Metrics
	now      func() time.Time
}

// New returns a Transcriber backed by p.
func New(p stt.Provider, opts ...Option) *Transcriber {
	t := &Transcriber{
		provider: p,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Engine returns the provider name reported in every transcript.
func (t *Transcriber) Engine() string {
	return t.provider.Name()
}

// Transcribe returns the text spoken in w. The result always carries the
// engine name and measured latency; Text is empty when nothing usable was
// recognized or the provider failed.
func (t *Transcriber) Transcribe(ctx context.Context, w audio.Window) stt.Transcript {
	engine := t.provider.Name()
	start := t.now()

	res, err := t.provider.Transcribe(ctx, w.Samples, w.SampleRate)
	latency := t.now().Sub(start)

	t.metrics.TranscribeDuration.Record(ctx, latency.Seconds(),
		metric.WithAttributes(observe.Attr("engine", engine)))

	out := stt.Transcript{Engine: engine, Latency: latency}
	if err != nil {
		status := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = "cancelled"
			observe.Logger(ctx).Debug("transcribe: abandoned", "engine", engine, "err", err)
		} else {
			t.metrics.RecordProviderError(ctx, engine, "stt")
			observe.Logger(ctx).Warn("transcribe: provider failed",
				"engine", engine, "latency", latency, "err", err)
		}
		t.metrics.RecordProviderRequest(ctx, engine, "stt", status)
		return out
	}
	t.metrics.RecordProviderRequest(ctx, engine, "stt", "ok")

	out.Text = strings.TrimSpace(res.Text)
	out.Confidence = res.Confidence
	if res.Engine != "" {
		// A fallback group reports which member answered.
		out.Engine = res.Engine
	}
	if out.Text == "" {
		out.Confidence = 0
	}
	t.log.Debug("transcribe: done", "engine", out.Engine, "text", out.Text, "latency", latency)
	return out
}
