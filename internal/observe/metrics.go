// Package observe holds gamevox's telemetry: OpenTelemetry instruments for
// the recognition path, trace helpers that tag spans and log lines with the
// connection they belong to, and the HTTP middleware in front of every
// route.
//
// [InitProvider] bridges the instruments to Prometheus for /metrics.
// Components default to [DefaultMetrics], which reads the global meter
// provider; tests build their own with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all gamevox metrics.
const meterName = "github.com/MrWong99/gamevox"

// Window outcomes recorded on [Metrics.Windows].
const (
	OutcomeSilent     = "silent"
	OutcomeNoSpeech   = "no_speech"
	OutcomeNoCommand  = "no_command"
	OutcomeUnassigned = "unassigned"
	OutcomeCommand    = "command"
	OutcomeCancelled  = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// WindowDuration tracks the time from window hand-off to routed event
	// (or drop).
	WindowDuration metric.Float64Histogram

	// IdentifyDuration tracks speaker identification latency.
	IdentifyDuration metric.Float64Histogram

	// TranscribeDuration tracks transcription latency. Attribute: engine.
	TranscribeDuration metric.Float64Histogram

	// ExtractDuration tracks command extraction latency. Attribute: stage.
	ExtractDuration metric.Float64Histogram

	// --- Counters ---

	// Windows counts processed windows. Attribute: outcome.
	Windows metric.Int64Counter

	// Commands counts routed commands. Attributes: command, player.
	Commands metric.Int64Counter

	// DroppedSamples counts samples discarded by the audio buffer ceiling.
	DroppedSamples metric.Int64Counter

	// Enrollments counts finished enrollment sessions. Attribute: status.
	Enrollments metric.Int64Counter

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: breaker, to.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks open websocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request time, or websocket session
	// lifetime for /ws. Attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// sub-second recognition path.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.8, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.WindowDuration, "gamevox.window.duration", "Latency from window ready to event emitted or dropped."},
		{&met.IdentifyDuration, "gamevox.identify.duration", "Latency of speaker identification."},
		{&met.TranscribeDuration, "gamevox.transcribe.duration", "Latency of speech-to-text transcription."},
		{&met.ExtractDuration, "gamevox.extract.duration", "Latency of command extraction by stage."},
	}
	for _, h := range histograms {
		v, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = v
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Windows, "gamevox.windows", "Processed audio windows by outcome."},
		{&met.Commands, "gamevox.commands", "Routed commands by command and player."},
		{&met.DroppedSamples, "gamevox.audio.dropped_samples", "Samples discarded because the buffer ceiling was exceeded."},
		{&met.Enrollments, "gamevox.enrollments", "Finished enrollment sessions by status."},
		{&met.ProviderRequests, "gamevox.provider.requests", "Provider calls by provider, kind, and status."},
		{&met.ProviderErrors, "gamevox.provider.errors", "Provider errors by provider and kind."},
		{&met.BreakerTransitions, "gamevox.breaker.transitions", "Circuit breaker state changes by breaker and target state."},
	}
	for _, c := range counters {
		v, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = v
	}

	var err error
	if met.ActiveConnections, err = m.Int64UpDownCounter("gamevox.connections.active",
		metric.WithDescription("Number of open websocket connections."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("gamevox.http.request.duration",
		metric.WithDescription("HTTP request latency by method, mux route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is [attribute.String] under a shorter name.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// labels turns alternating key, value strings into a measurement option.
func labels(kv ...string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(attrs...)
}

// RecordWindow counts one processed window. outcome is one of the
// Outcome* constants.
func (m *Metrics) RecordWindow(ctx context.Context, outcome string) {
	m.Windows.Add(ctx, 1, labels("outcome", outcome))
}

// RecordCommand counts one command routed to player.
func (m *Metrics) RecordCommand(ctx context.Context, command, player string) {
	m.Commands.Add(ctx, 1, labels("command", command, "player", player))
}

// RecordProviderRequest counts one provider call. kind is "stt", "llm" or
// "voiceprint"; status is "ok", "error", "timeout", "skipped" or "empty".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, labels("provider", provider, "kind", kind, "status", status))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, labels("provider", provider, "kind", kind))
}

// RecordBreakerTransition counts a breaker entering state to. It fits
// resilience.CircuitBreakerConfig.OnStateChange once states are strings.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, labels("breaker", breaker, "to", to))
}

// RecordEnrollment counts a finished enrollment session. status is
// "committed", "cancelled", "too_short", "duplicate" or "failed".
func (m *Metrics) RecordEnrollment(ctx context.Context, status string) {
	m.Enrollments.Add(ctx, 1, labels("status", status))
}

// RecordDroppedSamples counts samples the audio buffer discarded.
func (m *Metrics) RecordDroppedSamples(ctx context.Context, n int) {
	if n > 0 {
		m.DroppedSamples.Add(ctx, int64(n))
	}
}
