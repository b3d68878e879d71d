package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "gamevox".
	ServiceName    string
	ServiceVersion string

	// DisableMetrics skips the Prometheus reader. Instruments still work
	// but nothing is collected, and [Telemetry.MetricsHandler] is nil.
	DisableMetrics bool

	// TraceExporter receives finished spans. Nil keeps spans in-process
	// only, which still gives log lines their trace IDs.
	TraceExporter sdktrace.SpanExporter

	// TraceSampleRatio samples root spans. Zero means sample everything;
	// windows are short so full sampling is the normal setting.
	TraceSampleRatio float64
}

// Telemetry is the process-wide OTel setup installed by [InitProvider].
type Telemetry struct {
	// MetricsHandler serves the Prometheus scrape format for this
	// process's registry, including Go runtime and process collectors.
	MetricsHandler http.Handler

	shutdown []func(context.Context) error
}

// InitProvider installs global meter and tracer providers. Metrics are
// exported through a private Prometheus registry rather than the default
// one so repeated initialisation in tests never panics on duplicate
// registration.
func InitProvider(_ context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gamevox"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	tel := &Telemetry{}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if !cfg.DisableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exp, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(exp))
		tel.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	tel.shutdown = append(tel.shutdown, mp.Shutdown)

	sampler := sdktrace.AlwaysSample()
	if r := cfg.TraceSampleRatio; r > 0 && r < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(r))
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	tel.shutdown = append(tel.shutdown, tp.Shutdown)

	return tel, nil
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
