package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/gamevox/pkg/audio"
)

const tracerName = "github.com/MrWong99/gamevox"

// Span attribute keys shared by the pipeline and server.
const (
	AttrConnID    = attribute.Key("gamevox.conn_id")
	AttrMode      = attribute.Key("gamevox.mode")
	AttrWindowMS  = attribute.Key("gamevox.window.duration_ms")
	AttrWindowRMS = attribute.Key("gamevox.window.rms")
	AttrOutcome   = attribute.Key("gamevox.outcome")
)

// Tracer returns the gamevox tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. When ctx carries a connection id (see
// [WithConnID]) the span is tagged with it, so every span of one client
// can be found together.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := ConnID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(AttrConnID.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// StartWindowSpan starts the span covering recognition of one audio window.
func StartWindowSpan(ctx context.Context, mode string, w audio.Window) (context.Context, trace.Span) {
	return StartSpan(ctx, "pipeline.window", trace.WithAttributes(
		AttrMode.String(mode),
		AttrWindowMS.Int64(w.Duration.Milliseconds()),
		AttrWindowRMS.Float64(w.RMS),
	))
}

// CorrelationID is the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type connIDKey struct{}

// WithConnID returns a copy of ctx carrying the websocket connection id.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnID returns the connection id stored by [WithConnID], or "".
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}

// Logger returns slog.Default() tagged with whatever ctx knows: trace_id
// and span_id of the active span, conn_id of the websocket connection.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := ConnID(ctx); id != "" {
		attrs = append(attrs, slog.String("conn_id", id))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
