package observe

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no mux pattern claimed, so scanners
// hitting random paths cannot blow up metric cardinality.
const unmatchedRoute = "unmatched"

// quietRoutes are scraped or probed constantly and only logged at debug.
var quietRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

// statusRecorder captures the status code written downstream and notes
// whether the connection was taken over by a websocket upgrade.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	hijacked   bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("observe: %T does not support hijacking", r.ResponseWriter)
	}
	r.statusCode = http.StatusSwitchingProtocols
	r.hijacked = true
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware traces and times every request. The incoming W3C trace
// context is continued when present, and the trace ID is echoed as
// X-Correlation-ID so a client can quote it when reporting a bad command.
//
// Durations are labelled by mux pattern rather than raw path. For /ws the
// recorded duration is the lifetime of the websocket session.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// ServeMux fills in Pattern on the request it was handed.
			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			span.SetName("HTTP " + route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(rec.statusCode),
			)

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				Attr("method", r.Method),
				Attr("route", route),
				Attr("status", strconv.Itoa(rec.statusCode)),
			))

			level := slog.LevelInfo
			if quietRoutes[route] {
				level = slog.LevelDebug
			}
			msg := "request completed"
			if rec.hijacked {
				msg = "websocket closed"
			}
			slog.LogAttrs(ctx, level, msg,
				slog.String("trace_id", cid),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
