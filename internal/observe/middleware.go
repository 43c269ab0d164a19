package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// routeUnmatched labels requests no mux pattern matched.
const routeUnmatched = "unmatched"

// debugRoutes are polled by scrapers and health checkers and log at debug level.
var debugRoutes = map[string]bool{
	"GET /metrics": true,
	"GET /healthz": true,
	"GET /readyz":  true,
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*httpObserver)

// WithAccessLogger sets the logger for completed requests. The default is
// [slog.Default].
func WithAccessLogger(l *slog.Logger) MiddlewareOption {
	return func(o *httpObserver) { o.log = l }
}

type httpObserver struct {
	metrics *Metrics
	log     *slog.Logger
	prop    propagation.TextMapPropagator
	next    http.Handler
}

// Middleware wraps a handler with a server span, W3C trace context
// propagation, the X-Correlation-ID response header, a duration sample in
// camrec.http.request.duration and an access log line.
//
// Samples and spans are labelled with the [http.ServeMux] pattern that
// served the request, so /vars/{name} stays one series for all variables.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		o := &httpObserver{
			metrics: m,
			log:     slog.Default(),
			prop:    propagation.TraceContext{},
			next:    next,
		}
		for _, opt := range opts {
			opt(o)
		}
		return o
	}
}

func (o *httpObserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := o.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, r.Method,
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
	o.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	// The mux writes the matched pattern into the request it receives.
	r = r.WithContext(ctx)
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	o.next.ServeHTTP(sw, r)

	route := r.Pattern
	if route == "" {
		route = routeUnmatched
	}
	elapsed := time.Since(start)

	span.SetName("HTTP " + route)
	span.SetAttributes(
		semconv.HTTPRoute(route),
		semconv.HTTPResponseStatusCode(sw.status),
	)
	o.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.Int("status", sw.status),
		),
	)

	level := slog.LevelInfo
	if debugRoutes[route] {
		level = slog.LevelDebug
	}
	WithTrace(ctx, o.log).LogAttrs(ctx, level, "http request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("route", route),
		slog.Int("status", sw.status),
		slog.Duration("elapsed", elapsed),
	)
}

// statusWriter remembers the status code the wrapped handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is needed for the /vars/ws websocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: hijack not supported by response writer")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
