// Package observe wires camrec into OpenTelemetry: metric instruments for
// the frame pipeline and the host variable bus, spans, and an HTTP
// middleware.
//
// Instruments are recorded through the OTel metrics API and scraped in the
// Prometheus format once [InitProvider] has installed the exporter bridge.
// Components default to [DefaultMetrics]; tests pass their own [Metrics]
// built by [NewMetrics] on a manual reader.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reasons for frames that reached an open recording but were not written.
const (
	DropContention  = "contention"
	DropStopping    = "stopping"
	DropBreakerOpen = "breaker_open"
)

// Kinds of errors the pipeline logs and absorbs.
const (
	ErrKindConsumerPanic    = "consumer_panic"
	ErrKindSinkOpen         = "sink_open"
	ErrKindSinkWrite        = "sink_write"
	ErrKindSinkClose        = "sink_close"
	ErrKindSinkCloseTimeout = "sink_close_timeout"
	ErrKindSnapshotSave     = "snapshot_save"
)

// Metrics is the set of camrec instruments. Instruments are safe for
// concurrent use.
type Metrics struct {
	FramesReceived   metric.Int64Counter
	FramesDispatched metric.Int64Counter // consumer
	FramesWritten    metric.Int64Counter
	FramesDropped    metric.Int64Counter // reason
	SnapshotsSaved   metric.Int64Counter // format, status
	PipelineErrors   metric.Int64Counter // kind

	// SinkWriteDuration covers overlay rendering plus the encoder write.
	SinkWriteDuration metric.Float64Histogram
	// SnapshotDuration covers overlay rendering plus image encoding.
	SnapshotDuration metric.Float64Histogram

	// ActiveRecordings is 1 while a video sink is open.
	ActiveRecordings metric.Int64UpDownCounter

	BreakerTransitions  metric.Int64Counter     // name, to
	HostVarUpdates      metric.Int64Counter     // name, origin
	HTTPRequestDuration metric.Float64Histogram // method, route, status
}

// frameLatencyBuckets are seconds, sized for one encode or one image save.
var frameLatencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64, 1.28,
}

// NewMetrics creates every instrument on mp's camrec meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(scope)
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.FramesReceived, "camrec.frames.received", "Frames delivered by the capture source."},
		{&m.FramesDispatched, "camrec.frames.dispatched", "Frames handed to each pipeline consumer."},
		{&m.FramesWritten, "camrec.frames.written", "Frames written to the video sink."},
		{&m.FramesDropped, "camrec.frames.dropped", "Frames not written while a recording was open, by reason."},
		{&m.SnapshotsSaved, "camrec.snapshots", "Snapshot saves by image format and status."},
		{&m.PipelineErrors, "camrec.errors", "Errors logged and absorbed by the pipeline, by kind."},
		{&m.BreakerTransitions, "camrec.breaker.transitions", "Circuit breaker state changes."},
		{&m.HostVarUpdates, "camrec.hostvar.updates", "Host variable writes by name and origin."},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("observe: counter %s: %w", c.name, err)
		}
		*c.dst = inst
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
		opts []metric.Float64HistogramOption
	}{
		{&m.SinkWriteDuration, "camrec.sink.write.duration", "Time to render and write one recorded frame.",
			[]metric.Float64HistogramOption{metric.WithExplicitBucketBoundaries(frameLatencyBuckets...)}},
		{&m.SnapshotDuration, "camrec.snapshot.duration", "Time to render and save one snapshot.",
			[]metric.Float64HistogramOption{metric.WithExplicitBucketBoundaries(frameLatencyBuckets...)}},
		{&m.HTTPRequestDuration, "camrec.http.request.duration", "HTTP request latency by route.", nil},
	}
	for _, h := range histograms {
		opts := append([]metric.Float64HistogramOption{
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
		}, h.opts...)
		inst, err := meter.Float64Histogram(h.name, opts...)
		if err != nil {
			return nil, fmt.Errorf("observe: histogram %s: %w", h.name, err)
		}
		*h.dst = inst
	}

	var err error
	m.ActiveRecordings, err = meter.Int64UpDownCounter("camrec.active_recordings",
		metric.WithDescription("Open video sinks."))
	if err != nil {
		return nil, fmt.Errorf("observe: updown counter camrec.active_recordings: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider. The global provider delegates, so instruments created before
// [InitProvider] still reach the exporter installed later.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, kv ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(kv...))
}

// RecordDispatch counts a frame handed to consumer.
func (m *Metrics) RecordDispatch(ctx context.Context, consumer string) {
	m.add(ctx, m.FramesDispatched, attribute.String("consumer", consumer))
}

// RecordDrop counts a frame dropped for reason, one of the Drop constants.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.add(ctx, m.FramesDropped, attribute.String("reason", reason))
}

// RecordError counts an absorbed error, kind is one of the ErrKind constants.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.add(ctx, m.PipelineErrors, attribute.String("kind", kind))
}

// RecordSnapshot counts a snapshot save with status "ok" or "error".
func (m *Metrics) RecordSnapshot(ctx context.Context, format, status string) {
	m.add(ctx, m.SnapshotsSaved, attribute.String("format", format), attribute.String("status", status))
}

// RecordBreakerTransition counts breaker name moving into state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.add(ctx, m.BreakerTransitions, attribute.String("name", name), attribute.String("to", to))
}

// RecordHostVarUpdate counts an accepted write to a host variable.
func (m *Metrics) RecordHostVarUpdate(ctx context.Context, name, origin string) {
	m.add(ctx, m.HostVarUpdates, attribute.String("name", name), attribute.String("origin", origin))
}
