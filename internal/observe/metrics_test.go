package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, func() metricdata.ResourceMetrics) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	collect := func() metricdata.ResourceMetrics {
		t.Helper()
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		return rm
	}
	return m, collect
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue sums the data points of name whose attributes contain kv.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, kv attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want a sum", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v == kv.Value {
			total += dp.Value
		}
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()
	m, collect := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDrop(ctx, DropContention)
	m.RecordDrop(ctx, DropContention)
	m.RecordDrop(ctx, DropBreakerOpen)
	m.RecordError(ctx, ErrKindSinkCloseTimeout)
	m.RecordSnapshot(ctx, "JPEG", "ok")
	m.RecordSnapshot(ctx, "JPEG", "error")
	m.RecordSnapshot(ctx, "BMP", "ok")
	m.RecordDispatch(ctx, "snapshot")
	m.RecordBreakerTransition(ctx, "sink", "open")
	m.RecordHostVarUpdate(ctx, "video.state", "ws")
	m.RecordHostVarUpdate(ctx, "video.state", "http")
	rm := collect()

	tests := []struct {
		metric string
		kv     attribute.KeyValue
		want   int64
	}{
		{"camrec.frames.dropped", attribute.String("reason", DropContention), 2},
		{"camrec.frames.dropped", attribute.String("reason", DropBreakerOpen), 1},
		{"camrec.errors", attribute.String("kind", ErrKindSinkCloseTimeout), 1},
		{"camrec.snapshots", attribute.String("format", "JPEG"), 2},
		{"camrec.snapshots", attribute.String("status", "ok"), 2},
		{"camrec.frames.dispatched", attribute.String("consumer", "snapshot"), 1},
		{"camrec.breaker.transitions", attribute.String("to", "open"), 1},
		{"camrec.hostvar.updates", attribute.String("name", "video.state"), 2},
		{"camrec.hostvar.updates", attribute.String("origin", "ws"), 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, rm, tt.metric, tt.kv); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.metric, tt.kv.Key, tt.kv.Value.Emit(), got, tt.want)
		}
	}
}

func TestMetrics_LatencyHistograms(t *testing.T) {
	t.Parallel()
	m, collect := newTestMetrics(t)
	ctx := context.Background()

	m.SinkWriteDuration.Record(ctx, 0.004)
	m.SinkWriteDuration.Record(ctx, 0.03)
	m.SnapshotDuration.Record(ctx, 0.2)
	rm := collect()

	tests := []struct {
		name       string
		wantCount  uint64
		wantBounds int
	}{
		{"camrec.sink.write.duration", 2, len(frameLatencyBuckets)},
		{"camrec.snapshot.duration", 1, len(frameLatencyBuckets)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := findMetric(rm, tt.name)
			if met == nil {
				t.Fatal("metric not found")
			}
			if met.Unit != "s" {
				t.Errorf("unit = %q, want s", met.Unit)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("data = %+v", met.Data)
			}
			dp := hist.DataPoints[0]
			if dp.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", dp.Count, tt.wantCount)
			}
			if len(dp.Bounds) != tt.wantBounds {
				t.Errorf("bounds = %v", dp.Bounds)
			}
		})
	}
}

func TestMetrics_ActiveRecordings(t *testing.T) {
	t.Parallel()
	m, collect := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)
	m.ActiveRecordings.Add(ctx, 1)

	met := findMetric(collect(), "camrec.active_recordings")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("data = %+v", met.Data)
	}
	if sum.IsMonotonic {
		t.Error("active recordings should not be monotonic")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("value = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
