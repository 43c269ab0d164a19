package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/camrec/internal/resilience"
)

type fakeSource struct{ running bool }

func (s fakeSource) Running() bool { return s.running }

type fakePipeline struct {
	closed    bool
	state     resilience.State
	recording bool
}

func (p fakePipeline) Closed() bool { return p.closed }

func (p fakePipeline) SinkState() (resilience.State, bool) { return p.state, p.recording }

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.started = start
	h.now = func() time.Time { return start.Add(90*time.Second + 300*time.Millisecond) }

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" || body.Uptime != "1m30s" {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name:       "all healthy",
			checkers:   []Checker{SourceRunning(fakeSource{running: true}), PipelineOpen(fakePipeline{})},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"capture": "ok", "pipeline": "ok"},
		},
		{
			name:       "source stopped",
			checkers:   []Checker{SourceRunning(fakeSource{}), PipelineOpen(fakePipeline{})},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"capture": "fail: capture source is not running", "pipeline": "ok"},
		},
		{
			name:       "pipeline closed",
			checkers:   []Checker{PipelineOpen(fakePipeline{closed: true})},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"pipeline": "fail: pipeline is closed"},
		},
		{
			name:       "sink breaker open",
			checkers:   []Checker{PipelineOpen(fakePipeline{recording: true, state: resilience.StateOpen})},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"pipeline": "fail: video sink breaker is open"},
		},
		{
			name:       "half-open breaker is ready",
			checkers:   []Checker{PipelineOpen(fakePipeline{recording: true, state: resilience.StateHalfOpen})},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"pipeline": "ok"},
		},
		{
			name: "custom failure",
			checkers: []Checker{{Name: "disk", Check: func(context.Context) error {
				return errors.New("recordings directory not writable")
			}}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"disk": "fail: recordings directory not writable"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(SourceRunning(fakeSource{running: true}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(SourceRunning(fakeSource{running: true})).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}
