// Package health serves the liveness and readiness probes of camrec.
//
//   - /healthz reports the process as alive together with its uptime.
//   - /readyz returns 200 only when every [Checker] passes, e.g. the capture
//     source is delivering frames and the pipeline accepts work.
//
// Responses are JSON objects with a "status" field ("ok" or "fail") and a
// "checks" map holding the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/camrec/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	started  time.Time
	now      func() time.Time
}

// New returns a Handler evaluating checkers, in order, on each /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
		now:      time.Now,
	}
}

// Healthz always answers 200 with the process uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	up := h.now().Sub(h.started).Truncate(time.Second)
	writeJSON(w, http.StatusOK, result{Status: "ok", Uptime: up.String()})
}

// Readyz answers 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// SourceRunning fails while the capture source is not delivering frames.
func SourceRunning(src interface{ Running() bool }) Checker {
	return Checker{Name: "capture", Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !src.Running() {
			return errors.New("capture source is not running")
		}
		return nil
	}}
}

// PipelineOpen fails once the pipeline is closed or while the open
// recording's sink breaker is open.
func PipelineOpen(p interface {
	Closed() bool
	SinkState() (resilience.State, bool)
}) Checker {
	return Checker{Name: "pipeline", Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Closed() {
			return errors.New("pipeline is closed")
		}
		if st, ok := p.SinkState(); ok && st == resilience.StateOpen {
			return fmt.Errorf("video sink breaker is %s", st)
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
