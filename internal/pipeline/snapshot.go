package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/camrec/internal/observe"
	"github.com/MrWong99/camrec/pkg/imagefile"
	"github.com/MrWong99/camrec/pkg/video"
)

type snapshotRequest struct {
	path string
	ref  Reference
}

// RequestSnapshot arms a one-shot snapshot. The next dispatched frame, and
// only that one, is stamped with the time elapsed since ref and saved to
// path. A later request before that frame replaces this one.
func (p *Pipeline) RequestSnapshot(path string, ref Reference) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.snapMu.Lock()
	p.snap = &snapshotRequest{path: path, ref: ref}
	p.snapMu.Unlock()
	p.log.Debug("snapshot requested", "path", path)
	return nil
}

// CancelSnapshot disarms a pending snapshot request. It reports whether one
// was pending.
func (p *Pipeline) CancelSnapshot() bool {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	pending := p.snap != nil
	p.snap = nil
	return pending
}

// SnapshotPending reports whether a snapshot request is armed and not yet
// claimed by a frame.
func (p *Pipeline) SnapshotPending() bool {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	return p.snap != nil
}

// takeSnapshot clears and returns the pending request.
func (p *Pipeline) takeSnapshot() *snapshotRequest {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	req := p.snap
	p.snap = nil
	return req
}

// saveSnapshot stamps f with the time elapsed since the request's reference
// and saves it.
func (p *Pipeline) saveSnapshot(ctx context.Context, req *snapshotRequest, f *video.Frame) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.snapshot",
		trace.WithAttributes(attribute.String("path", req.path)),
	)
	defer span.End()

	start := time.Now()
	now := p.now()
	p.render(f.Image, req.ref.Elapsed(now))

	format := imagefile.FormatFromPath(req.path).String()
	err := p.save(req.path, f.Image,
		imagefile.WithTimestamp(now),
		imagefile.WithJPEGQuality(int(p.jpegQuality.Load())),
	)
	p.metrics.SnapshotDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.FailSpan(span, err)
		p.metrics.RecordSnapshot(ctx, format, "error")
		return fmt.Errorf("%w: %s: %w", ErrSnapshotSave, req.path, err)
	}
	p.metrics.RecordSnapshot(ctx, format, "ok")
	p.log.Info("snapshot saved", "path", req.path, "format", format, "seq", f.Sequence)
	return nil
}
