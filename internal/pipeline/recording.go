package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/camrec/internal/observe"
	"github.com/MrWong99/camrec/internal/resilience"
	"github.com/MrWong99/camrec/pkg/video"
)

// RecordingParams configures StartRecording.
type RecordingParams struct {
	// Video describes the output stream.
	Video video.Params

	// Mode selects the overlay timestamp strategy.
	Mode TimestampMode

	// Reference anchors the overlay timestamps.
	Reference Reference
}

// RecordingInfo describes an open recording.
type RecordingInfo struct {
	ID        uuid.UUID
	Params    video.Params
	Mode      TimestampMode
	StartedAt time.Time
}

// recording is one open sink and its write guard.
type recording struct {
	info     RecordingInfo
	sink     video.Sink
	timeline timeline
	breaker  *resilience.Breaker

	// guard admits one writer at a time: WriteFrame calls and the final Close.
	guard   *semaphore.Weighted
	closing atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// closeSink closes the sink once. Must be called with guard held.
func (r *recording) closeSink() error {
	r.closeOnce.Do(func() { r.closeErr = r.sink.Close() })
	return r.closeErr
}

// StartRecording opens a new sink. It fails with [ErrAlreadyRecording] while
// another sink is open; that sink is left untouched. Open failures are
// logged and returned wrapped in [ErrSinkOpen], leaving no sink open.
func (p *Pipeline) StartRecording(ctx context.Context, params RecordingParams) (RecordingInfo, error) {
	p.recMu.Lock()
	defer p.recMu.Unlock()

	if p.Closed() {
		return RecordingInfo{}, ErrClosed
	}
	if p.rec.Load() != nil {
		return RecordingInfo{}, ErrAlreadyRecording
	}
	if params.Video.Path == "" {
		return RecordingInfo{}, ErrEmptyPath
	}
	if params.Mode == "" {
		params.Mode = TimestampWallClock
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.start_recording",
		trace.WithAttributes(
			attribute.String("path", params.Video.Path),
			attribute.String("codec", params.Video.Codec.String()),
			attribute.String("timestamp_mode", string(params.Mode)),
		),
	)
	defer span.End()

	sink, err := p.opener(ctx, params.Video)
	if err != nil {
		observe.FailSpan(span, err)
		p.log.Error("unable to open video stream", "path", params.Video.Path, "err", err)
		p.metrics.RecordError(ctx, observe.ErrKindSinkOpen)
		return RecordingInfo{}, fmt.Errorf("%w: %w", ErrSinkOpen, err)
	}

	id := uuid.New()
	rec := &recording{
		info: RecordingInfo{
			ID:        id,
			Params:    params.Video,
			Mode:      params.Mode,
			StartedAt: p.now(),
		},
		sink:     sink,
		timeline: newTimeline(params.Mode, params.Reference, params.Video.FrameRate),
		guard:    semaphore.NewWeighted(1),
	}
	rec.breaker = p.newBreaker(id)
	p.rec.Store(rec)

	p.metrics.ActiveRecordings.Add(ctx, 1)
	span.SetAttributes(attribute.String("recording_id", id.String()))
	p.log.Info("recording started",
		"recording_id", id.String(),
		"path", params.Video.Path,
		"width", params.Video.Width,
		"height", params.Video.Height,
		"frame_rate", params.Video.FrameRate,
		"bitrate", params.Video.Bitrate,
		"codec", params.Video.Codec.String(),
		"timestamp_mode", string(params.Mode),
	)
	return rec.info, nil
}

func (p *Pipeline) newBreaker(id uuid.UUID) *resilience.Breaker {
	cfg := p.breakerCfg
	cfg.Name = "sink:" + id.String()
	cfg.Logger = p.log
	if cfg.Now == nil {
		cfg.Now = p.now
	}
	cfg.OnStateChange = func(_ string, _, to resilience.State) {
		p.metrics.RecordBreakerTransition(context.Background(), "sink", to.String())
	}
	return resilience.New(cfg)
}

// Recording returns the open recording, if any.
func (p *Pipeline) Recording() (RecordingInfo, bool) {
	rec := p.rec.Load()
	if rec == nil {
		return RecordingInfo{}, false
	}
	return rec.info, true
}

// SinkState returns the breaker state of the open recording. It reports
// false when nothing is recording.
func (p *Pipeline) SinkState() (resilience.State, bool) {
	rec := p.rec.Load()
	if rec == nil {
		return resilience.StateClosed, false
	}
	return rec.breaker.State(), true
}

// OnVideoFrame writes f to the open sink. The overlay is drawn onto f in
// place. If another goroutine holds the sink the frame is dropped without
// blocking. Without an open sink it does nothing.
func (p *Pipeline) OnVideoFrame(ctx context.Context, f *video.Frame) error {
	rec := p.rec.Load()
	if rec == nil || f == nil || f.Image == nil {
		return nil
	}
	if !rec.guard.TryAcquire(1) {
		p.metrics.RecordDrop(ctx, observe.DropContention)
		return nil
	}
	defer rec.guard.Release(1)

	if rec.closing.Load() {
		p.metrics.RecordDrop(ctx, observe.DropStopping)
		return nil
	}
	if !rec.breaker.Allow() {
		p.metrics.RecordDrop(ctx, observe.DropBreakerOpen)
		return nil
	}

	start := time.Now()
	p.render(f.Image, rec.timeline.at(p.now()))
	err := rec.sink.WriteFrame(f.Image)
	rec.breaker.Record(err)
	p.metrics.SinkWriteDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: seq %d: %w", ErrSinkWrite, f.Sequence, err)
	}
	rec.timeline.advance()
	p.metrics.FramesWritten.Add(ctx, 1)
	return nil
}

func (p *Pipeline) recordingConsumer(ctx context.Context, f *video.Frame) error {
	return p.OnVideoFrame(ctx, f)
}

// StopRecording closes the open sink. No write starts after the recording is
// disarmed. If an in-flight write does not release the sink within the stop
// timeout, StopRecording logs, returns [ErrSinkCloseTimeout] and leaves a
// background reaper to close the sink once the write finishes. In both cases
// the pipeline is immediately ready for a new StartRecording.
func (p *Pipeline) StopRecording(ctx context.Context) error {
	p.recMu.Lock()
	defer p.recMu.Unlock()

	rec := p.rec.Swap(nil)
	if rec == nil {
		return ErrNotRecording
	}
	rec.closing.Store(true)
	p.metrics.ActiveRecordings.Add(ctx, -1)

	ctx, span := observe.StartSpan(ctx, "pipeline.stop_recording",
		trace.WithAttributes(attribute.String("recording_id", rec.info.ID.String())),
	)
	defer span.End()

	log := p.log.With("recording_id", rec.info.ID.String(), "path", rec.info.Params.Path)

	waitCtx, cancel := context.WithTimeout(ctx, p.stopTimeout)
	defer cancel()
	if err := rec.guard.Acquire(waitCtx, 1); err != nil {
		log.Warn("unable to close video stream", "timeout", p.stopTimeout, "err", err)
		p.metrics.RecordError(ctx, observe.ErrKindSinkCloseTimeout)
		observe.FailSpan(span, ErrSinkCloseTimeout)
		p.reap(rec, log)
		return fmt.Errorf("%w: in-flight write exceeded %v", ErrSinkCloseTimeout, p.stopTimeout)
	}
	defer rec.guard.Release(1)

	if err := rec.closeSink(); err != nil {
		log.Error("closing video stream failed", "err", err)
		p.metrics.RecordError(ctx, observe.ErrKindSinkClose)
		observe.FailSpan(span, err)
		return fmt.Errorf("pipeline: close sink: %w", err)
	}
	log.Info("recording stopped", "duration", p.now().Sub(rec.info.StartedAt))
	return nil
}

// reap closes rec's sink once the in-flight write releases the guard.
func (p *Pipeline) reap(rec *recording, log *slog.Logger) {
	p.reapers.Add(1)
	go func() {
		defer p.reapers.Done()
		if err := rec.guard.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer rec.guard.Release(1)
		if err := rec.closeSink(); err != nil && !errors.Is(err, video.ErrSinkClosed) {
			log.Error("reaper: closing video stream failed", "err", err)
			p.metrics.RecordError(context.Background(), observe.ErrKindSinkClose)
			return
		}
		log.Info("reaper: video stream closed")
	}()
}
