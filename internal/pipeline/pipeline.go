// Package pipeline fans captured frames out to snapshot and recording
// consumers without ever blocking the capture goroutine.
//
// Every call to [Pipeline.OnFrameArrived] clones the frame once per consumer
// and runs each consumer on its own goroutine. An armed snapshot request is
// claimed by the dispatching call itself and travels with the snapshot
// clone, so exactly one frame serves it. Consumer panics and errors are
// recovered, logged and counted; they never reach the capture source or a
// sibling consumer.
//
// The open recording sink is the only shared mutable resource. It is guarded
// by a weighted semaphore of size one: the per-frame write path try-acquires
// and drops the frame on contention, while [Pipeline.StopRecording] acquires
// with a bounded wait. A stop that times out hands the sink to a background
// reaper and still clears the pipeline's reference, so a new recording can
// always be started.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/camrec/internal/observe"
	"github.com/MrWong99/camrec/internal/overlay"
	"github.com/MrWong99/camrec/internal/resilience"
	"github.com/MrWong99/camrec/pkg/imagefile"
	"github.com/MrWong99/camrec/pkg/video"
)

// DefaultStopTimeout bounds how long StopRecording waits for an in-flight
// write. It must exceed one frame period of the capture source.
const DefaultStopTimeout = 100 * time.Millisecond

// Consumer names as reported in logs and metrics.
const (
	ConsumerSnapshot  = "snapshot"
	ConsumerRecording = "recording"
)

// ConsumerFunc handles one frame clone. The pipeline releases the clone after
// the function returns; implementations must not retain it.
type ConsumerFunc func(ctx context.Context, f *video.Frame) error

// SaveFunc writes a still image to path.
type SaveFunc func(path string, img image.Image, opts ...imagefile.Option) error

// Option configures a [Pipeline] during construction.
type Option func(*Pipeline)

// WithOpener sets the video sink opener used by StartRecording.
func WithOpener(o video.Opener) Option {
	return func(p *Pipeline) { p.opener = o }
}

// WithOverlay sets the initial overlay renderer. A nil renderer disables the
// overlay.
func WithOverlay(r *overlay.Renderer) Option {
	return func(p *Pipeline) { p.overlay.Store(r) }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithStopTimeout sets the bounded wait used by StopRecording. Values <= 0
// are ignored.
func WithStopTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSaver overrides how snapshots are written. Defaults to [imagefile.Save].
func WithSaver(s SaveFunc) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.save = s
		}
	}
}

// WithBreaker sets the circuit breaker configuration applied to every sink.
// Name, OnStateChange, Logger and Now are filled in by the pipeline.
func WithBreaker(cfg resilience.Config) Option {
	return func(p *Pipeline) { p.breakerCfg = cfg }
}

// WithJPEGQuality sets the quality (1-100) of JPEG and Exif snapshots. Other
// values keep the encoder default.
func WithJPEGQuality(q int) Option {
	return func(p *Pipeline) { p.SetJPEGQuality(q) }
}

// withConsumer registers an extra consumer that runs alongside the recording
// consumer.
func withConsumer(name string, fn ConsumerFunc) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.consumers = append(p.consumers, consumer{name: name, fn: fn, errKind: name})
		}
	}
}

type consumer struct {
	name    string
	fn      ConsumerFunc
	errKind string
}

// Pipeline dispatches frames to consumers and owns the recording sink.
// All exported methods are safe for concurrent use.
type Pipeline struct {
	opener      video.Opener
	metrics     *observe.Metrics
	log         *slog.Logger
	stopTimeout time.Duration
	now         func() time.Time
	save        SaveFunc
	breakerCfg  resilience.Config
	consumers   []consumer
	overlay     atomic.Pointer[overlay.Renderer]
	jpegQuality atomic.Int32

	// mu guards closed against concurrent inflight.Add and snapshot
	// requests during Close.
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	snapMu sync.Mutex
	snap   *snapshotRequest

	recMu   sync.Mutex // serialises StartRecording and StopRecording
	rec     atomic.Pointer[recording]
	reapers sync.WaitGroup
}

// New creates a Pipeline. Without [WithOpener], StartRecording always fails
// with [ErrSinkOpen].
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		log:         slog.Default(),
		stopTimeout: DefaultStopTimeout,
		now:         time.Now,
		save:        imagefile.Save,
	}
	for _, o := range opts {
		o(p)
	}
	p.consumers = append([]consumer{
		{name: ConsumerRecording, fn: p.recordingConsumer, errKind: observe.ErrKindSinkWrite},
	}, p.consumers...)
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.opener == nil {
		p.opener = func(context.Context, video.Params) (video.Sink, error) {
			return nil, errors.New("no video encoder configured")
		}
	}
	return p
}

// SetOverlay swaps the overlay renderer used for subsequent frames. A nil
// renderer disables the overlay. The previous renderer is returned so the
// caller can close it once in-flight frames are done.
func (p *Pipeline) SetOverlay(r *overlay.Renderer) *overlay.Renderer {
	return p.overlay.Swap(r)
}

// SetStopTimeout changes the bounded wait used by StopRecording.
func (p *Pipeline) SetStopTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	p.recMu.Lock()
	p.stopTimeout = d
	p.recMu.Unlock()
}

// SetJPEGQuality changes the quality of later JPEG and Exif snapshots.
// Values outside 1-100 restore the encoder default.
func (p *Pipeline) SetJPEGQuality(q int) {
	if q < 1 || q > 100 {
		q = 0
	}
	p.jpegQuality.Store(int32(q))
}

// OnFrameArrived dispatches f to every consumer. It is called on the capture
// source's goroutine and returns without waiting for any consumer. f remains
// owned by the caller.
//
// A pending snapshot request is taken here, before any goroutine starts, and
// handed to the snapshot consumer together with its clone.
func (p *Pipeline) OnFrameArrived(f *video.Frame) {
	if f == nil || f.Image == nil {
		return
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	req := p.takeSnapshot()
	n := len(p.consumers)
	if req != nil {
		n++
	}
	p.inflight.Add(n)
	p.mu.RUnlock()

	ctx := context.Background()
	p.metrics.FramesReceived.Add(ctx, 1)
	if req != nil {
		p.dispatch(ctx, consumer{
			name:    ConsumerSnapshot,
			errKind: observe.ErrKindSnapshotSave,
			fn: func(ctx context.Context, f *video.Frame) error {
				return p.saveSnapshot(ctx, req, f)
			},
		}, f)
	}
	for _, c := range p.consumers {
		p.dispatch(ctx, c, f)
	}
}

func (p *Pipeline) dispatch(ctx context.Context, c consumer, f *video.Frame) {
	clone := f.Clone()
	p.metrics.RecordDispatch(ctx, c.name)
	go p.run(ctx, c, clone)
}

// run executes one consumer on one clone, isolating panics and errors.
func (p *Pipeline) run(ctx context.Context, c consumer, f *video.Frame) {
	defer p.inflight.Done()
	defer f.Release()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("frame consumer panicked", "consumer", c.name, "seq", f.Sequence, "panic", r)
			p.metrics.RecordError(ctx, observe.ErrKindConsumerPanic)
		}
	}()

	if err := c.fn(ctx, f); err != nil {
		p.log.Error("frame consumer failed", "consumer", c.name, "seq", f.Sequence, "err", err)
		p.metrics.RecordError(ctx, c.errKind)
	}
}

// Close stops any active recording and waits for in-flight dispatches and
// sink reapers, bounded by ctx. Frames arriving after Close are ignored.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if err := p.StopRecording(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
		errs = append(errs, err)
	}
	// Requests already claimed by a dispatch are saved; only unclaimed ones
	// are dropped.
	p.CancelSnapshot()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		p.reapers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("pipeline: wait for in-flight frames: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

// Closed reports whether Close has been called.
func (p *Pipeline) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// render draws the overlay onto img if one is configured.
func (p *Pipeline) render(img *image.RGBA, elapsed time.Duration) {
	if r := p.overlay.Load(); r != nil {
		r.Render(img, elapsed)
	}
}
