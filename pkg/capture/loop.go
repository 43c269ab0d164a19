package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/camrec/pkg/video"
)

// maxConsecutiveErrors is the number of failed grabs in a row after which a
// [Loop] gives up and stops.
const maxConsecutiveErrors = 10

// GrabFunc produces the next frame. It may block until a frame is available
// and must return promptly once ctx is cancelled.
type GrabFunc func(ctx context.Context) (*video.Frame, error)

// Loop runs a capture goroutine that calls a [GrabFunc] and hands each frame
// to the registered handler. Sources embed a Loop to implement Start, Stop,
// Running and OnFrame.
//
// When Period is positive the loop grabs once per tick; otherwise it grabs
// back-to-back and relies on the GrabFunc to pace itself.
type Loop struct {
	Name   string
	Period time.Duration
	Grab   GrabFunc
	Log    *slog.Logger

	mu      sync.Mutex
	handler FrameHandler
	cancel  context.CancelFunc
	done    chan struct{}
	seq     uint64
}

// OnFrame implements [Source].
func (l *Loop) OnFrame(h FrameHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// Running implements [Source].
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Start implements [Source]. The loop runs until Stop is called, ctx is
// cancelled, or the grab function fails too often.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Grab == nil {
		return ErrNotOpen
	}
	if l.done != nil {
		select {
		case <-l.done:
		default:
			return ErrRunning
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
	l.logger().Info("capture started", "source", l.Name, "period", l.Period)
	return nil
}

// Stop implements [Source].
func (l *Loop) Stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (l *Loop) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := l.logger().With("source", l.Name)

	var tick <-chan time.Time
	if l.Period > 0 {
		t := time.NewTicker(l.Period)
		defer t.Stop()
		tick = t.C
	}

	failures := 0
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				log.Info("capture stopped")
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			log.Info("capture stopped")
			return
		}

		f, err := l.Grab(ctx)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, ErrSkipFrame):
			continue
		case ctx.Err() != nil:
			log.Info("capture stopped")
			return
		default:
			failures++
			log.Warn("frame grab failed", "err", err, "consecutive", failures)
			if failures >= maxConsecutiveErrors {
				log.Error("capture aborted after repeated failures", "err", err)
				return
			}
			continue
		}
		if f == nil {
			continue
		}

		l.mu.Lock()
		l.seq++
		f.Sequence = l.seq
		h := l.handler
		l.mu.Unlock()
		if f.CapturedAt.IsZero() {
			f.CapturedAt = time.Now()
		}
		if h != nil {
			h(f)
		}
	}
}
