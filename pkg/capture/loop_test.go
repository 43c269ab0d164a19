package capture_test

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/video"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoopDeliversSequencedFrames(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	l := &capture.Loop{
		Name:   "test",
		Period: time.Millisecond,
		Log:    discard(),
		Grab: func(context.Context) (*video.Frame, error) {
			return video.NewFrame(img, 0, time.Time{}), nil
		},
	}

	var last atomic.Uint64
	var count atomic.Int32
	l.OnFrame(func(f *video.Frame) {
		if f.CapturedAt.IsZero() {
			t.Error("frame without capture time")
		}
		last.Store(f.Sequence)
		count.Add(1)
	})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Start(context.Background()); !errors.Is(err, capture.ErrRunning) {
		t.Errorf("second Start = %v, want ErrRunning", err)
	}
	waitFor(t, func() bool { return count.Load() >= 3 })
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.Running() {
		t.Error("Running after Stop")
	}
	if got := last.Load(); got != uint64(count.Load()) {
		t.Errorf("last sequence = %d, want %d", got, count.Load())
	}
}

func TestLoopSkipAndAbort(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	l := &capture.Loop{
		Name: "failing",
		Log:  discard(),
		Grab: func(context.Context) (*video.Frame, error) {
			if calls.Add(1) <= 3 {
				return nil, capture.ErrSkipFrame
			}
			return nil, errors.New("device unplugged")
		},
	}
	delivered := false
	l.OnFrame(func(*video.Frame) { delivered = true })

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return !l.Running() })
	// 3 skips plus the error budget.
	if got := calls.Load(); got != 13 {
		t.Errorf("grab calls = %d, want 13", got)
	}
	if delivered {
		t.Error("handler called for failed grabs")
	}
}

func TestLoopStartWithoutGrab(t *testing.T) {
	t.Parallel()

	var l capture.Loop
	if err := l.Start(context.Background()); !errors.Is(err, capture.ErrNotOpen) {
		t.Fatalf("Start = %v, want ErrNotOpen", err)
	}
	if err := l.Stop(); err != nil {
		t.Errorf("Stop on idle loop = %v", err)
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	l := &capture.Loop{
		Period: time.Millisecond,
		Log:    discard(),
		Grab: func(context.Context) (*video.Frame, error) {
			return nil, capture.ErrSkipFrame
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitFor(t, func() bool { return !l.Running() })
}
