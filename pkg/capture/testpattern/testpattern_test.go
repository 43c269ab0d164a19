package testpattern_test

import (
	"bytes"
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/capture/testpattern"
	"github.com/MrWong99/camrec/pkg/video"
)

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	a := image.NewRGBA(image.Rect(0, 0, 64, 48))
	b := image.NewRGBA(image.Rect(0, 0, 64, 48))
	testpattern.Render(a, 7)
	testpattern.Render(b, 7)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("same frame index rendered differently")
	}
	testpattern.Render(b, 8)
	if bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("pattern did not move between frames")
	}
}

func TestSourceDeliversFrames(t *testing.T) {
	t.Parallel()

	src := testpattern.New(
		testpattern.WithFrameRate(200),
		testpattern.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ctx := context.Background()

	sel, err := capture.Choose(ctx, src, capture.Preference{Width: 320, Height: 240}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if sel.Device.Name != testpattern.DeviceName || sel.Capability.Width != 320 {
		t.Fatalf("selection = %+v", sel)
	}

	var (
		mu     sync.Mutex
		frames []*video.Frame
	)
	got := make(chan struct{})
	src.OnFrame(func(f *video.Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f.Clone())
		if len(frames) == 3 {
			close(got)
		}
	})
	if err := src.Open(ctx, sel); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no frames delivered")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := src.Open(ctx, sel); err != nil {
		t.Errorf("Open after Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, f := range frames[:3] {
		if f.Width() != 320 || f.Height() != 240 {
			t.Errorf("frame %d size %dx%d", i, f.Width(), f.Height())
		}
		if f.Sequence != uint64(i+1) {
			t.Errorf("frame %d sequence %d", i, f.Sequence)
		}
		want := image.NewRGBA(image.Rect(0, 0, 320, 240))
		testpattern.Render(want, uint64(i))
		if !bytes.Equal(f.Image.Pix, want.Pix) {
			t.Errorf("frame %d pixels differ from Render(%d)", i, i)
		}
		f.Release()
	}
}
