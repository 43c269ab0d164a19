// Package testpattern provides a synthetic [capture.Source] that renders
// moving colour bars. Frame n always has the same pixels for a given size,
// which makes it suitable for tests and demos without hardware.
package testpattern

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/video"
)

// DeviceName is the name of the single device the source exposes.
const DeviceName = "Test Pattern"

// bars are the SMPTE-like colour bars, left to right.
var bars = []color.RGBA{
	{R: 192, G: 192, B: 192, A: 255},
	{R: 192, G: 192, B: 0, A: 255},
	{R: 0, G: 192, B: 192, A: 255},
	{R: 0, G: 192, B: 0, A: 255},
	{R: 192, G: 0, B: 192, A: 255},
	{R: 192, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 192, A: 255},
}

// Sizes are the frame sizes the source advertises.
var Sizes = []image.Point{{X: 320, Y: 240}, {X: 640, Y: 480}, {X: 1280, Y: 720}}

// Option configures a [Source].
type Option func(*Source)

// WithFrameRate sets the advertised and delivered frame rate. The default is 25.
func WithFrameRate(fps int) Option {
	return func(s *Source) {
		if fps > 0 {
			s.fps = fps
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.log = l }
}

// Source is a synthetic frame source.
type Source struct {
	capture.Loop

	fps int
	log *slog.Logger

	mu    sync.Mutex
	size  image.Point
	frame uint64
	buf   *image.RGBA
}

// New returns a test-pattern source.
func New(opts ...Option) *Source {
	s := &Source{fps: 25, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.Loop.Name = "testpattern"
	s.Loop.Log = s.log
	return s
}

// Devices implements [capture.Source].
func (s *Source) Devices(context.Context) ([]capture.Device, error) {
	return []capture.Device{{Name: DeviceName, Path: "testpattern"}}, nil
}

// Capabilities implements [capture.Source].
func (s *Source) Capabilities(context.Context, capture.Device) ([]capture.Capability, error) {
	out := make([]capture.Capability, 0, len(Sizes))
	for _, sz := range Sizes {
		out = append(out, capture.Capability{Width: sz.X, Height: sz.Y, FrameRate: s.fps})
	}
	return out, nil
}

// Open implements [capture.Source]. Any even size is accepted.
func (s *Source) Open(_ context.Context, sel capture.Selection) error {
	if s.Running() {
		return capture.ErrRunning
	}
	w, h := sel.Capability.Width, sel.Capability.Height
	if w <= 0 || h <= 0 {
		w, h = Sizes[1].X, Sizes[1].Y
	}
	fps := sel.Capability.FrameRate
	if fps <= 0 {
		fps = s.fps
	}

	s.mu.Lock()
	s.size = image.Pt(w, h)
	s.frame = 0
	s.buf = image.NewRGBA(image.Rect(0, 0, w, h))
	s.mu.Unlock()

	s.Loop.Period = time.Second / time.Duration(fps)
	s.Loop.Grab = s.grab
	return nil
}

func (s *Source) grab(context.Context) (*video.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	Render(s.buf, s.frame)
	s.frame++
	return video.NewFrame(s.buf, 0, time.Now()), nil
}

// Render draws frame n of the pattern into dst: colour bars scrolled left by
// n pixels, with a white marker column sweeping across the bottom eighth.
func Render(dst *image.RGBA, n uint64) {
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}
	barWidth := max(w/len(bars), 1)
	shift := int(n % uint64(w))
	markerTop := h - h/8
	markerX := int(n % uint64(w))

	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			c := bars[((x+shift)%w)/barWidth%len(bars)]
			if y >= markerTop {
				c = color.RGBA{A: 255}
				if x == markerX {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				}
			}
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
		}
	}
}

var _ capture.Source = (*Source)(nil)
