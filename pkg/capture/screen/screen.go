// Package screen provides a [capture.Source] that grabs the primary display.
//
// The display is exposed as a single device. Its capabilities are the full
// screen plus common smaller sizes that fit, each captured from the top-left
// corner. Sizes are rounded down to even dimensions so they can be encoded
// directly.
package screen

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/vova616/screenshot"
	xdraw "golang.org/x/image/draw"

	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/video"
)

// DeviceName is the name of the single device the source exposes.
const DeviceName = "Primary Screen"

var commonSizes = []image.Point{{X: 1920, Y: 1080}, {X: 1280, Y: 720}, {X: 640, Y: 480}}

// Grabber captures a region of the screen.
type Grabber interface {
	Bounds() (image.Rectangle, error)
	Capture(r image.Rectangle) (*image.RGBA, error)
}

type displayGrabber struct{}

func (displayGrabber) Bounds() (image.Rectangle, error) { return screenshot.ScreenRect() }

func (displayGrabber) Capture(r image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(r)
}

// Option configures a [Source].
type Option func(*Source)

// WithFrameRate sets the capture rate. The default is 10.
func WithFrameRate(fps int) Option {
	return func(s *Source) {
		if fps > 0 {
			s.fps = fps
		}
	}
}

// WithGrabber replaces the display grabber, e.g. with a fake in tests.
func WithGrabber(g Grabber) Option {
	return func(s *Source) { s.grabber = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.log = l }
}

// Source captures the primary display.
type Source struct {
	capture.Loop

	fps     int
	grabber Grabber
	log     *slog.Logger

	mu     sync.Mutex
	region image.Rectangle
	buf    *image.RGBA
}

// New returns a screen source.
func New(opts ...Option) *Source {
	s := &Source{fps: 10, grabber: displayGrabber{}, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.Loop.Name = "screen"
	s.Loop.Log = s.log
	return s
}

// Devices implements [capture.Source].
func (s *Source) Devices(context.Context) ([]capture.Device, error) {
	if _, err := s.grabber.Bounds(); err != nil {
		return nil, fmt.Errorf("screen: query display: %w", err)
	}
	return []capture.Device{{Name: DeviceName, Path: "screen:0"}}, nil
}

// Capabilities implements [capture.Source].
func (s *Source) Capabilities(context.Context, capture.Device) ([]capture.Capability, error) {
	r, err := s.grabber.Bounds()
	if err != nil {
		return nil, fmt.Errorf("screen: query display: %w", err)
	}
	w, h := even(r.Dx()), even(r.Dy())
	if w == 0 || h == 0 {
		return nil, capture.ErrNoCapabilities
	}
	out := []capture.Capability{{Width: w, Height: h, FrameRate: s.fps}}
	for _, sz := range commonSizes {
		if sz.X < w && sz.Y <= h || sz.X <= w && sz.Y < h {
			out = append(out, capture.Capability{Width: sz.X, Height: sz.Y, FrameRate: s.fps})
		}
	}
	return out, nil
}

// Open implements [capture.Source].
func (s *Source) Open(_ context.Context, sel capture.Selection) error {
	if s.Running() {
		return capture.ErrRunning
	}
	screen, err := s.grabber.Bounds()
	if err != nil {
		return fmt.Errorf("screen: query display: %w", err)
	}
	w, h := even(sel.Capability.Width), even(sel.Capability.Height)
	if w <= 0 || h <= 0 || w > screen.Dx() || h > screen.Dy() {
		w, h = even(screen.Dx()), even(screen.Dy())
	}
	fps := sel.Capability.FrameRate
	if fps <= 0 {
		fps = s.fps
	}

	s.mu.Lock()
	s.region = image.Rect(screen.Min.X, screen.Min.Y, screen.Min.X+w, screen.Min.Y+h)
	s.buf = image.NewRGBA(image.Rect(0, 0, w, h))
	s.mu.Unlock()

	s.Loop.Period = time.Second / time.Duration(fps)
	s.Loop.Grab = s.grab
	s.log.Info("screen capture opened", "region", s.region.String(), "frame_rate", fps)
	return nil
}

func (s *Source) grab(context.Context) (*video.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, err := s.grabber.Capture(s.region)
	if err != nil {
		return nil, fmt.Errorf("screen: capture: %w", err)
	}
	// Normalise origin and size; grabbers may return the region in screen
	// coordinates.
	xdraw.Copy(s.buf, image.Point{}, img, img.Bounds(), xdraw.Src, nil)
	f := video.NewFrame(s.buf, 0, time.Now())
	f.Format = video.PixelFormatBGRA
	return f, nil
}

func even(n int) int { return n &^ 1 }

var _ capture.Source = (*Source)(nil)
