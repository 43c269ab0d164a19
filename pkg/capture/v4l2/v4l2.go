//go:build linux

// Package v4l2 provides a Video4Linux2 webcam [capture.Source] built on
// github.com/blackjack/webcam. Frames are captured as MJPEG when the device
// offers it and as YUYV otherwise, and converted to RGBA.
//
// The source also implements [camera.Controller] by mapping camera properties
// onto the device's V4L2 user controls by name.
package v4l2

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/blackjack/webcam"

	"github.com/MrWong99/camrec/internal/camera"
	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/video"
)

// FourCC codes of the supported capture formats.
const (
	formatMJPEG webcam.PixelFormat = 0x47504A4D
	formatYUYV  webcam.PixelFormat = 0x56595559
)

var errClosed = errors.New("device not open")

// waitTimeout is the WaitForFrame timeout in seconds.
const waitTimeout = 1

// stepwiseSizes are offered for devices that report a continuous size range.
var stepwiseSizes = []image.Point{{X: 320, Y: 240}, {X: 640, Y: 480}, {X: 800, Y: 600}, {X: 1280, Y: 720}, {X: 1920, Y: 1080}}

// Option configures a [Source].
type Option func(*Source)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.log = l }
}

// WithDeviceGlob overrides the glob used to enumerate device nodes. The
// default is /dev/video*.
func WithDeviceGlob(pattern string) Option {
	return func(s *Source) { s.glob = pattern }
}

// Source is a V4L2 webcam.
type Source struct {
	capture.Loop

	log  *slog.Logger
	glob string

	mu       sync.Mutex
	cam      *webcam.Webcam
	format   webcam.PixelFormat
	width    int
	height   int
	buf      *image.RGBA
	planar   *image.YCbCr
	controls map[camera.Property]control
}

// New returns an unopened V4L2 source.
func New(opts ...Option) *Source {
	s := &Source{log: slog.Default(), glob: "/dev/video*"}
	for _, o := range opts {
		o(s)
	}
	s.Loop.Name = "v4l2"
	s.Loop.Log = s.log
	return s
}

// Devices implements [capture.Source]. Device names come from sysfs; nodes
// without a readable name are listed under their path.
func (s *Source) Devices(context.Context) ([]capture.Device, error) {
	paths, err := filepath.Glob(s.glob)
	if err != nil {
		return nil, fmt.Errorf("v4l2: list devices: %w", err)
	}
	slices.Sort(paths)
	out := make([]capture.Device, 0, len(paths))
	for _, p := range paths {
		out = append(out, capture.Device{Name: deviceName(p), Path: p})
	}
	return out, nil
}

func deviceName(path string) string {
	b, err := os.ReadFile(filepath.Join("/sys/class/video4linux", filepath.Base(path), "name"))
	if err != nil {
		return path
	}
	if n := strings.TrimSpace(string(b)); n != "" {
		return n
	}
	return path
}

// Capabilities implements [capture.Source]. It opens d briefly to query the
// frame sizes of its preferred pixel format.
func (s *Source) Capabilities(_ context.Context, d capture.Device) ([]capture.Capability, error) {
	cam, err := webcam.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("v4l2: open %s: %w", d.Path, err)
	}
	defer cam.Close()

	format, ok := pickFormat(cam.GetSupportedFormats())
	if !ok {
		return nil, fmt.Errorf("v4l2: %s: no MJPEG or YUYV format", d.Path)
	}
	var out []capture.Capability
	for _, fs := range cam.GetSupportedFrameSizes(format) {
		if fs.StepWidth == 0 && fs.StepHeight == 0 || fs.MinWidth == fs.MaxWidth && fs.MinHeight == fs.MaxHeight {
			out = append(out, capture.Capability{Width: int(fs.MaxWidth), Height: int(fs.MaxHeight)})
			continue
		}
		for _, sz := range stepwiseSizes {
			if uint32(sz.X) >= fs.MinWidth && uint32(sz.X) <= fs.MaxWidth &&
				uint32(sz.Y) >= fs.MinHeight && uint32(sz.Y) <= fs.MaxHeight {
				out = append(out, capture.Capability{Width: sz.X, Height: sz.Y})
			}
		}
	}
	if len(out) == 0 {
		return nil, capture.ErrNoCapabilities
	}
	return out, nil
}

func pickFormat(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	for _, f := range []webcam.PixelFormat{formatMJPEG, formatYUYV} {
		if _, ok := formats[f]; ok {
			return f, true
		}
	}
	return 0, false
}

// Open implements [capture.Source]. A previously opened device is closed.
func (s *Source) Open(_ context.Context, sel capture.Selection) error {
	if s.Running() {
		return capture.ErrRunning
	}
	cam, err := webcam.Open(sel.Device.Path)
	if err != nil {
		return fmt.Errorf("v4l2: open %s: %w", sel.Device.Path, err)
	}
	format, ok := pickFormat(cam.GetSupportedFormats())
	if !ok {
		cam.Close()
		return fmt.Errorf("v4l2: %s: no MJPEG or YUYV format", sel.Device.Path)
	}
	got, w, h, err := cam.SetImageFormat(format, uint32(sel.Capability.Width), uint32(sel.Capability.Height))
	if err != nil {
		cam.Close()
		return fmt.Errorf("v4l2: set format %dx%d: %w", sel.Capability.Width, sel.Capability.Height, err)
	}
	if int(w) != sel.Capability.Width || int(h) != sel.Capability.Height {
		s.log.Warn("device adjusted frame size", "requested", sel.Capability.String(), "width", w, "height", h)
	}

	s.mu.Lock()
	if s.cam != nil {
		s.cam.Close()
	}
	s.cam = cam
	s.format = got
	s.width, s.height = int(w), int(h)
	s.buf = image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	s.planar = nil
	s.controls = discoverControls(cam, s.log)
	s.mu.Unlock()

	s.Loop.Period = 0
	s.Loop.Grab = s.grab
	s.log.Info("webcam opened",
		"path", sel.Device.Path,
		"name", sel.Device.Name,
		"format", formatName(got),
		"width", w,
		"height", h,
		"controls", len(s.controls),
	)
	return nil
}

// Start implements [capture.Source].
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	cam := s.cam
	s.mu.Unlock()
	if cam == nil {
		return capture.ErrNotOpen
	}
	if s.Running() {
		return capture.ErrRunning
	}
	if err := cam.StartStreaming(); err != nil {
		return fmt.Errorf("v4l2: start streaming: %w", err)
	}
	return s.Loop.Start(ctx)
}

// Stop implements [capture.Source].
func (s *Source) Stop() error {
	if err := s.Loop.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil {
		return nil
	}
	if err := s.cam.StopStreaming(); err != nil {
		return fmt.Errorf("v4l2: stop streaming: %w", err)
	}
	return nil
}

// Close stops capture and releases the device.
func (s *Source) Close() error {
	stopErr := s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil {
		return stopErr
	}
	err := s.cam.Close()
	s.cam = nil
	s.controls = nil
	return errors.Join(stopErr, err)
}

func (s *Source) grab(context.Context) (*video.Frame, error) {
	s.mu.Lock()
	cam := s.cam
	s.mu.Unlock()
	if cam == nil {
		return nil, capture.ErrNotOpen
	}

	err := cam.WaitForFrame(waitTimeout)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return nil, capture.ErrSkipFrame
	default:
		return nil, fmt.Errorf("v4l2: wait for frame: %w", err)
	}
	data, err := cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("v4l2: read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, capture.ErrSkipFrame
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := video.NewFrame(s.buf, 0, time.Now())
	switch s.format {
	case formatMJPEG:
		f.Format = video.PixelFormatMJPEG
		err = capture.MJPEG(s.buf, data)
	default:
		f.Format = video.PixelFormatYUYV
		s.planar, err = capture.YUYV(s.buf, data, s.width, s.height, s.planar)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func formatName(f webcam.PixelFormat) string {
	switch f {
	case formatMJPEG:
		return "mjpeg"
	case formatYUYV:
		return "yuyv"
	default:
		return fmt.Sprintf("0x%08x", uint32(f))
	}
}

var (
	_ capture.Source    = (*Source)(nil)
	_ camera.Controller = (*Source)(nil)
)
