// Package capture defines frame sources: webcams, screens and synthetic test
// patterns that deliver [video.Frame] values to a handler on their own
// goroutine.
//
// The typical lifecycle is:
//
//	devs, _ := src.Devices(ctx)
//	sel, _ := capture.Choose(ctx, src, capture.Preference{Device: "HD Webcam"}, log)
//	src.OnFrame(p.OnFrameArrived)
//	_ = src.Open(ctx, sel)
//	_ = src.Start(ctx)
//	defer src.Stop()
//
// The frame passed to the handler is only valid for the duration of the call;
// handlers that need it longer must clone it.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/camrec/pkg/video"
)

var (
	// ErrNoDevices is returned when a source enumerates no devices.
	ErrNoDevices = errors.New("capture: no video devices found")

	// ErrNoCapabilities is returned when a device reports no frame sizes.
	ErrNoCapabilities = errors.New("capture: device reports no capabilities")

	// ErrNotOpen is returned by Start before a successful Open.
	ErrNotOpen = errors.New("capture: source not open")

	// ErrRunning is returned by Start and Open while the source is running.
	ErrRunning = errors.New("capture: source already running")

	// ErrSkipFrame may be returned by a [GrabFunc] to skip one tick without
	// counting an error.
	ErrSkipFrame = errors.New("capture: skip frame")
)

// Device identifies one capture device of a source.
type Device struct {
	// Name is the human-readable device name.
	Name string `json:"name"`

	// Path is the source-specific address (e.g. /dev/video0).
	Path string `json:"path"`
}

// Capability is one frame size and rate a device supports.
type Capability struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frame_rate"`
}

// Area returns Width*Height.
func (c Capability) Area() int { return c.Width * c.Height }

// String returns "WxH@fps".
func (c Capability) String() string {
	return fmt.Sprintf("%dx%d@%d", c.Width, c.Height, c.FrameRate)
}

// Selection is the device and capability a source opens with.
type Selection struct {
	Device     Device
	Capability Capability
}

// FrameHandler receives frames on the source's capture goroutine.
type FrameHandler func(*video.Frame)

// Source is a frame-producing device.
//
// Implementations must be safe for concurrent use. Start and Stop may be
// called repeatedly; Stop on a stopped source is a no-op.
type Source interface {
	// Devices enumerates the devices this source can open.
	Devices(ctx context.Context) ([]Device, error)

	// Capabilities lists the frame sizes and rates d supports.
	Capabilities(ctx context.Context, d Device) ([]Capability, error)

	// Open prepares the selected device for streaming.
	Open(ctx context.Context, sel Selection) error

	// Start begins delivering frames to the registered handler. It returns
	// once the capture goroutine is running.
	Start(ctx context.Context) error

	// Stop signals the capture goroutine to exit and waits for it.
	Stop() error

	// Running reports whether frames are being delivered.
	Running() bool

	// OnFrame registers the frame handler. A later call replaces the earlier
	// handler.
	OnFrame(h FrameHandler)
}
