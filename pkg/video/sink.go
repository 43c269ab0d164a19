package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

var (
	// ErrOddDimensions is returned when a sink is opened with a width or
	// height that is not a multiple of two.
	ErrOddDimensions = errors.New("video: resolution must be a multiple of two")

	// ErrInvalidCodec is returned for unknown codec identifiers.
	ErrInvalidCodec = errors.New("video: invalid codec")

	// ErrSizeMismatch is returned by WriteFrame when the frame size differs
	// from the size the sink was opened with.
	ErrSizeMismatch = errors.New("video: frame size differs from sink size")

	// ErrSinkClosed is returned by WriteFrame after Close.
	ErrSinkClosed = errors.New("video: sink is closed")
)

// Params describes the output stream a [Sink] is opened with.
type Params struct {
	// Path is the destination file. Its extension selects the container.
	Path string

	// Width and Height are the frame dimensions in pixels. Both must be even.
	Width  int
	Height int

	// FrameRate is the nominal frames per second.
	FrameRate int

	// Bitrate is the target bitrate in bits per second. Zero lets the
	// encoder choose.
	Bitrate int

	// Codec selects the encoder.
	Codec Codec
}

// Validate checks that p describes an openable stream.
func (p Params) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Path) == "" {
		errs = append(errs, errors.New("video: path is required"))
	}
	if p.Width <= 0 || p.Height <= 0 {
		errs = append(errs, fmt.Errorf("video: invalid resolution %dx%d", p.Width, p.Height))
	} else if p.Width&1 != 0 || p.Height&1 != 0 {
		errs = append(errs, fmt.Errorf("%w: %dx%d", ErrOddDimensions, p.Width, p.Height))
	}
	if p.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("video: frame rate must be positive, got %d", p.FrameRate))
	}
	if p.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("video: bitrate must not be negative, got %d", p.Bitrate))
	}
	if !p.Codec.Valid() {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidCodec, int(p.Codec)))
	}
	return errors.Join(errs...)
}

// CheckSize returns [ErrSizeMismatch] if img does not match p's dimensions.
func (p Params) CheckSize(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != p.Width || b.Dy() != p.Height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrSizeMismatch, b.Dx(), b.Dy(), p.Width, p.Height)
	}
	return nil
}

// Sink is an open output video stream.
//
// Implementations need not be safe for concurrent use; the recording
// pipeline guarantees that at most one goroutine calls WriteFrame or Close
// at a time.
type Sink interface {
	// WriteFrame encodes img as the next frame of the stream.
	WriteFrame(img image.Image) error

	// Close flushes pending output and releases the encoder. Close is called
	// exactly once.
	Close() error
}

// Opener opens a new [Sink]. ctx bounds the open call only; it does not
// govern the lifetime of the returned sink.
type Opener func(ctx context.Context, p Params) (Sink, error)
