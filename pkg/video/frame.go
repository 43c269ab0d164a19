// Package video defines the frame and sink types shared by capture sources,
// the recording pipeline, and video encoders.
//
// A [Frame] is the unit of transport between a capture source and the
// pipeline. Frames are backed by pooled RGBA buffers: [Frame.Clone] draws a
// buffer from the pool and [Frame.Release] returns it. Whoever holds a frame
// owns it exclusively until it is released.
//
// A [Sink] is an open output video stream. Sinks are created by an [Opener]
// from validated [Params] and are not safe for concurrent use; callers must
// serialise WriteFrame and Close.
package video

import (
	"image"
	"sync"
	"time"
)

// PixelFormat identifies the native pixel layout a source delivered before
// conversion to RGBA. Frame data is always RGBA regardless of this value.
type PixelFormat int

const (
	// PixelFormatRGBA is 32-bit RGBA, 8 bits per channel.
	PixelFormatRGBA PixelFormat = iota

	// PixelFormatBGRA is 32-bit BGRA as delivered by most screen grabbers.
	PixelFormatBGRA

	// PixelFormatYUYV is packed 4:2:2 YUV as delivered by UVC webcams.
	PixelFormatYUYV

	// PixelFormatMJPEG is a motion-JPEG compressed frame.
	PixelFormatMJPEG
)

// String returns the short name of the pixel format.
func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatYUYV:
		return "yuyv"
	case PixelFormatMJPEG:
		return "mjpeg"
	default:
		return "unknown"
	}
}

// Frame is a single captured image plus capture metadata.
type Frame struct {
	// Image holds the pixel data. Its bounds always start at (0,0).
	Image *image.RGBA

	// Format is the native format the source captured in.
	Format PixelFormat

	// Sequence is the source's monotonically increasing frame counter.
	Sequence uint64

	// CapturedAt is the wall-clock instant the source produced the frame.
	CapturedAt time.Time
}

// NewFrame wraps img in a Frame. The frame does not take ownership of a pool
// buffer; releasing it is a no-op for the pixel data.
func NewFrame(img *image.RGBA, seq uint64, at time.Time) *Frame {
	return &Frame{Image: img, Format: PixelFormatRGBA, Sequence: seq, CapturedAt: at}
}

// Width returns the frame width in pixels, or 0 for an empty frame.
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

// Height returns the frame height in pixels, or 0 for an empty frame.
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}

// Clone returns a deep copy of f backed by a pooled buffer. The caller owns
// the clone and must call [Frame.Release] when finished with it.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{Format: f.Format, Sequence: f.Sequence, CapturedAt: f.CapturedAt}
	if f.Image == nil {
		return out
	}
	dst := acquireRGBA(f.Image.Rect.Dx(), f.Image.Rect.Dy())
	copyRGBA(dst, f.Image)
	out.Image = dst
	return out
}

// Release returns the frame's pixel buffer to the pool. The frame must not be
// used afterwards. Release on a nil frame is a no-op.
func (f *Frame) Release() {
	if f == nil || f.Image == nil {
		return
	}
	recycleRGBA(f.Image)
	f.Image = nil
}

// rgbaPool stores *image.RGBA buffers for reuse across clones.
var rgbaPool sync.Pool

// acquireRGBA returns an RGBA image of exactly w×h with origin (0,0). Pixel
// contents are undefined.
func acquireRGBA(w, h int) *image.RGBA {
	rect := image.Rect(0, 0, w, h)
	if w <= 0 || h <= 0 {
		return &image.RGBA{Rect: rect}
	}
	needed := w * h * 4
	if v := rgbaPool.Get(); v != nil {
		img := v.(*image.RGBA)
		if cap(img.Pix) >= needed {
			img.Pix = img.Pix[:needed]
			img.Stride = w * 4
			img.Rect = rect
			return img
		}
	}
	return &image.RGBA{Pix: make([]byte, needed), Stride: w * 4, Rect: rect}
}

func recycleRGBA(img *image.RGBA) {
	if img == nil || img.Pix == nil {
		return
	}
	rgbaPool.Put(img)
}

// copyRGBA copies src row by row into dst, which must be at least as large as
// src's bounds. src may have a non-zero origin or padded stride.
func copyRGBA(dst, src *image.RGBA) {
	w := src.Rect.Dx() * 4
	for y := 0; y < src.Rect.Dy(); y++ {
		so := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		do := y * dst.Stride
		copy(dst.Pix[do:do+w], src.Pix[so:so+w])
	}
}
