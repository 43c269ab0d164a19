//go:build gocv

// Package gocvsink implements [video.Sink] on top of the OpenCV VideoWriter.
//
// It requires cgo and an OpenCV installation and is only compiled with the
// "gocv" build tag.
package gocvsink

import (
	"context"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/MrWong99/camrec/pkg/video"
)

// Open is a [video.Opener] backed by gocv.
func Open(ctx context.Context, p video.Params) (video.Sink, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, err := gocv.VideoWriterFile(p.Path, p.Codec.FourCC(), float64(p.FrameRate), p.Width, p.Height, true)
	if err != nil {
		return nil, fmt.Errorf("gocvsink: open %s: %w", p.Path, err)
	}
	if !w.IsOpened() {
		_ = w.Close()
		return nil, fmt.Errorf("gocvsink: open %s: writer not opened for codec %s", p.Path, p.Codec)
	}
	return &Sink{params: p, w: w}, nil
}

// Sink wraps a gocv.VideoWriter.
type Sink struct {
	params video.Params
	w      *gocv.VideoWriter
	closed bool
}

// WriteFrame implements [video.Sink].
func (s *Sink) WriteFrame(img image.Image) error {
	if s.closed {
		return video.ErrSinkClosed
	}
	if err := s.params.CheckSize(img); err != nil {
		return err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("gocvsink: convert frame: %w", err)
	}
	defer mat.Close()
	if err := s.w.Write(mat); err != nil {
		return fmt.Errorf("gocvsink: write frame: %w", err)
	}
	return nil
}

// Close implements [video.Sink].
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Close(); err != nil {
		return errors.Join(fmt.Errorf("gocvsink: close %s", s.params.Path), err)
	}
	return nil
}

var _ video.Sink = (*Sink)(nil)
