package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// ErrShortFrame is returned when a raw frame holds fewer bytes than its
// dimensions require.
var ErrShortFrame = errors.New("capture: short frame")

// YUYV converts a packed YUYV 4:2:2 frame of w×h pixels into dst. scratch is
// reused for the planar intermediate when large enough; the returned image
// should be passed back on the next call.
func YUYV(dst *image.RGBA, src []byte, w, h int, scratch *image.YCbCr) (*image.YCbCr, error) {
	if len(src) < w*h*2 {
		return scratch, fmt.Errorf("%w: yuyv %dx%d needs %d bytes, got %d", ErrShortFrame, w, h, w*h*2, len(src))
	}
	r := image.Rect(0, 0, w, h)
	if scratch == nil || scratch.Rect != r || scratch.SubsampleRatio != image.YCbCrSubsampleRatio422 {
		scratch = image.NewYCbCr(r, image.YCbCrSubsampleRatio422)
	}

	for y := 0; y < h; y++ {
		row := src[y*w*2 : (y+1)*w*2]
		yo := y * scratch.YStride
		co := y * scratch.CStride
		for x := 0; x+1 < w; x += 2 {
			i := x * 2
			scratch.Y[yo+x] = row[i]
			scratch.Y[yo+x+1] = row[i+2]
			scratch.Cb[co+x/2] = row[i+1]
			scratch.Cr[co+x/2] = row[i+3]
		}
	}
	xdraw.Copy(dst, image.Point{}, scratch, r, xdraw.Src, nil)
	return scratch, nil
}

// MJPEG decodes one motion-JPEG frame into dst.
func MJPEG(dst *image.RGBA, data []byte) error {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("capture: decode mjpeg: %w", err)
	}
	xdraw.Copy(dst, image.Point{}, img, img.Bounds(), xdraw.Src, nil)
	return nil
}
