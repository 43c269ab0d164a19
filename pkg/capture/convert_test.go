package capture_test

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/MrWong99/camrec/pkg/capture"
)

func TestYUYV(t *testing.T) {
	t.Parallel()

	// Two pixels of pure white followed by two of black.
	src := []byte{
		255, 128, 255, 128,
		0, 128, 0, 128,
	}
	dst := image.NewRGBA(image.Rect(0, 0, 4, 1))
	scratch, err := capture.YUYV(dst, src, 4, 1, nil)
	if err != nil {
		t.Fatalf("YUYV: %v", err)
	}
	if scratch == nil {
		t.Fatal("scratch buffer not returned")
	}
	for x, want := range []uint8{255, 255, 0, 0} {
		c := dst.RGBAAt(x, 0)
		if diff := int(c.R) - int(want); diff < -2 || diff > 2 {
			t.Errorf("pixel %d = %v, want luma %d", x, c, want)
		}
	}

	again, err := capture.YUYV(dst, src, 4, 1, scratch)
	if err != nil {
		t.Fatal(err)
	}
	if again != scratch {
		t.Error("scratch buffer not reused")
	}
}

func TestYUYVShortFrame(t *testing.T) {
	t.Parallel()

	dst := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if _, err := capture.YUYV(dst, make([]byte, 10), 4, 4, nil); !errors.Is(err, capture.ErrShortFrame) {
		t.Fatalf("err = %v, want ErrShortFrame", err)
	}
}

func TestMJPEG(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, 16, 16))
	if err := capture.MJPEG(dst, buf.Bytes()); err != nil {
		t.Fatalf("MJPEG: %v", err)
	}
	if c := dst.RGBAAt(8, 8); c.R < 250 || c.A != 255 {
		t.Errorf("pixel = %v, want white", c)
	}

	if err := capture.MJPEG(dst, []byte("not a jpeg")); err == nil {
		t.Error("expected error for garbage input")
	}
}
