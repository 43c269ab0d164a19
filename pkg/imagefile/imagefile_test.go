package imagefile_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/MrWong99/camrec/pkg/imagefile"
)

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want imagefile.Format
	}{
		{"a.jpg", imagefile.JPEG},
		{"a.JPG", imagefile.JPEG},
		{"a.jpeg", imagefile.JPEG},
		{"a.JpEg", imagefile.JPEG},
		{"a.bmp", imagefile.BMP},
		{"a.png", imagefile.PNG},
		{"a.gif", imagefile.GIF},
		{"a.GIF", imagefile.GIF},
		{"a.tif", imagefile.TIFF},
		{"a.TIFF", imagefile.TIFF},
		{"a.exif", imagefile.EXIF},
		{"a.EXIF", imagefile.EXIF},
		{"a.webp", imagefile.PNG},
		{"noext", imagefile.PNG},
		{"dir.jpg/file", imagefile.PNG},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := imagefile.FormatFromPath(tt.path); got != tt.want {
				t.Errorf("FormatFromPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: 90, A: 255})
		}
	}
	return img
}

func TestSaveDecodesWithMatchingCodec(t *testing.T) {
	t.Parallel()

	decoders := map[string]func([]byte) (image.Image, error){
		"snap.png":  func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) },
		"snap.JPG":  func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) },
		"snap.bmp":  func(b []byte) (image.Image, error) { return bmp.Decode(bytes.NewReader(b)) },
		"snap.gif":  func(b []byte) (image.Image, error) { return gif.Decode(bytes.NewReader(b)) },
		"snap.tiff": func(b []byte) (image.Image, error) { return tiff.Decode(bytes.NewReader(b)) },
		"snap.exif": func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) },
		"snap.raw":  func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) },
	}
	dir := t.TempDir()
	for name, decode := range decoders {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(dir, name)
			if err := imagefile.Save(path, testImage()); err != nil {
				t.Fatalf("Save: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			img, err := decode(data)
			if err != nil {
				t.Fatalf("decode %s: %v", name, err)
			}
			if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
				t.Errorf("decoded size = %v, want 8x6", b)
			}
		})
	}
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "deeper", "snap.png")
	if err := imagefile.Save(path, testImage()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not written: %v", err)
	}
}

func TestExifSegment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	if err := imagefile.Encode(&buf, testImage(), imagefile.EXIF, imagefile.WithTimestamp(at)); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b := buf.Bytes()
	if b[0] != 0xFF || b[1] != 0xD8 {
		t.Fatal("missing SOI")
	}
	if b[2] != 0xFF || b[3] != 0xE1 {
		t.Fatalf("APP1 marker = %x %x, want ff e1", b[2], b[3])
	}
	segLen := int(binary.BigEndian.Uint16(b[4:6]))
	seg := b[6 : 4+segLen]
	if !bytes.HasPrefix(seg, []byte("Exif\x00\x00II")) {
		t.Fatalf("segment prefix = %q", seg[:8])
	}
	if !bytes.Contains(seg, []byte("2024:03:09 14:05:06\x00")) {
		t.Error("DateTime not found in Exif segment")
	}
}
