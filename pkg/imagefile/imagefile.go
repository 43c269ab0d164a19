// Package imagefile saves still images in the format implied by the target
// file name.
//
// The mapping is case-insensitive: .jpg/.jpeg → JPEG, .bmp → BMP, .png → PNG,
// .gif → GIF, .tif/.tiff → TIFF, .exif → JPEG with an Exif APP1 segment.
// Anything else is written as PNG.
package imagefile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

// Format identifies an output encoding.
type Format int

const (
	PNG Format = iota
	JPEG
	BMP
	GIF
	TIFF
	EXIF
)

// String returns the canonical upper-case name of f.
func (f Format) String() string {
	switch f {
	case PNG:
		return "PNG"
	case JPEG:
		return "JPEG"
	case BMP:
		return "BMP"
	case GIF:
		return "GIF"
	case TIFF:
		return "TIFF"
	case EXIF:
		return "EXIF"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

var extFormats = map[string]Format{
	".jpg":  JPEG,
	".jpeg": JPEG,
	".bmp":  BMP,
	".png":  PNG,
	".gif":  GIF,
	".tif":  TIFF,
	".tiff": TIFF,
	".exif": EXIF,
}

// FormatFromPath returns the format for path's extension. Unknown or missing
// extensions map to [PNG].
func FormatFromPath(path string) Format {
	if f, ok := extFormats[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	return PNG
}

// Option configures an encode call.
type Option func(*options)

type options struct {
	quality int
	taken   time.Time
}

// WithJPEGQuality sets the JPEG quality (1-100) used for [JPEG] and [EXIF].
func WithJPEGQuality(q int) Option {
	return func(o *options) {
		if q >= 1 && q <= 100 {
			o.quality = q
		}
	}
}

// WithTimestamp sets the DateTime written into the Exif segment.
func WithTimestamp(t time.Time) Option {
	return func(o *options) { o.taken = t }
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img image.Image, f Format, opts ...Option) error {
	o := options{quality: 95, taken: time.Now()}
	for _, opt := range opts {
		opt(&o)
	}

	switch f {
	case PNG:
		return imaging.Encode(w, img, imaging.PNG)
	case JPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(o.quality))
	case BMP:
		return imaging.Encode(w, img, imaging.BMP)
	case GIF:
		return imaging.Encode(w, img, imaging.GIF)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case EXIF:
		return encodeExif(w, img, o)
	default:
		return fmt.Errorf("imagefile: unsupported format %v", f)
	}
}

// Save encodes img into path using [FormatFromPath]. Missing parent
// directories are created.
func Save(path string, img image.Image, opts ...Option) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("imagefile: create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imagefile: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("imagefile: close %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	format := FormatFromPath(path)
	if err := Encode(bw, img, format, opts...); err != nil {
		return fmt.Errorf("imagefile: encode %s as %s: %w", path, format, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("imagefile: write %s: %w", path, err)
	}
	return nil
}

// encodeExif writes a baseline JPEG with an Exif APP1 segment inserted after
// the SOI marker.
func encodeExif(w io.Writer, img image.Image, o options) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(o.quality)); err != nil {
		return err
	}
	jpg := buf.Bytes()
	if len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
		return fmt.Errorf("imagefile: encoder produced no SOI marker")
	}
	if _, err := w.Write(jpg[:2]); err != nil {
		return err
	}
	if _, err := w.Write(exifSegment(o.taken)); err != nil {
		return err
	}
	_, err := w.Write(jpg[2:])
	return err
}

// exifSegment builds an APP1 segment holding a little-endian TIFF structure
// with a single IFD0 DateTime entry.
func exifSegment(t time.Time) []byte {
	const (
		tagDateTime = 0x0132
		typeASCII   = 2
		ifdOffset   = 8
		dataOffset  = ifdOffset + 2 + 12 + 4
	)
	stamp := append([]byte(t.Format("2006:01:02 15:04:05")), 0)

	var tiffData bytes.Buffer
	le := binary.LittleEndian
	tiffData.WriteString("II")
	_ = binary.Write(&tiffData, le, uint16(42))
	_ = binary.Write(&tiffData, le, uint32(ifdOffset))
	_ = binary.Write(&tiffData, le, uint16(1))
	_ = binary.Write(&tiffData, le, uint16(tagDateTime))
	_ = binary.Write(&tiffData, le, uint16(typeASCII))
	_ = binary.Write(&tiffData, le, uint32(len(stamp)))
	_ = binary.Write(&tiffData, le, uint32(dataOffset))
	_ = binary.Write(&tiffData, le, uint32(0))
	tiffData.Write(stamp)

	payload := append([]byte("Exif\x00\x00"), tiffData.Bytes()...)
	seg := make([]byte, 4, 4+len(payload))
	seg[0], seg[1] = 0xFF, 0xE1
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}
