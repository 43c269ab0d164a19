// Package overlay stamps recorded and snapshotted frames with a logo and the
// elapsed measurement time.
//
// Layout, in frame pixels: the logo is anchored to the top-right corner; a
// black box covers (0,0)-(165,40); the elapsed seconds are printed in white as
// "00000.000", right-aligned at x=160 with the text top at y=5.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Layout constants.
const (
	DefaultFontSize = 20

	boxWidth  = 165
	boxHeight = 40
	textRight = 160
	textTop   = 5
)

// Option configures a [Renderer].
type Option func(*Renderer)

// WithLogo sets the logo drawn in the top-right corner.
func WithLogo(img image.Image) Option {
	return func(r *Renderer) {
		if img != nil {
			r.logo = imaging.Clone(img)
		}
	}
}

// WithFontSize sets the point size of the elapsed-time text. Values <= 0 are
// ignored.
func WithFontSize(size float64) Option {
	return func(r *Renderer) {
		if size > 0 {
			r.fontSize = size
		}
	}
}

// Renderer draws the overlay. It is safe for concurrent use.
type Renderer struct {
	logo     *image.NRGBA
	fontSize float64

	mu   sync.Mutex // guards face; opentype faces are not concurrency-safe
	face font.Face
}

// New builds a Renderer. It fails only if the embedded font cannot be parsed.
func New(opts ...Option) (*Renderer, error) {
	r := &Renderer{fontSize: DefaultFontSize}
	for _, o := range opts {
		o(r)
	}
	f, err := opentype.Parse(gomonobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("overlay: parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    r.fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("overlay: create font face: %w", err)
	}
	r.face = face
	return r, nil
}

// LoadLogo reads a logo image from path. Orientation tags are honoured.
func LoadLogo(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("overlay: load logo %s: %w", path, err)
	}
	return img, nil
}

// Close releases the font face.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.face == nil {
		return nil
	}
	err := r.face.Close()
	r.face = nil
	return err
}

// FormatElapsed formats d as zero-padded seconds with millisecond precision,
// e.g. "00012.345". Negative durations render as zero.
func FormatElapsed(d time.Duration) string {
	secs := d.Seconds()
	if secs < 0 || math.IsNaN(secs) {
		secs = 0
	}
	return fmt.Sprintf("%09.3f", secs)
}

// Render draws the overlay onto dst in place.
func (r *Renderer) Render(dst *image.RGBA, elapsed time.Duration) {
	if dst == nil {
		return
	}
	b := dst.Bounds()

	if r.logo != nil {
		lb := r.logo.Bounds()
		at := image.Pt(b.Max.X-lb.Dx(), b.Min.Y)
		draw.Draw(dst, image.Rectangle{Min: at, Max: at.Add(lb.Size())}, r.logo, lb.Min, draw.Over)
	}

	box := image.Rect(b.Min.X, b.Min.Y, b.Min.X+boxWidth, b.Min.Y+boxHeight).Intersect(b)
	draw.Draw(dst, box, image.NewUniform(color.Black), image.Point{}, draw.Src)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.face == nil {
		return
	}
	text := FormatElapsed(elapsed)
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: r.face,
	}
	adv := d.MeasureString(text)
	ascent := r.face.Metrics().Ascent
	d.Dot = fixed.Point26_6{
		X: fixed.I(b.Min.X+textRight) - adv,
		Y: fixed.I(b.Min.Y+textTop) + ascent,
	}
	d.DrawString(text)
}
