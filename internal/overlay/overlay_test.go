package overlay_test

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MrWong99/camrec/internal/overlay"
)

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00000.000"},
		{1500 * time.Millisecond, "00001.500"},
		{12*time.Second + 345*time.Millisecond, "00012.345"},
		{-time.Second, "00000.000"},
		{99999 * time.Second, "99999.000"},
	}
	for _, tt := range tests {
		if got := overlay.FormatElapsed(tt.in); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func fill(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestRenderBoxAndText(t *testing.T) {
	t.Parallel()

	r, err := overlay.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	red := color.RGBA{R: 255, A: 255}
	img := fill(320, 240, red)
	r.Render(img, 3*time.Second)

	// Box corner outside the glyph area stays black.
	if got := img.RGBAAt(162, 38); got != (color.RGBA{A: 255}) {
		t.Errorf("box pixel = %+v, want black", got)
	}
	// Just outside the box is untouched.
	if got := img.RGBAAt(170, 10); got != red {
		t.Errorf("pixel outside box = %+v, want red", got)
	}

	// Some glyph pixels inside the text band must be light.
	var light int
	for y := 5; y < 35; y++ {
		for x := 0; x < 161; x++ {
			if img.RGBAAt(x, y).R > 128 && img.RGBAAt(x, y).G > 128 {
				light++
			}
		}
	}
	if light == 0 {
		t.Error("no text pixels rendered")
	}
	// Nothing drawn right of the right-alignment edge inside the box.
	for y := 0; y < 40; y++ {
		for x := 162; x < 165; x++ {
			if got := img.RGBAAt(x, y); got.G > 0 {
				t.Fatalf("text overflowed alignment edge at (%d,%d): %+v", x, y, got)
			}
		}
	}
}

func TestRenderLogoTopRight(t *testing.T) {
	t.Parallel()

	logo := fill(10, 6, color.RGBA{B: 255, A: 255})
	r, err := overlay.New(overlay.WithLogo(logo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	img := fill(200, 100, color.RGBA{R: 255, A: 255})
	r.Render(img, 0)

	if got := img.RGBAAt(199, 0); got.B != 255 || got.R != 0 {
		t.Errorf("top-right pixel = %+v, want logo blue", got)
	}
	// A 10px logo flush right on a 200px frame spans x=190..199.
	if got := img.RGBAAt(190, 0); got.B != 255 || got.R != 0 {
		t.Errorf("logo left edge = %+v, want logo blue", got)
	}
	if got := img.RGBAAt(189, 0); got.R != 255 || got.B != 0 {
		t.Errorf("pixel left of logo = %+v, want red", got)
	}
	if got := img.RGBAAt(199, 6); got.R != 255 {
		t.Errorf("pixel below logo = %+v, want red", got)
	}
}

func TestRenderSmallFrame(t *testing.T) {
	t.Parallel()

	r, err := overlay.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	img := fill(40, 20, color.RGBA{R: 255, A: 255})
	r.Render(img, time.Second)
	r.Render(nil, time.Second)
}

func TestLoadLogo(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logo.png")
	if err := imaging.Save(fill(4, 4, color.RGBA{G: 255, A: 255}), path); err != nil {
		t.Fatal(err)
	}
	img, err := overlay.LoadLogo(path)
	if err != nil {
		t.Fatalf("LoadLogo: %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Errorf("logo width = %d, want 4", img.Bounds().Dx())
	}
	if _, err := overlay.LoadLogo(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing logo")
	}
}
