//go:build linux

package v4l2

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/blackjack/webcam"

	"github.com/MrWong99/camrec/internal/camera"
)

func TestPickFormatPrefersMJPEG(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		formats map[webcam.PixelFormat]string
		want    webcam.PixelFormat
		ok      bool
	}{
		{"both", map[webcam.PixelFormat]string{formatYUYV: "YUYV", formatMJPEG: "MJPG"}, formatMJPEG, true},
		{"yuyv only", map[webcam.PixelFormat]string{formatYUYV: "YUYV"}, formatYUYV, true},
		{"unsupported", map[webcam.PixelFormat]string{0x3231564e: "NV12"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := pickFormat(tt.formats)
			if got != tt.want || ok != tt.ok {
				t.Errorf("pickFormat = %s, %v; want %s, %v", formatName(got), ok, formatName(tt.want), tt.ok)
			}
		})
	}
}

func TestFormatName(t *testing.T) {
	t.Parallel()

	if got := formatName(formatMJPEG); got != "mjpeg" {
		t.Errorf("formatName(MJPG) = %q", got)
	}
	if got := formatName(0x3231564e); got != "0x3231564e" {
		t.Errorf("formatName(NV12) = %q", got)
	}
}

func TestDevicesEmptyGlob(t *testing.T) {
	t.Parallel()

	src := New(WithDeviceGlob(filepath.Join(t.TempDir(), "video*")))
	devs, err := src.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devs) != 0 {
		t.Errorf("devices = %v, want none", devs)
	}
}

func TestControllerWithoutDevice(t *testing.T) {
	t.Parallel()

	src := New()
	if _, err := src.PropertyRange(camera.Brightness); err == nil {
		t.Error("PropertyRange on closed source succeeded")
	}
	if err := src.Start(context.Background()); err == nil {
		t.Error("Start on closed source succeeded")
	}
}

func TestControlFlags(t *testing.T) {
	t.Parallel()

	plain := control{}
	if got := plain.flags(true); got != camera.FlagsNone {
		t.Errorf("flags without auto control = %v", got)
	}
	auto := control{hasAuto: true}
	if got := auto.flags(true); got != camera.FlagsAuto {
		t.Errorf("flags(auto) = %v", got)
	}
	if got := auto.flags(false); got != camera.FlagsManual {
		t.Errorf("flags(manual) = %v", got)
	}
}
