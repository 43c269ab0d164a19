package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a device name to
// count as a match for the preferred name.
const fuzzyThreshold = 0.9

// Preference is the user's wish for device and frame size. Zero values mean
// "no preference".
type Preference struct {
	Device    string
	Width     int
	Height    int
	FrameRate int
}

// SelectDevice picks the device named preferred. An exact (case-insensitive)
// name match wins; otherwise the most similar name scoring at least 0.9 on
// Jaro-Winkler; otherwise the first device.
func SelectDevice(devices []Device, preferred string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevices
	}
	want := strings.TrimSpace(preferred)
	if want == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, want) || d.Path == want {
			return d, nil
		}
	}

	best, bestScore := -1, 0.0
	for i, d := range devices {
		score := matchr.JaroWinkler(strings.ToLower(d.Name), strings.ToLower(want), false)
		if score >= fuzzyThreshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		return devices[best], nil
	}
	return devices[0], nil
}

// SelectCapability returns the capability matching width×height, or the one
// with the largest area when no exact match exists or no size is preferred.
// Among equal sizes the highest frame rate wins unless frameRate matches one
// exactly.
func SelectCapability(caps []Capability, width, height, frameRate int) (Capability, error) {
	if len(caps) == 0 {
		return Capability{}, ErrNoCapabilities
	}

	var (
		best  Capability
		found bool
	)
	if width > 0 && height > 0 {
		for _, c := range caps {
			if c.Width != width || c.Height != height {
				continue
			}
			if !found || better(c, best, frameRate) {
				best, found = c, true
			}
		}
		if found {
			return best, nil
		}
	}

	best = caps[0]
	for _, c := range caps[1:] {
		switch {
		case c.Area() > best.Area():
			best = c
		case c.Area() == best.Area() && better(c, best, frameRate):
			best = c
		}
	}
	return best, nil
}

// better reports whether c beats cur on frame rate for the same size.
func better(c, cur Capability, want int) bool {
	if want > 0 {
		if c.FrameRate == want {
			return cur.FrameRate != want
		}
		if cur.FrameRate == want {
			return false
		}
	}
	return c.FrameRate > cur.FrameRate
}

// Choose enumerates src and picks a device and capability according to pref.
// A preferred frame rate overrides the capability's rate when the device
// reports none.
func Choose(ctx context.Context, src Source, pref Preference, log *slog.Logger) (Selection, error) {
	devices, err := src.Devices(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("capture: enumerate devices: %w", err)
	}
	for _, d := range devices {
		log.Debug("found video source", "name", d.Name, "path", d.Path)
	}
	dev, err := SelectDevice(devices, pref.Device)
	if err != nil {
		return Selection{}, err
	}
	if pref.Device != "" && !strings.EqualFold(dev.Name, pref.Device) {
		log.Warn("preferred video source not found, using fallback", "preferred", pref.Device, "selected", dev.Name)
	}

	caps, err := src.Capabilities(ctx, dev)
	if err != nil {
		return Selection{}, fmt.Errorf("capture: capabilities of %q: %w", dev.Name, err)
	}
	capability, err := SelectCapability(caps, pref.Width, pref.Height, pref.FrameRate)
	if err != nil {
		return Selection{}, fmt.Errorf("capture: %q: %w", dev.Name, err)
	}
	if capability.FrameRate <= 0 {
		capability.FrameRate = pref.FrameRate
	}
	log.Info("video source selected",
		"name", dev.Name,
		"path", dev.Path,
		"width", capability.Width,
		"height", capability.Height,
		"frame_rate", capability.FrameRate,
	)
	return Selection{Device: dev, Capability: capability}, nil
}
