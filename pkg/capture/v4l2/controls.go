//go:build linux

package v4l2

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/blackjack/webcam"

	"github.com/MrWong99/camrec/internal/camera"
)

// controlMatchThreshold is the minimum Jaro-Winkler similarity between a
// driver control name and a known alias.
const controlMatchThreshold = 0.92

// aliases lists the UVC driver names of each property's value control and,
// where one exists, its automatic-mode control.
var aliases = map[camera.Property]struct{ value, auto []string }{
	camera.Pan:                   {value: []string{"pan (absolute)", "pan, absolute"}},
	camera.Tilt:                  {value: []string{"tilt (absolute)", "tilt, absolute"}},
	camera.Roll:                  {value: []string{"roll (absolute)", "roll, absolute"}},
	camera.Zoom:                  {value: []string{"zoom, absolute", "zoom (absolute)"}},
	camera.Exposure:              {value: []string{"exposure (absolute)", "exposure time, absolute"}, auto: []string{"exposure, auto", "auto exposure"}},
	camera.Iris:                  {value: []string{"iris, absolute", "iris (absolute)"}},
	camera.Focus:                 {value: []string{"focus (absolute)", "focus, absolute"}, auto: []string{"focus, auto", "focus, automatic continuous"}},
	camera.Brightness:            {value: []string{"brightness"}},
	camera.Contrast:              {value: []string{"contrast"}},
	camera.Hue:                   {value: []string{"hue"}, auto: []string{"hue, auto"}},
	camera.Saturation:            {value: []string{"saturation"}},
	camera.Sharpness:             {value: []string{"sharpness"}},
	camera.Gamma:                 {value: []string{"gamma"}},
	camera.WhiteBalance:          {value: []string{"white balance temperature"}, auto: []string{"white balance temperature, auto", "white balance, automatic"}},
	camera.BacklightCompensation: {value: []string{"backlight compensation"}},
	camera.Gain:                  {value: []string{"gain"}, auto: []string{"gain, automatic"}},
}

// control is the device binding of one property.
type control struct {
	id      webcam.ControlID
	min     int32
	max     int32
	initial int32

	hasAuto     bool
	autoID      webcam.ControlID
	autoOn      int32
	autoOff     int32
	initialAuto bool
}

// discoverControls maps the device's controls onto camera properties. The
// values read here become the defaults that [camera.Apply] restores when an
// override is switched off.
func discoverControls(cam *webcam.Webcam, log *slog.Logger) map[camera.Property]control {
	type devControl struct {
		id       webcam.ControlID
		name     string
		min, max int32
	}
	var all []devControl
	for id, c := range cam.GetControls() {
		all = append(all, devControl{id: id, name: strings.ToLower(c.Name), min: c.Min, max: c.Max})
	}
	lookup := func(names []string) (devControl, bool) {
		var (
			best  devControl
			score float64
		)
		for _, dc := range all {
			for _, n := range names {
				if dc.name == n {
					return dc, true
				}
				if s := matchr.JaroWinkler(dc.name, n, false); s >= controlMatchThreshold && s > score {
					best, score = dc, s
				}
			}
		}
		return best, score > 0
	}

	out := make(map[camera.Property]control)
	for p, a := range aliases {
		dc, ok := lookup(a.value)
		if !ok {
			continue
		}
		v, err := cam.GetControl(dc.id)
		if err != nil {
			log.Debug("control not readable", "property", string(p), "control", dc.name, "err", err)
			continue
		}
		c := control{id: dc.id, min: dc.min, max: dc.max, initial: v}
		if ac, ok := lookup(a.auto); ok {
			c.hasAuto = true
			c.autoID = ac.id
			c.autoOn, c.autoOff = ac.max, ac.min
			// The exposure menu is 1=manual, 3=aperture priority.
			if p == camera.Exposure {
				c.autoOn, c.autoOff = 3, 1
			}
			if av, err := cam.GetControl(ac.id); err == nil {
				c.initialAuto = av == c.autoOn
			}
		}
		out[p] = c
		log.Debug("control mapped", "property", string(p), "control", dc.name, "min", dc.min, "max", dc.max, "value", v)
	}
	return out
}

func (c control) flags(auto bool) camera.Flags {
	switch {
	case !c.hasAuto:
		return camera.FlagsNone
	case auto:
		return camera.FlagsAuto
	default:
		return camera.FlagsManual
	}
}

func (s *Source) lookup(p camera.Property) (*webcam.Webcam, control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil {
		return nil, control{}, fmt.Errorf("v4l2: %s: %w", p, errClosed)
	}
	c, ok := s.controls[p]
	if !ok {
		return nil, control{}, camera.ErrUnsupported
	}
	return s.cam, c, nil
}

// PropertyRange implements [camera.Controller].
func (s *Source) PropertyRange(p camera.Property) (camera.Range, error) {
	_, c, err := s.lookup(p)
	if err != nil {
		return camera.Range{}, err
	}
	return camera.Range{
		Min:     int(c.min),
		Max:     int(c.max),
		Step:    1,
		Default: int(c.initial),
		Flags:   c.flags(c.initialAuto),
	}, nil
}

// SetProperty implements [camera.Controller]. With [camera.FlagsAuto] only
// the automatic-mode control is switched on; the value is left to the
// device.
func (s *Source) SetProperty(p camera.Property, value int, flags camera.Flags) error {
	cam, c, err := s.lookup(p)
	if err != nil {
		return err
	}
	if c.hasAuto {
		mode := c.autoOff
		if flags == camera.FlagsAuto {
			mode = c.autoOn
		}
		if err := cam.SetControl(c.autoID, mode); err != nil {
			return fmt.Errorf("v4l2: set %s mode: %w", p, err)
		}
		if flags == camera.FlagsAuto {
			return nil
		}
	}
	v := min(max(int32(value), c.min), c.max)
	if err := cam.SetControl(c.id, v); err != nil {
		return fmt.Errorf("v4l2: set %s: %w", p, err)
	}
	return nil
}

// Property implements [camera.Controller].
func (s *Source) Property(p camera.Property) (int, camera.Flags, error) {
	cam, c, err := s.lookup(p)
	if err != nil {
		return 0, camera.FlagsNone, err
	}
	v, err := cam.GetControl(c.id)
	if err != nil {
		return 0, camera.FlagsNone, fmt.Errorf("v4l2: get %s: %w", p, err)
	}
	auto := false
	if c.hasAuto {
		if av, err := cam.GetControl(c.autoID); err == nil {
			auto = av == c.autoOn
		}
	}
	return int(v), c.flags(auto), nil
}
