// Package camera manages device-level image controls such as exposure,
// focus and white balance.
//
// Each [Property] carries a user [Setting]: when Override is set the user
// value and flags are written to the device, otherwise the device default is
// restored. Every apply reads the value back and logs it.
package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrUnsupported is returned by a [Controller] for properties the device
// does not expose.
var ErrUnsupported = errors.New("camera: property not supported")

// Property names a device control.
type Property string

// Camera-control properties.
const (
	Pan      Property = "pan"
	Tilt     Property = "tilt"
	Roll     Property = "roll"
	Zoom     Property = "zoom"
	Exposure Property = "exposure"
	Iris     Property = "iris"
	Focus    Property = "focus"
)

// Video processing-amplifier properties.
const (
	Brightness            Property = "brightness"
	Contrast              Property = "contrast"
	Hue                   Property = "hue"
	Saturation            Property = "saturation"
	Sharpness             Property = "sharpness"
	Gamma                 Property = "gamma"
	ColorEnable           Property = "color_enable"
	WhiteBalance          Property = "white_balance"
	BacklightCompensation Property = "backlight_compensation"
	Gain                  Property = "gain"
)

// Properties lists every property in apply order.
var Properties = []Property{
	Pan, Tilt, Roll, Zoom, Exposure, Iris, Focus,
	Brightness, Contrast, Hue, Saturation, Sharpness, Gamma,
	ColorEnable, WhiteBalance, BacklightCompensation, Gain,
}

// ParseProperty returns the property named s, case-insensitively.
func ParseProperty(s string) (Property, error) {
	p := Property(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Properties {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("camera: unknown property %q", s)
}

// Flags selects automatic or manual control of a property.
type Flags int

const (
	FlagsNone   Flags = 0
	FlagsAuto   Flags = 1
	FlagsManual Flags = 2
)

// String returns "auto", "manual" or "none".
func (f Flags) String() string {
	switch f {
	case FlagsAuto:
		return "auto"
	case FlagsManual:
		return "manual"
	default:
		return "none"
	}
}

// ParseFlags parses "auto", "manual" or "" (none).
func ParseFlags(s string) (Flags, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FlagsNone, nil
	case "auto":
		return FlagsAuto, nil
	case "manual":
		return FlagsManual, nil
	default:
		return FlagsNone, fmt.Errorf("camera: unknown flags %q", s)
	}
}

// Setting is the user configuration of one property.
type Setting struct {
	Override bool
	Value    int
	Flags    Flags
}

// Range describes the values a device accepts for a property.
type Range struct {
	Min, Max, Step, Default int
	Flags                   Flags
}

// Controller reads and writes device properties.
type Controller interface {
	// PropertyRange returns the supported range and default of p.
	PropertyRange(p Property) (Range, error)

	// SetProperty writes value and flags to p.
	SetProperty(p Property, value int, flags Flags) error

	// Property reads the current value and flags of p.
	Property(p Property) (int, Flags, error)
}

// Reading is the value read back after an apply.
type Reading struct {
	Value int
	Flags Flags
}

// Apply writes s to the device, or restores the device default when
// s.Override is false, and reads the result back.
func Apply(ctrl Controller, p Property, s Setting, log *slog.Logger) (Reading, error) {
	if log == nil {
		log = slog.Default()
	}
	if s.Override {
		log.Info("setting camera property to user value", "property", string(p), "value", s.Value, "flags", s.Flags.String())
		if err := ctrl.SetProperty(p, s.Value, s.Flags); err != nil {
			return Reading{}, fmt.Errorf("camera: set %s: %w", p, err)
		}
	} else {
		r, err := ctrl.PropertyRange(p)
		if err != nil {
			return Reading{}, fmt.Errorf("camera: range of %s: %w", p, err)
		}
		log.Info("setting camera property to default", "property", string(p), "value", r.Default, "flags", r.Flags.String())
		if err := ctrl.SetProperty(p, r.Default, r.Flags); err != nil {
			return Reading{}, fmt.Errorf("camera: reset %s: %w", p, err)
		}
	}

	v, f, err := ctrl.Property(p)
	if err != nil {
		return Reading{}, fmt.Errorf("camera: read back %s: %w", p, err)
	}
	log.Info("camera property applied", "property", string(p), "value", v, "flags", f.String())
	return Reading{Value: v, Flags: f}, nil
}

// Table holds the user settings of every property and applies changes to a
// controller. It is safe for concurrent use.
type Table struct {
	log *slog.Logger

	mu       sync.Mutex
	ctrl     Controller
	settings map[Property]Setting
}

// NewTable returns a Table seeded with initial. Properties missing from
// initial start without override.
func NewTable(initial map[Property]Setting, log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	t := &Table{log: log, settings: make(map[Property]Setting, len(Properties))}
	for p, s := range initial {
		t.settings[p] = s
	}
	return t
}

// Attach binds the table to a device controller. A nil controller detaches.
func (t *Table) Attach(ctrl Controller) {
	t.mu.Lock()
	t.ctrl = ctrl
	t.mu.Unlock()
}

// Setting returns the current user setting for p.
func (t *Table) Setting(p Property) Setting {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings[p]
}

// ApplyAll applies every property in [Properties] order. Properties the
// device does not support are skipped.
func (t *Table) ApplyAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctrl == nil {
		return nil
	}
	var errs []error
	for _, p := range Properties {
		if err := t.applyLocked(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetOverride changes the override switch of p and always applies it.
func (t *Table) SetOverride(p Property, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.settings[p]
	s.Override = on
	t.settings[p] = s
	return t.applyLocked(p)
}

// SetValue changes the user value of p. It is applied only while override
// is on.
func (t *Table) SetValue(p Property, v int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.settings[p]
	s.Value = v
	t.settings[p] = s
	if !s.Override {
		return nil
	}
	return t.applyLocked(p)
}

// SetFlags changes the user flags of p. They are applied only while
// override is on.
func (t *Table) SetFlags(p Property, f Flags) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.settings[p]
	s.Flags = f
	t.settings[p] = s
	if !s.Override {
		return nil
	}
	return t.applyLocked(p)
}

// Replace swaps all settings, for config reloads, and applies properties
// whose setting changed.
func (t *Table) Replace(settings map[Property]Setting) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, p := range Properties {
		next := settings[p]
		if next == t.settings[p] {
			continue
		}
		t.settings[p] = next
		if err := t.applyLocked(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Table) applyLocked(p Property) error {
	if t.ctrl == nil {
		return nil
	}
	_, err := Apply(t.ctrl, p, t.settings[p], t.log)
	if errors.Is(err, ErrUnsupported) {
		t.log.Debug("camera property not supported by device", "property", string(p))
		return nil
	}
	return err
}
