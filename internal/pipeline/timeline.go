package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Reference anchors overlay timestamps to the measurement timeline. Trigger
// is the wall-clock instant of the request; Offset is the measurement time at
// that instant.
type Reference struct {
	Trigger time.Time
	Offset  time.Duration
}

// Elapsed returns the measurement time at now: (now - Trigger) + Offset.
func (r Reference) Elapsed(now time.Time) time.Duration {
	return now.Sub(r.Trigger) + r.Offset
}

// TimestampMode selects how a recording computes its overlay timestamps.
type TimestampMode string

const (
	// TimestampWallClock derives each timestamp from the wall clock.
	TimestampWallClock TimestampMode = "wallclock"

	// TimestampFrameCounter advances by one frame period per written frame.
	TimestampFrameCounter TimestampMode = "framecounter"
)

// ParseTimestampMode parses a configuration value. The empty string selects
// [TimestampWallClock].
func ParseTimestampMode(s string) (TimestampMode, error) {
	switch m := TimestampMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return TimestampWallClock, nil
	case TimestampWallClock, TimestampFrameCounter:
		return m, nil
	default:
		return "", fmt.Errorf("pipeline: unknown timestamp mode %q", s)
	}
}

// timeline yields the overlay timestamp for the frames of one recording. at
// reports the stamp for the frame about to be written; advance is called
// once that write succeeded. Both run with the sink guard held.
type timeline interface {
	at(now time.Time) time.Duration
	advance()
}

type wallClockTimeline struct {
	ref Reference
}

func (w wallClockTimeline) at(now time.Time) time.Duration {
	return w.ref.Elapsed(now)
}

func (wallClockTimeline) advance() {}

type frameCounterTimeline struct {
	seed   time.Duration
	period time.Duration
	n      int64
}

func (f *frameCounterTimeline) at(time.Time) time.Duration {
	return f.seed + time.Duration(f.n)*f.period
}

func (f *frameCounterTimeline) advance() { f.n++ }

func newTimeline(mode TimestampMode, ref Reference, frameRate int) timeline {
	if mode == TimestampFrameCounter && frameRate > 0 {
		return &frameCounterTimeline{seed: ref.Offset, period: time.Second / time.Duration(frameRate)}
	}
	return wallClockTimeline{ref: ref}
}

// MeasurementClock tracks the host's logical measurement time. The host sets
// it at measurement start; in between it advances with the wall clock.
type MeasurementClock struct {
	now func() time.Time

	mu   sync.Mutex
	base time.Duration
	at   time.Time
}

// NewMeasurementClock returns a clock reading zero at creation. A nil now
// uses time.Now.
func NewMeasurementClock(now func() time.Time) *MeasurementClock {
	if now == nil {
		now = time.Now
	}
	return &MeasurementClock{now: now, at: now()}
}

// Set sets the current measurement time.
func (c *MeasurementClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = d
	c.at = c.now()
}

// Current returns the current measurement time.
func (c *MeasurementClock) Current() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base + c.now().Sub(c.at)
}

// Reference captures the current wall-clock instant and measurement time.
func (c *MeasurementClock) Reference() Reference {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	return Reference{Trigger: now, Offset: c.base + now.Sub(c.at)}
}
