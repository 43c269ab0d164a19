package hostvars

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/camrec/internal/camera"
	"github.com/MrWong99/camrec/internal/pipeline"
	"github.com/MrWong99/camrec/pkg/video"
)

// Standard variable names.
const (
	VarCameraCurrent    = "camera.current"
	VarSnapshotFilename = "snapshot.filename"
	VarVideoState       = "video.state"
	VarVideoFilename    = "video.filename"
	VarVideoBitrate     = "video.bitrate"
	VarMeasurementTime  = "measurement.time"
)

// Values of [VarVideoState].
const (
	StateStopped   = "stopped"
	StateRecording = "recording"
)

// Property variable fields.
const (
	FieldOverride = "override"
	FieldValue    = "value"
	FieldFlags    = "flags"
)

// PropertyVar returns the variable name of one field of a camera property,
// e.g. "camera.brightness.value".
func PropertyVar(p camera.Property, field string) string {
	return "camera." + string(p) + "." + field
}

// Recorder is the part of the pipeline the bindings drive.
type Recorder interface {
	RequestSnapshot(path string, ref pipeline.Reference) error
	CancelSnapshot() bool
	StartRecording(ctx context.Context, params pipeline.RecordingParams) (pipeline.RecordingInfo, error)
	StopRecording(ctx context.Context) error
}

// Binding holds what [Bind] wires the variables to.
type Binding struct {
	// Recorder receives snapshot and recording commands.
	Recorder Recorder

	// Camera is the property table. Nil skips the camera.* variables.
	Camera *camera.Table

	// Clock supplies the logical measurement time used to anchor overlays.
	Clock *pipeline.MeasurementClock

	// Stream returns the parameters of the next recording, without path and
	// bitrate, which come from the variables.
	Stream func() video.Params

	// Mode returns the timestamp mode for the next recording.
	Mode func() pipeline.TimestampMode

	// VideoFilename and VideoBitrate are the initial variable values.
	VideoFilename string
	VideoBitrate  int

	Log *slog.Logger
}

// Bind defines the standard variables on bus and registers their callbacks.
func Bind(bus *Bus, b Binding) error {
	if b.Log == nil {
		b.Log = slog.Default()
	}
	if b.Clock == nil {
		b.Clock = pipeline.NewMeasurementClock(time.Now)
	}
	if b.Mode == nil {
		b.Mode = func() pipeline.TimestampMode { return pipeline.TimestampWallClock }
	}

	defs := []struct {
		name    string
		kind    Kind
		initial any
		opts    []DefineOption
	}{
		{VarCameraCurrent, KindString, "", []DefineOption{ReadOnly()}},
		{VarSnapshotFilename, KindString, "", []DefineOption{Trigger()}},
		{VarVideoState, KindString, StateStopped, []DefineOption{OneOf(StateStopped, StateRecording)}},
		{VarVideoFilename, KindString, b.VideoFilename, nil},
		{VarVideoBitrate, KindInt, b.VideoBitrate, nil},
		{VarMeasurementTime, KindFloat, 0.0, nil},
	}
	for _, d := range defs {
		if err := bus.Define(d.name, d.kind, d.initial, d.opts...); err != nil {
			return err
		}
	}

	handlers := map[string]ChangeFunc{
		VarSnapshotFilename: b.onSnapshotFilename,
		VarVideoState:       func(ctx context.Context, c Change) error { return b.onVideoState(ctx, bus, c) },
		VarMeasurementTime:  b.onMeasurementTime,
	}
	for name, fn := range handlers {
		if _, err := bus.OnChange(name, fn); err != nil {
			return err
		}
	}

	if b.Camera != nil {
		if err := bindCamera(bus, b.Camera); err != nil {
			return err
		}
	}
	return nil
}

func (b Binding) onSnapshotFilename(_ context.Context, c Change) error {
	path, _ := c.Value.(string)
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return b.Recorder.RequestSnapshot(path, b.Clock.Reference())
}

// onVideoState restarts on "recording" and stops otherwise. A failed start
// sets the state back to stopped.
func (b Binding) onVideoState(ctx context.Context, bus *Bus, c Change) error {
	if err := b.stop(ctx); err != nil {
		b.Log.Warn("stopping previous recording failed", "err", err)
	}
	if c.Value != StateRecording {
		return nil
	}

	params := b.Stream()
	if v, ok := bus.Get(VarVideoFilename); ok {
		params.Path, _ = v.Value.(string)
	}
	if v, ok := bus.Get(VarVideoBitrate); ok {
		params.Bitrate, _ = v.Value.(int)
	}
	_, err := b.Recorder.StartRecording(ctx, pipeline.RecordingParams{
		Video:     params,
		Mode:      b.Mode(),
		Reference: b.Clock.Reference(),
	})
	if err != nil {
		if rerr := bus.Set(ctx, VarVideoState, StateStopped, OriginSystem); rerr != nil {
			b.Log.Error("resetting video state failed", "err", rerr)
		}
		return fmt.Errorf("hostvars: start recording: %w", err)
	}
	return nil
}

func (b Binding) stop(ctx context.Context) error {
	err := b.Recorder.StopRecording(ctx)
	if errors.Is(err, pipeline.ErrNotRecording) {
		return nil
	}
	return err
}

func (b Binding) onMeasurementTime(_ context.Context, c Change) error {
	secs, _ := c.Value.(float64)
	b.Clock.Set(time.Duration(secs * float64(time.Second)))
	return nil
}

func bindCamera(bus *Bus, tbl *camera.Table) error {
	for _, p := range camera.Properties {
		s := tbl.Setting(p)
		fields := []struct {
			field   string
			kind    Kind
			initial any
			opts    []DefineOption
			apply   func(Change) error
		}{
			{FieldOverride, KindBool, s.Override, nil, func(c Change) error {
				on, _ := c.Value.(bool)
				return tbl.SetOverride(p, on)
			}},
			{FieldValue, KindInt, s.Value, nil, func(c Change) error {
				v, _ := c.Value.(int)
				return tbl.SetValue(p, v)
			}},
			{FieldFlags, KindString, s.Flags.String(), []DefineOption{OneOf("none", "auto", "manual")}, func(c Change) error {
				str, _ := c.Value.(string)
				f, err := camera.ParseFlags(str)
				if err != nil {
					return err
				}
				return tbl.SetFlags(p, f)
			}},
		}
		for _, f := range fields {
			name := PropertyVar(p, f.field)
			if err := bus.Define(name, f.kind, f.initial, f.opts...); err != nil {
				return err
			}
			apply := f.apply
			if _, err := bus.OnChange(name, func(_ context.Context, c Change) error { return apply(c) }); err != nil {
				return err
			}
		}
	}
	return nil
}

// Shutdown performs the host stop sequence: the video state is cleared, a
// pending snapshot is cancelled, the recording is stopped and the current
// camera is cleared.
func Shutdown(ctx context.Context, bus *Bus, rec Recorder) error {
	var errs []error
	if err := bus.Set(ctx, VarVideoState, StateStopped, OriginSystem); err != nil {
		errs = append(errs, err)
	}
	rec.CancelSnapshot()
	if err := rec.StopRecording(ctx); err != nil && !errors.Is(err, pipeline.ErrNotRecording) {
		errs = append(errs, err)
	}
	if err := bus.Set(ctx, VarCameraCurrent, "", OriginSystem); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
