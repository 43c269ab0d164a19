package hostvars_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/camrec/internal/camera"
	cameramock "github.com/MrWong99/camrec/internal/camera/mock"
	"github.com/MrWong99/camrec/internal/hostvars"
	"github.com/MrWong99/camrec/internal/pipeline"
	"github.com/MrWong99/camrec/pkg/video"
	videomock "github.com/MrWong99/camrec/pkg/video/mock"
)

type fixture struct {
	bus    *hostvars.Bus
	p      *pipeline.Pipeline
	opener *videomock.Opener
	ctrl   *cameramock.Controller
	clock  *pipeline.MeasurementClock
}

func newFixture(t *testing.T, opener *videomock.Opener) *fixture {
	t.Helper()
	if opener == nil {
		opener = &videomock.Opener{}
	}
	p := pipeline.New(pipeline.WithOpener(opener.Open), pipeline.WithLogger(discardLogger()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})

	ctrl := &cameramock.Controller{Ranges: map[camera.Property]camera.Range{
		camera.Brightness: {Min: 0, Max: 255, Step: 1, Default: 128},
	}}
	tbl := camera.NewTable(nil, discardLogger())
	tbl.Attach(ctrl)

	bus, _ := newBus(t)
	clock := pipeline.NewMeasurementClock(nil)
	err := hostvars.Bind(bus, hostvars.Binding{
		Recorder: p,
		Camera:   tbl,
		Clock:    clock,
		Stream: func() video.Params {
			return video.Params{Width: 64, Height: 48, FrameRate: 25}
		},
		VideoFilename: "out.mkv",
		VideoBitrate:  500_000,
		Log:           discardLogger(),
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return &fixture{bus: bus, p: p, opener: opener, ctrl: ctrl, clock: clock}
}

func TestBind_DefinesStandardVariables(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	for _, name := range []string{
		hostvars.VarCameraCurrent,
		hostvars.VarSnapshotFilename,
		hostvars.VarVideoState,
		hostvars.VarVideoFilename,
		hostvars.VarVideoBitrate,
		hostvars.VarMeasurementTime,
		hostvars.PropertyVar(camera.Gain, hostvars.FieldFlags),
	} {
		if _, ok := f.bus.Get(name); !ok {
			t.Errorf("variable %q not defined", name)
		}
	}
	if v, _ := f.bus.Get(hostvars.VarVideoState); v.Value != hostvars.StateStopped {
		t.Errorf("initial video state: got %v", v.Value)
	}
}

func TestBind_RecordingLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.bus.Set(ctx, hostvars.VarVideoFilename, "session.mkv", hostvars.OriginHTTP); err != nil {
		t.Fatal(err)
	}
	if err := f.bus.Set(ctx, hostvars.VarVideoState, hostvars.StateRecording, hostvars.OriginHTTP); err != nil {
		t.Fatalf("start: %v", err)
	}
	info, ok := f.p.Recording()
	if !ok {
		t.Fatal("pipeline is not recording")
	}
	if info.Params.Path != "session.mkv" || info.Params.Bitrate != 500_000 || info.Params.Width != 64 {
		t.Errorf("recording params: got %+v", info.Params)
	}

	if err := f.bus.Set(ctx, hostvars.VarVideoState, hostvars.StateStopped, hostvars.OriginHTTP); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := f.p.Recording(); ok {
		t.Error("pipeline still recording after stop")
	}
	if got := f.opener.Last().CloseCount(); got != 1 {
		t.Errorf("sink close count: got %d, want 1", got)
	}
}

func TestBind_FailedStartRevertsState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &videomock.Opener{OpenErr: errors.New("no encoder")})

	err := f.bus.Set(context.Background(), hostvars.VarVideoState, hostvars.StateRecording, hostvars.OriginHTTP)
	if !errors.Is(err, pipeline.ErrSinkOpen) {
		t.Fatalf("err = %v, want ErrSinkOpen", err)
	}
	if v, _ := f.bus.Get(hostvars.VarVideoState); v.Value != hostvars.StateStopped {
		t.Errorf("video state after failed start: got %v, want stopped", v.Value)
	}
}

func TestBind_SnapshotFilename(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.bus.Set(ctx, hostvars.VarSnapshotFilename, "  ", hostvars.OriginHTTP); err != nil {
		t.Fatal(err)
	}
	if f.p.SnapshotPending() {
		t.Error("blank filename armed a snapshot")
	}

	if err := f.bus.Set(ctx, hostvars.VarSnapshotFilename, "snap.png", hostvars.OriginHTTP); err != nil {
		t.Fatal(err)
	}
	if !f.p.SnapshotPending() {
		t.Fatal("snapshot not armed")
	}

	// Same name again re-arms.
	f.p.CancelSnapshot()
	if err := f.bus.Set(ctx, hostvars.VarSnapshotFilename, "snap.png", hostvars.OriginHTTP); err != nil {
		t.Fatal(err)
	}
	if !f.p.SnapshotPending() {
		t.Error("repeated filename did not re-arm the snapshot")
	}
}

func TestBind_MeasurementTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if err := f.bus.Set(context.Background(), hostvars.VarMeasurementTime, 90.0, hostvars.OriginHTTP); err != nil {
		t.Fatal(err)
	}
	if got := f.clock.Current(); got < 90*time.Second || got > 91*time.Second {
		t.Errorf("measurement clock: got %v, want ~90s", got)
	}
}

func TestBind_CameraProperties(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.bus.Set(ctx, hostvars.PropertyVar(camera.Brightness, hostvars.FieldValue), 200, hostvars.OriginHTTP); err != nil {
		t.Fatal(err)
	}
	if n := len(f.ctrl.Sets()); n != 0 {
		t.Errorf("value without override applied %d times", n)
	}

	if err := f.bus.Set(ctx, hostvars.PropertyVar(camera.Brightness, hostvars.FieldOverride), true, hostvars.OriginHTTP); err != nil {
		t.Fatal(err)
	}
	sets := f.ctrl.Sets()
	if len(sets) != 1 || sets[0].Value != 200 {
		t.Fatalf("SetProperty calls: got %+v", sets)
	}

	if err := f.bus.Set(ctx, hostvars.PropertyVar(camera.Brightness, hostvars.FieldFlags), "bogus", hostvars.OriginHTTP); !errors.Is(err, hostvars.ErrInvalidValue) {
		t.Errorf("bad flags: err = %v, want ErrInvalidValue", err)
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_ = f.bus.Set(ctx, hostvars.VarCameraCurrent, "Test Pattern", hostvars.OriginSystem)
	if err := f.bus.Set(ctx, hostvars.VarVideoState, hostvars.StateRecording, hostvars.OriginHTTP); err != nil {
		t.Fatal(err)
	}
	if err := f.bus.Set(ctx, hostvars.VarSnapshotFilename, "s.png", hostvars.OriginHTTP); err != nil {
		t.Fatal(err)
	}

	if err := hostvars.Shutdown(ctx, f.bus, f.p); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, ok := f.p.Recording(); ok {
		t.Error("still recording")
	}
	if f.p.SnapshotPending() {
		t.Error("snapshot still pending")
	}
	if v, _ := f.bus.Get(hostvars.VarCameraCurrent); v.Value != "" {
		t.Errorf("camera.current: got %v", v.Value)
	}
	if v, _ := f.bus.Get(hostvars.VarVideoState); v.Value != hostvars.StateStopped {
		t.Errorf("video.state: got %v", v.Value)
	}
}
