// Package app wires all camrec subsystems into a running application.
//
// The App struct owns the full lifecycle: New selects and opens the capture
// source and connects it to the recording pipeline, the host variable bus and
// the HTTP control surface; Run captures and serves until its context ends;
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSource, WithOpener,
// etc.). When an option is not provided, New creates real implementations
// from the config through the component [config.Registry].
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/camrec/internal/camera"
	"github.com/MrWong99/camrec/internal/config"
	"github.com/MrWong99/camrec/internal/health"
	"github.com/MrWong99/camrec/internal/hostvars"
	"github.com/MrWong99/camrec/internal/observe"
	"github.com/MrWong99/camrec/internal/overlay"
	"github.com/MrWong99/camrec/internal/pipeline"
	"github.com/MrWong99/camrec/internal/resilience"
	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/video"
)

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.RWMutex
	cfg *config.Config

	log            *slog.Logger
	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler
	registry       *config.Registry
	configPath     string
	watchInterval  time.Duration

	// Subsystems, initialised in New and torn down in Shutdown.
	source    capture.Source
	opener    video.Opener
	selection capture.Selection
	pipeline  *pipeline.Pipeline
	camera    *camera.Table
	clock     *pipeline.MeasurementClock
	bus       *hostvars.Bus
	handler   http.Handler

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown.
	closers []func(ctx context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a capture source instead of creating one from config.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithOpener injects a video opener instead of creating one from config.
func WithOpener(o video.Opener) Option {
	return func(a *App) { a.opener = o }
}

// WithRegistry replaces the builtin component registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads adjust the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigPath enables hot reloading of the file at path during Run.
func WithConfigPath(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It selects and opens
// the capture device but does not start capturing; that happens in Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltins(a.registry, a.log)
	}

	// ── 1. Components ────────────────────────────────────────────────────
	if err := a.initComponents(); err != nil {
		return nil, fmt.Errorf("app: init components: %w", err)
	}

	// ── 2. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 3. Capture device ────────────────────────────────────────────────
	if err := a.initCapture(ctx); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 4. Host variables ────────────────────────────────────────────────
	if err := a.initHostVars(ctx); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: init host variables: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initComponents() error {
	if a.source == nil {
		src, err := a.registry.CreateSource(a.cfg.Capture)
		if err != nil {
			return fmt.Errorf("create source %q: %w", a.cfg.Capture.Source, err)
		}
		a.source = src
	}
	if a.opener == nil {
		op, err := a.registry.CreateEncoder(a.cfg.Recording)
		if err != nil {
			return fmt.Errorf("create encoder %q: %w", a.cfg.Recording.Encoder, err)
		}
		a.opener = op
	}
	a.log.Info("components created", "source", a.cfg.Capture.Source, "encoder", a.cfg.Recording.Encoder)
	return nil
}

func (a *App) initPipeline() error {
	renderer, err := buildOverlay(a.cfg.Overlay)
	if err != nil {
		return err
	}

	a.pipeline = pipeline.New(
		pipeline.WithOpener(a.opener),
		pipeline.WithOverlay(renderer),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.log),
		pipeline.WithStopTimeout(a.cfg.Recording.StopTimeout),
		pipeline.WithJPEGQuality(a.cfg.Snapshot.JPEGQuality),
		pipeline.WithBreaker(resilience.Config{
			MaxFailures: a.cfg.Recording.Breaker.MaxFailures,
			Cooldown:    a.cfg.Recording.Breaker.Cooldown,
		}),
	)
	a.clock = pipeline.NewMeasurementClock(nil)
	a.camera = camera.NewTable(a.cfg.Camera.Settings(), a.log)

	a.closers = append(a.closers, a.pipeline.Close)
	a.closers = append(a.closers, func(context.Context) error {
		if r := a.pipeline.SetOverlay(nil); r != nil {
			return r.Close()
		}
		return nil
	})
	return nil
}

// initCapture picks the device and resolution, opens the source and hooks its
// frames into the pipeline. Sources that expose device controls get the
// configured camera properties applied.
func (a *App) initCapture(ctx context.Context) error {
	sel, err := capture.Choose(ctx, a.source, capture.Preference{
		Device:    a.cfg.Capture.Device,
		Width:     a.cfg.Capture.Width,
		Height:    a.cfg.Capture.Height,
		FrameRate: a.cfg.Capture.FrameRate,
	}, a.log)
	if err != nil {
		return err
	}
	if err := a.source.Open(ctx, sel); err != nil {
		return fmt.Errorf("open %s: %w", sel.Device.Name, err)
	}
	a.selection = sel
	a.source.OnFrame(a.pipeline.OnFrameArrived)

	// Closers run in order: the source must stop before the pipeline closes.
	a.closers = append([]func(context.Context) error{a.stopSource}, a.closers...)

	if ctrl, ok := a.source.(camera.Controller); ok {
		a.camera.Attach(ctrl)
		if err := a.camera.ApplyAll(); err != nil {
			a.log.Warn("applying camera properties failed", "err", err)
		}
	}
	return nil
}

func (a *App) initHostVars(ctx context.Context) error {
	a.bus = hostvars.NewBus(hostvars.WithLogger(a.log), hostvars.WithMetrics(a.metrics))
	err := hostvars.Bind(a.bus, hostvars.Binding{
		Recorder:      a.pipeline,
		Camera:        a.camera,
		Clock:         a.clock,
		Stream:        a.streamParams,
		Mode:          a.timestampMode,
		VideoFilename: a.cfg.Recording.Path,
		VideoBitrate:  a.cfg.Recording.Bitrate,
		Log:           a.log,
	})
	if err != nil {
		return err
	}
	return a.bus.Set(ctx, hostvars.VarCameraCurrent, a.selection.Device.Name, hostvars.OriginSystem)
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()
	health.New(
		health.SourceRunning(a.source),
		health.PipelineOpen(a.pipeline),
	).Register(mux)
	hostvars.NewHandler(a.bus, a.log).Register(mux)
	mux.HandleFunc("POST /snapshot", a.handleSnapshot)
	mux.HandleFunc("GET /snapshot", a.handleSnapshotStatus)
	mux.HandleFunc("GET /recording", a.handleRecording)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics, observe.WithAccessLogger(a.log))(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the control API.
func (a *App) Handler() http.Handler { return a.handler }

// Bus returns the host variable bus.
func (a *App) Bus() *hostvars.Bus { return a.bus }

// Pipeline returns the recording pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Selection returns the device and capability chosen in New.
func (a *App) Selection() capture.Selection { return a.selection }

// Addr returns the address the HTTP server listens on, once Run has bound
// it.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

func (a *App) config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// streamParams returns the parameters of the next recording without path
// and bitrate.
func (a *App) streamParams() video.Params {
	codec, err := video.ParseCodec(a.config().Recording.Codec)
	if err != nil {
		codec = video.CodecDefault
	}
	return video.Params{
		Width:     a.selection.Capability.Width,
		Height:    a.selection.Capability.Height,
		FrameRate: a.selection.Capability.FrameRate,
		Codec:     codec,
	}
}

func (a *App) timestampMode() pipeline.TimestampMode {
	mode, err := pipeline.ParseTimestampMode(a.config().Recording.Timestamp)
	if err != nil {
		return pipeline.TimestampWallClock
	}
	return mode
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capturing, serves HTTP and, if configured, watches the config
// file. It blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	var watcher *config.Watcher
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath,
			config.WithOnChange(a.applyConfig),
			config.WithInterval(a.watchInterval),
			config.WithWatcherLogger(a.log),
		)
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		watcher = w
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.source.Start(gctx); err != nil {
			return fmt.Errorf("app: start capture: %w", err)
		}
		a.log.Info("capture started",
			"device", a.selection.Device.Name,
			"resolution", a.selection.Capability.String(),
		)
		<-gctx.Done()
		return nil
	})

	g.Go(func() error { return a.serve(gctx) })

	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) serve(ctx context.Context) error {
	cfg := a.config().Server
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Info("http server listening", "addr", ln.Addr().String(), "tls", cfg.TLS != nil)
	if cfg.TLS != nil {
		err = srv.ServeTLS(ln, cfg.TLS.CertFile, cfg.TLS.KeyFile)
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: serve http: %w", err)
}

// applyConfig applies the hot-reloadable part of a config change. Changes to
// other sections are logged and take effect after a restart.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	ctx := context.Background()

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.RecordingChanged {
		for name, value := range map[string]any{
			hostvars.VarVideoFilename: new.Recording.Path,
			hostvars.VarVideoBitrate:  new.Recording.Bitrate,
		} {
			if err := a.bus.Set(ctx, name, value, hostvars.OriginSystem); err != nil {
				a.log.Warn("updating host variable from config failed", "name", name, "err", err)
			}
		}
	}
	if d.StopTimeoutChanged {
		a.pipeline.SetStopTimeout(new.Recording.StopTimeout)
	}
	if d.SnapshotChanged {
		a.pipeline.SetJPEGQuality(new.Snapshot.JPEGQuality)
	}
	if d.OverlayChanged {
		renderer, err := buildOverlay(new.Overlay)
		if err != nil {
			a.log.Warn("rebuilding overlay failed, keeping previous", "err", err)
		} else if prev := a.pipeline.SetOverlay(renderer); prev != nil {
			if err := prev.Close(); err != nil {
				a.log.Warn("closing previous overlay failed", "err", err)
			}
		}
	}
	if d.CameraChanged {
		if err := a.camera.Replace(new.Camera.Settings()); err != nil {
			a.log.Warn("applying camera properties failed", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config change requires restart", "sections", d.RestartRequired)
	}
	a.log.Info("config reloaded")
}

// ─── HTTP handlers ───────────────────────────────────────────────────────────

type snapshotResponse struct {
	Path string `json:"path"`
}

type snapshotStatusResponse struct {
	Pending     bool   `json:"pending"`
	DefaultPath string `json:"default_path"`
}

type recordingResponse struct {
	Recording bool   `json:"recording"`
	ID        string `json:"id,omitempty"`
	Path      string `json:"path,omitempty"`
	Mode      string `json:"timestamp_mode,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	Sink      string `json:"sink_breaker,omitempty"`
}

// handleSnapshot arms a snapshot to ?path=, or to the configured default
// path.
func (a *App) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = a.config().Snapshot.DefaultPath
	}
	if err := a.pipeline.RequestSnapshot(path, a.clock.Reference()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrEmptyPath) {
			status = http.StatusBadRequest
		} else if errors.Is(err, pipeline.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshotResponse{Path: path})
}

// handleSnapshotStatus reports whether an armed snapshot is still waiting
// for a frame.
func (a *App) handleSnapshotStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, snapshotStatusResponse{
		Pending:     a.pipeline.SnapshotPending(),
		DefaultPath: a.config().Snapshot.DefaultPath,
	})
}

func (a *App) handleRecording(w http.ResponseWriter, _ *http.Request) {
	info, ok := a.pipeline.Recording()
	if !ok {
		writeJSON(w, http.StatusOK, recordingResponse{})
		return
	}
	res := recordingResponse{
		Recording: true,
		ID:        info.ID.String(),
		Path:      info.Params.Path,
		Mode:      string(info.Mode),
		StartedAt: info.StartedAt.Format(time.RFC3339Nano),
	}
	if st, ok := a.pipeline.SinkState(); ok {
		res.Sink = st.String()
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown performs the host stop sequence and then tears down all
// subsystems. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := hostvars.Shutdown(ctx, a.bus, a.pipeline); err != nil {
			a.log.Warn("host stop sequence failed", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New created so far after a failed init.
func (a *App) closeAll(ctx context.Context) {
	for _, closer := range a.closers {
		if err := closer(ctx); err != nil {
			a.log.Warn("closer error", "err", err)
		}
	}
}

func (a *App) stopSource(context.Context) error {
	var errs []error
	if a.source.Running() {
		errs = append(errs, a.source.Stop())
	}
	if c, ok := a.source.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// buildOverlay returns the renderer for cfg, or nil when the overlay is
// disabled.
func buildOverlay(cfg config.OverlayConfig) (*overlay.Renderer, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	opts := []overlay.Option{overlay.WithFontSize(cfg.FontSize)}
	if cfg.LogoPath != "" {
		logo, err := overlay.LoadLogo(cfg.LogoPath)
		if err != nil {
			return nil, fmt.Errorf("load logo: %w", err)
		}
		opts = append(opts, overlay.WithLogo(logo))
	}
	return overlay.New(opts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
