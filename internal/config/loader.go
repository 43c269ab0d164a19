package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/camrec/internal/camera"
	"github.com/MrWong99/camrec/internal/pipeline"
	"github.com/MrWong99/camrec/pkg/video"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":8090"
	DefaultSource       = "testpattern"
	DefaultFrameRate    = 25
	DefaultEncoder      = "ffmpeg"
	DefaultVideoPath    = "recordings/out.mp4"
	DefaultBitrate      = 800_000
	DefaultSnapshotPath = "snapshots/snap.png"
	DefaultFontSize     = 20
	DefaultMaxFailures  = 5
	DefaultCooldown     = 2 * time.Second
)

// ValidComponentNames lists known component names per kind.
// Used by [Validate] to warn about unrecognised names.
var ValidComponentNames = map[string][]string{
	"source":  {"testpattern", "screen", "v4l2"},
	"encoder": {"ffmpeg", "gocv", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Capture.Source == "" {
		cfg.Capture.Source = DefaultSource
	}
	if cfg.Capture.FrameRate == 0 {
		cfg.Capture.FrameRate = DefaultFrameRate
	}
	if cfg.Recording.Encoder == "" {
		cfg.Recording.Encoder = DefaultEncoder
	}
	if cfg.Recording.Path == "" {
		cfg.Recording.Path = DefaultVideoPath
	}
	if cfg.Recording.Bitrate == 0 {
		cfg.Recording.Bitrate = DefaultBitrate
	}
	if cfg.Recording.Codec == "" {
		cfg.Recording.Codec = "default"
	}
	if cfg.Recording.Timestamp == "" {
		cfg.Recording.Timestamp = string(pipeline.TimestampWallClock)
	}
	if cfg.Recording.StopTimeout == 0 {
		cfg.Recording.StopTimeout = pipeline.DefaultStopTimeout
	}
	if cfg.Recording.FFmpegPath == "" {
		cfg.Recording.FFmpegPath = "ffmpeg"
	}
	if cfg.Recording.Breaker.MaxFailures == 0 {
		cfg.Recording.Breaker.MaxFailures = DefaultMaxFailures
	}
	if cfg.Recording.Breaker.Cooldown == 0 {
		cfg.Recording.Breaker.Cooldown = DefaultCooldown
	}
	if cfg.Snapshot.DefaultPath == "" {
		cfg.Snapshot.DefaultPath = DefaultSnapshotPath
	}
	if cfg.Overlay.FontSize == 0 {
		cfg.Overlay.FontSize = DefaultFontSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Capture
	validateComponentName("source", cfg.Capture.Source)
	if cfg.Capture.Width < 0 || cfg.Capture.Height < 0 {
		errs = append(errs, fmt.Errorf("capture size %dx%d must not be negative", cfg.Capture.Width, cfg.Capture.Height))
	}
	if (cfg.Capture.Width == 0) != (cfg.Capture.Height == 0) {
		errs = append(errs, fmt.Errorf("capture.width and capture.height must be set together (got %dx%d)", cfg.Capture.Width, cfg.Capture.Height))
	}
	if cfg.Capture.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_rate %d must not be negative", cfg.Capture.FrameRate))
	}

	// Recording
	validateComponentName("encoder", cfg.Recording.Encoder)
	if _, err := video.ParseCodec(cfg.Recording.Codec); err != nil {
		errs = append(errs, fmt.Errorf("recording.codec: %w", err))
	}
	if cfg.Recording.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("recording.bitrate %d must not be negative", cfg.Recording.Bitrate))
	}
	if _, err := pipeline.ParseTimestampMode(cfg.Recording.Timestamp); err != nil {
		errs = append(errs, fmt.Errorf("recording.timestamp: %w", err))
	}
	if cfg.Recording.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("recording.stop_timeout %v must not be negative", cfg.Recording.StopTimeout))
	}
	if fr := cfg.Capture.FrameRate; fr > 0 && cfg.Recording.StopTimeout > 0 && cfg.Recording.StopTimeout <= time.Second/time.Duration(fr) {
		slog.Warn("recording.stop_timeout does not exceed one frame period; stops may time out",
			"stop_timeout", cfg.Recording.StopTimeout,
			"frame_rate", fr,
		)
	}
	if cfg.Recording.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("recording.breaker.max_failures %d must not be negative", cfg.Recording.Breaker.MaxFailures))
	}

	// Snapshot
	if q := cfg.Snapshot.JPEGQuality; q < 0 || q > 100 {
		errs = append(errs, fmt.Errorf("snapshot.jpeg_quality %d must be between 0 and 100", q))
	}

	// Overlay
	if cfg.Overlay.FontSize < 0 {
		errs = append(errs, fmt.Errorf("overlay.font_size %.1f must not be negative", cfg.Overlay.FontSize))
	}

	// Camera properties
	seen := make(map[camera.Property]int, len(cfg.Camera.Properties))
	for i, pc := range cfg.Camera.Properties {
		prefix := fmt.Sprintf("camera.properties[%d]", i)
		p, err := camera.ParseProperty(pc.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.name: %w", prefix, err))
			continue
		}
		if prev, ok := seen[p]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of camera.properties[%d]", prefix, pc.Name, prev))
		}
		seen[p] = i
		if _, err := camera.ParseFlags(pc.Flags); err != nil {
			errs = append(errs, fmt.Errorf("%s.flags: %w", prefix, err))
		}
	}

	return errors.Join(errs...)
}

// validateComponentName logs a warning if name is non-empty and not found in
// the [ValidComponentNames] list for the given kind.
func validateComponentName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidComponentNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown component name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// Settings converts the property list into a camera property table. Entries
// that fail to parse are skipped; [Validate] reports them.
func (c CameraConfig) Settings() map[camera.Property]camera.Setting {
	out := make(map[camera.Property]camera.Setting, len(c.Properties))
	for _, pc := range c.Properties {
		p, err := camera.ParseProperty(pc.Name)
		if err != nil {
			continue
		}
		flags, _ := camera.ParseFlags(pc.Flags)
		out[p] = camera.Setting{Override: pc.Override, Value: pc.Value, Flags: flags}
	}
	return out
}
