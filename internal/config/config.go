// Package config provides the configuration schema, loader, file watcher and
// component registry for camrec.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	Recording RecordingConfig `yaml:"recording"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Camera    CameraConfig    `yaml:"camera"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// CaptureConfig selects and sizes the frame source.
type CaptureConfig struct {
	// Source names the registered capture source (testpattern, screen, v4l2).
	Source string `yaml:"source"`

	// Device is the preferred device name. Matched exactly first, then
	// fuzzily; the first device is used when nothing matches.
	Device string `yaml:"device"`

	// Width and Height are the preferred frame size. Zero selects the
	// largest size the device supports.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// FrameRate is the preferred capture rate in frames per second.
	FrameRate int `yaml:"frame_rate"`
}

// RecordingConfig configures video recording.
type RecordingConfig struct {
	// Encoder names the registered video encoder (ffmpeg, gocv, mock).
	Encoder string `yaml:"encoder"`

	// Path is the default output file. The container follows the extension.
	Path string `yaml:"path"`

	// Bitrate is the target bitrate in bits per second.
	Bitrate int `yaml:"bitrate"`

	// Codec is the video codec name, or "default" to let the container decide.
	Codec string `yaml:"codec"`

	// Timestamp selects the overlay time base: wallclock or framecounter.
	Timestamp string `yaml:"timestamp"`

	// StopTimeout bounds how long a stop waits for an in-flight write.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// FFmpegPath is the ffmpeg binary used by the ffmpeg encoder.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Breaker configures the per-recording write circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the sink circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive write failures that open the
	// breaker.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration `yaml:"cooldown"`
}

// SnapshotConfig configures still-image snapshots.
type SnapshotConfig struct {
	// DefaultPath is used when a snapshot is requested without a path.
	DefaultPath string `yaml:"default_path"`

	// JPEGQuality is the encoder quality (1-100) for .jpg snapshots.
	// Zero uses the encoder default.
	JPEGQuality int `yaml:"jpeg_quality"`
}

// OverlayConfig configures the timestamp and logo overlay.
type OverlayConfig struct {
	// Enabled turns the overlay on. Nil means enabled.
	Enabled *bool `yaml:"enabled"`

	// LogoPath is an optional image drawn in the top-right corner.
	LogoPath string `yaml:"logo_path"`

	// FontSize is the timestamp font size in points.
	FontSize float64 `yaml:"font_size"`
}

// IsEnabled reports whether the overlay should be drawn.
func (o OverlayConfig) IsEnabled() bool { return o.Enabled == nil || *o.Enabled }

// CameraConfig holds the initial camera property table.
type CameraConfig struct {
	Properties []PropertyConfig `yaml:"properties"`
}

// PropertyConfig is one camera property entry.
type PropertyConfig struct {
	// Name is the property name (e.g., "brightness", "white_balance").
	Name string `yaml:"name"`

	// Override applies Value instead of the device default.
	Override bool `yaml:"override"`

	// Value is the user value, applied only while Override is set.
	Value int `yaml:"value"`

	// Flags selects "auto" or "manual" control where the device supports it.
	Flags string `yaml:"flags"`
}
