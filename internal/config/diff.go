package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// anything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecordingChanged is true if the defaults for the next recording
	// (path, bitrate, codec, timestamp mode) changed. An open recording
	// keeps its parameters.
	RecordingChanged bool

	// StopTimeoutChanged is true if recording.stop_timeout changed.
	StopTimeoutChanged bool

	// SnapshotChanged is true if snapshot.jpeg_quality changed. The default
	// path is read per request and needs no tracking.
	SnapshotChanged bool

	// OverlayChanged is true if the logo, font size or enabled flag changed.
	OverlayChanged bool

	// CameraChanged is true if any camera property entry changed.
	CameraChanged bool

	// RestartRequired names config sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RecordingChanged && !d.StopTimeoutChanged &&
		!d.SnapshotChanged && !d.OverlayChanged && !d.CameraChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Recording defaults
	o, n := old.Recording, new.Recording
	if o.Path != n.Path || o.Bitrate != n.Bitrate || o.Codec != n.Codec || o.Timestamp != n.Timestamp {
		d.RecordingChanged = true
	}
	if o.StopTimeout != n.StopTimeout {
		d.StopTimeoutChanged = true
	}
	if o.Encoder != n.Encoder || o.FFmpegPath != n.FFmpegPath || o.Breaker != n.Breaker {
		d.RestartRequired = append(d.RestartRequired, "recording")
	}

	// Snapshot
	if old.Snapshot.JPEGQuality != new.Snapshot.JPEGQuality {
		d.SnapshotChanged = true
	}

	// Overlay
	if old.Overlay.IsEnabled() != new.Overlay.IsEnabled() ||
		old.Overlay.LogoPath != new.Overlay.LogoPath ||
		old.Overlay.FontSize != new.Overlay.FontSize {
		d.OverlayChanged = true
	}

	// Camera properties
	if !slices.Equal(old.Camera.Properties, new.Camera.Properties) {
		d.CameraChanged = true
	}

	// Everything else needs a restart.
	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
