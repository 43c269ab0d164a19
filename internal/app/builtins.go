package app

import (
	"log/slog"

	"github.com/MrWong99/camrec/internal/config"
	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/capture/screen"
	"github.com/MrWong99/camrec/pkg/capture/testpattern"
	"github.com/MrWong99/camrec/pkg/video"
	"github.com/MrWong99/camrec/pkg/video/ffmpeg"
	videomock "github.com/MrWong99/camrec/pkg/video/mock"
)

// RegisterBuiltins adds every source and encoder compiled into this binary
// to reg. Platform and build-tag specific components register themselves
// through registerPlatform.
func RegisterBuiltins(reg *config.Registry, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	reg.RegisterSource("testpattern", func(cfg config.CaptureConfig) (capture.Source, error) {
		return testpattern.New(
			testpattern.WithFrameRate(cfg.FrameRate),
			testpattern.WithLogger(log),
		), nil
	})
	reg.RegisterSource("screen", func(cfg config.CaptureConfig) (capture.Source, error) {
		return screen.New(
			screen.WithFrameRate(cfg.FrameRate),
			screen.WithLogger(log),
		), nil
	})

	reg.RegisterEncoder("ffmpeg", func(cfg config.RecordingConfig) (video.Opener, error) {
		return ffmpeg.NewOpener(
			ffmpeg.WithBinary(cfg.FFmpegPath),
			ffmpeg.WithLogger(log),
		), nil
	})
	// Dry-run encoder: validates parameters and discards frames.
	reg.RegisterEncoder("mock", func(config.RecordingConfig) (video.Opener, error) {
		return (&videomock.Opener{}).Open, nil
	})

	registerPlatform(reg, log)

	log.Debug("registered builtin components", "sources", reg.Sources(), "encoders", reg.Encoders())
}
