//go:build linux

package app

import (
	"log/slog"

	"github.com/MrWong99/camrec/internal/config"
	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/capture/v4l2"
)

func registerPlatform(reg *config.Registry, log *slog.Logger) {
	reg.RegisterSource("v4l2", func(config.CaptureConfig) (capture.Source, error) {
		return v4l2.New(v4l2.WithLogger(log)), nil
	})
	registerGoCV(reg)
}
