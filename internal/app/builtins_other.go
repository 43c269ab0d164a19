//go:build !linux

package app

import (
	"log/slog"

	"github.com/MrWong99/camrec/internal/config"
)

func registerPlatform(reg *config.Registry, _ *slog.Logger) {
	registerGoCV(reg)
}
