//go:build gocv

package app

import (
	"github.com/MrWong99/camrec/internal/config"
	"github.com/MrWong99/camrec/pkg/video"
	"github.com/MrWong99/camrec/pkg/video/gocvsink"
)

func registerGoCV(reg *config.Registry) {
	reg.RegisterEncoder("gocv", func(config.RecordingConfig) (video.Opener, error) {
		return gocvsink.Open, nil
	})
}
