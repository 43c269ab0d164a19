//go:build !gocv

package app

import "github.com/MrWong99/camrec/internal/config"

// registerGoCV is a no-op without the gocv build tag; selecting the "gocv"
// encoder then fails with config.ErrNotRegistered.
func registerGoCV(*config.Registry) {}
