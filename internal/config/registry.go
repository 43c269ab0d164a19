package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/video"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// SourceFactory builds a capture source from its config section.
type SourceFactory func(CaptureConfig) (capture.Source, error)

// EncoderFactory builds a video opener from the recording section.
type EncoderFactory func(RecordingConfig) (video.Opener, error)

// Registry maps component names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]SourceFactory
	encoders map[string]EncoderFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources:  make(map[string]SourceFactory),
		encoders: make(map[string]EncoderFactory),
	}
}

// RegisterSource registers a capture source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// RegisterEncoder registers a video encoder factory under name.
func (r *Registry) RegisterEncoder(name string, factory EncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[name] = factory
}

// CreateSource instantiates the capture source named by cfg.Source.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSource(cfg CaptureConfig) (capture.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// CreateEncoder instantiates the video encoder named by cfg.Encoder.
func (r *Registry) CreateEncoder(cfg RecordingConfig) (video.Opener, error) {
	r.mu.RLock()
	factory, ok := r.encoders[cfg.Encoder]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: encoder/%q", ErrNotRegistered, cfg.Encoder)
	}
	return factory(cfg)
}

// Sources returns the registered source names in sorted order.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Encoders returns the registered encoder names in sorted order.
func (r *Registry) Encoders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.encoders))
	for n := range r.encoders {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
