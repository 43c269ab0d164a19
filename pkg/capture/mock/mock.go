// Package mock provides a manually driven [capture.Source] for tests. Frames
// are delivered only when the test calls [Source.Emit].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/camrec/pkg/capture"
	"github.com/MrWong99/camrec/pkg/video"
)

// Source is a mock implementation of [capture.Source].
type Source struct {
	mu sync.Mutex

	// DeviceList is returned by Devices.
	DeviceList []capture.Device

	// Caps is returned by Capabilities for every device.
	Caps []capture.Capability

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	handler    capture.FrameHandler
	running    bool
	opened     []capture.Selection
	startCalls int
	stopCalls  int
	seq        uint64
}

// Devices implements [capture.Source].
func (s *Source) Devices(context.Context) ([]capture.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capture.Device(nil), s.DeviceList...), nil
}

// Capabilities implements [capture.Source].
func (s *Source) Capabilities(context.Context, capture.Device) ([]capture.Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capture.Capability(nil), s.Caps...), nil
}

// Open implements [capture.Source].
func (s *Source) Open(_ context.Context, sel capture.Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.opened = append(s.opened, sel)
	return nil
}

// Start implements [capture.Source].
func (s *Source) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.running = true
	return nil
}

// Stop implements [capture.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	s.running = false
	return nil
}

// Running implements [capture.Source].
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// OnFrame implements [capture.Source].
func (s *Source) OnFrame(h capture.FrameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Emit delivers f to the handler synchronously if the source is running. It
// reports whether the frame was delivered.
func (s *Source) Emit(f *video.Frame) bool {
	s.mu.Lock()
	h, running := s.handler, s.running
	if running {
		s.seq++
		f.Sequence = s.seq
	}
	s.mu.Unlock()
	if !running || h == nil {
		return false
	}
	h(f)
	return true
}

// Opened returns the selections passed to Open.
func (s *Source) Opened() []capture.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capture.Selection(nil), s.opened...)
}

// StartCalls returns the number of Start calls.
func (s *Source) StartCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

// StopCalls returns the number of Stop calls.
func (s *Source) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

var _ capture.Source = (*Source)(nil)
