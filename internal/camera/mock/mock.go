// Package mock provides an in-memory [camera.Controller] for tests.
package mock

import (
	"sync"

	"github.com/MrWong99/camrec/internal/camera"
)

// SetCall records one SetProperty invocation.
type SetCall struct {
	Property camera.Property
	Value    int
	Flags    camera.Flags
}

// Controller is a mock implementation of [camera.Controller]. Properties
// without an entry in Ranges report [camera.ErrUnsupported].
type Controller struct {
	mu sync.Mutex

	// Ranges holds the supported properties and their defaults.
	Ranges map[camera.Property]camera.Range

	// SetErr, if non-nil, is returned by SetProperty.
	SetErr error

	values map[camera.Property]camera.Reading
	sets   []SetCall
}

// PropertyRange implements [camera.Controller].
func (c *Controller) PropertyRange(p camera.Property) (camera.Range, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.Ranges[p]
	if !ok {
		return camera.Range{}, camera.ErrUnsupported
	}
	return r, nil
}

// SetProperty implements [camera.Controller].
func (c *Controller) SetProperty(p camera.Property, value int, flags camera.Flags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, SetCall{Property: p, Value: value, Flags: flags})
	if _, ok := c.Ranges[p]; !ok {
		return camera.ErrUnsupported
	}
	if c.SetErr != nil {
		return c.SetErr
	}
	if c.values == nil {
		c.values = make(map[camera.Property]camera.Reading)
	}
	c.values[p] = camera.Reading{Value: value, Flags: flags}
	return nil
}

// Property implements [camera.Controller].
func (c *Controller) Property(p camera.Property) (int, camera.Flags, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.Ranges[p]
	if !ok {
		return 0, 0, camera.ErrUnsupported
	}
	if v, ok := c.values[p]; ok {
		return v.Value, v.Flags, nil
	}
	return r.Default, r.Flags, nil
}

// Sets returns a copy of all recorded SetProperty calls.
func (c *Controller) Sets() []SetCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SetCall, len(c.sets))
	copy(out, c.sets)
	return out
}

// Reset clears recorded calls.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = nil
}

var _ camera.Controller = (*Controller)(nil)
