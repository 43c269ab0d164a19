// Package mock provides an in-memory test double for [video.Sink] and a
// matching [video.Opener].
//
// Sinks record every written frame and every Close call. WriteHook lets a test
// park a write in flight to exercise contention and stop timeouts:
//
//	release := make(chan struct{})
//	op := &mock.Opener{WriteHook: func(int) { <-release }}
//	p := pipeline.New(pipeline.WithOpener(op.Open))
package mock

import (
	"context"
	"image"
	"sync"

	"github.com/MrWong99/camrec/pkg/video"
)

// WriteCall records a single invocation of [Sink.WriteFrame].
type WriteCall struct {
	// Bounds is the bounds of the written image.
	Bounds image.Rectangle

	// AfterClose is true if the write arrived after Close was called.
	AfterClose bool
}

// Sink is a mock implementation of [video.Sink]. It is safe for concurrent use
// so that tests can observe violations of the single-writer contract instead
// of racing.
type Sink struct {
	mu sync.Mutex

	// Params holds the parameters the sink was opened with.
	Params video.Params

	// WriteErr, if non-nil, is returned by every WriteFrame call.
	WriteErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// WriteHook, if non-nil, is called inside WriteFrame with the zero-based
	// write index before the write is recorded.
	WriteHook func(n int)

	// CloseHook, if non-nil, is called inside Close.
	CloseHook func()

	writes     []WriteCall
	closeCalls int
	active     int
	maxActive  int
	closed     chan struct{}
}

// NewSink returns a Sink for p.
func NewSink(p video.Params) *Sink {
	return &Sink{Params: p, closed: make(chan struct{})}
}

// WriteFrame implements [video.Sink].
func (s *Sink) WriteFrame(img image.Image) error {
	s.mu.Lock()
	n := len(s.writes)
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	hook := s.WriteHook
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	s.writes = append(s.writes, WriteCall{Bounds: img.Bounds(), AfterClose: s.closeCalls > 0})
	return s.WriteErr
}

// SetWriteErr changes the error later writes return.
func (s *Sink) SetWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WriteErr = err
}

// Close implements [video.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	hook := s.CloseHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if s.closeCalls == 1 && s.closed != nil {
		close(s.closed)
	}
	return s.CloseErr
}

// Writes returns a copy of all recorded writes.
func (s *Sink) Writes() []WriteCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WriteCall, len(s.writes))
	copy(out, s.writes)
	return out
}

// WriteCount returns the number of completed writes.
func (s *Sink) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// CloseCount returns how many times Close was called.
func (s *Sink) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// MaxConcurrentWrites returns the highest number of WriteFrame calls that
// were in flight at the same time.
func (s *Sink) MaxConcurrentWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// Closed returns a channel that is closed on the first Close call.
func (s *Sink) Closed() <-chan struct{} {
	return s.closed
}

// Opener hands out mock sinks and records each open.
type Opener struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open instead of a sink.
	OpenErr error

	// WriteHook and CloseHook are copied into every sink Open creates.
	WriteHook func(n int)
	CloseHook func()

	// WriteErr is copied into every sink Open creates.
	WriteErr error

	calls []video.Params
	sinks []*Sink
}

// Open implements [video.Opener]. Params are validated the same way a real
// encoder would validate them.
func (o *Opener) Open(_ context.Context, p video.Params) (video.Sink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, p)
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := NewSink(p)
	s.WriteHook = o.WriteHook
	s.CloseHook = o.CloseHook
	s.WriteErr = o.WriteErr
	o.sinks = append(o.sinks, s)
	return s, nil
}

// Calls returns a copy of the params passed to every Open call.
func (o *Opener) Calls() []video.Params {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]video.Params, len(o.calls))
	copy(out, o.calls)
	return out
}

// Sinks returns the sinks created so far, in open order.
func (o *Opener) Sinks() []*Sink {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Sink, len(o.sinks))
	copy(out, o.sinks)
	return out
}

// Last returns the most recently opened sink, or nil.
func (o *Opener) Last() *Sink {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sinks) == 0 {
		return nil
	}
	return o.sinks[len(o.sinks)-1]
}

var _ video.Sink = (*Sink)(nil)
