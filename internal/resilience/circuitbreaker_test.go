package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(maxFailures, probes int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := New(Config{
		Name:        "test",
		MaxFailures: maxFailures,
		Cooldown:    time.Second,
		Probes:      probes,
		Now:         clk.Now,
	})
	return b, clk
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "test"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.cooldown != 2*time.Second {
		t.Errorf("cooldown = %v, want 2s", b.cooldown)
	}
	if b.probes != 1 {
		t.Errorf("probes = %d, want 1", b.probes)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3, 1)
	for range 3 {
		_ = b.Do(func() error { return errTest })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3, 1)
	_ = b.Do(func() error { return errTest })
	_ = b.Do(func() error { return errTest })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errTest })
	_ = b.Do(func() error { return errTest })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(1, 2)
	_ = b.Do(func() error { return errTest })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clk.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", b.State())
	}

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state after one probe = %v, want half-open", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after probes = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(1, 1)
	_ = b.Do(func() error { return errTest })
	clk.Advance(time.Second)

	_ = b.Do(func() error { return errTest })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clk.Advance(500 * time.Millisecond)
	if b.Allow() {
		t.Error("Allow during fresh cooldown should be false")
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(1, 1)
	_ = b.Do(func() error { return errTest })
	clk.Advance(time.Second)

	if !b.Allow() {
		t.Fatal("first probe should be allowed")
	}
	if b.Allow() {
		t.Fatal("second concurrent probe should be rejected")
	}
	b.Record(nil)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(1, 1)
	_ = b.Do(func() error { return errTest })
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do after reset: %v", err)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(0, 0)}
	var (
		mu          sync.Mutex
		transitions []State
	)
	b := New(Config{
		Name:        "sink",
		MaxFailures: 1,
		Cooldown:    time.Second,
		Now:         clk.Now,
		OnStateChange: func(name string, from, to State) {
			if name != "sink" {
				t.Errorf("name = %q", name)
			}
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})

	_ = b.Do(func() error { return errTest })
	clk.Advance(time.Second)
	_ = b.Do(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
