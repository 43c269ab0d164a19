// Package resilience provides a circuit breaker for guarding repeated calls
// into a failing resource such as a crashed encoder process.
//
// [Breaker] is a three-state breaker (closed → open → half-open). Callers
// either wrap work in [Breaker.Do] or split the decision from the outcome with
// [Breaker.Allow] and [Breaker.Record] when rejections must be accounted for
// separately from failures.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls until the cool-down elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probes through. One failed probe
	// re-opens the breaker; enough successful probes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Breaker].
type Config struct {
	// Name labels log messages and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 2s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker again. Default: 1.
	Probes int

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)

	// Logger receives transition messages. Defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probes      int
	onChange    func(string, State, State)
	log         *slog.Logger
	now         func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probesOut    int
	probesPassed int
}

// New creates a [Breaker]. Zero-value config fields take their defaults.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probes:      cfg.Probes,
		onChange:    cfg.OnStateChange,
		log:         cfg.Logger,
		now:         cfg.Now,
	}
}

// Allow reports whether a call may proceed. Every true result must be
// followed by exactly one [Breaker.Record].
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := false
	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.probesOut, b.probesPassed = 1, 0
			allowed = true
		}
	case StateHalfOpen:
		if b.probesOut < b.probes {
			b.probesOut++
			allowed = true
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

// Record reports the outcome of a call admitted by [Breaker.Allow].
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	from := b.state
	if err != nil {
		switch b.state {
		case StateHalfOpen:
			b.trip()
		case StateClosed:
			b.failures++
			if b.failures >= b.maxFailures {
				b.trip()
			}
		}
	} else {
		switch b.state {
		case StateHalfOpen:
			b.probesPassed++
			if b.probesPassed >= b.probes {
				b.state = StateClosed
				b.failures = 0
			}
		case StateClosed:
			b.failures = 0
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// Do runs fn if the breaker allows it and records the result. It returns
// [ErrOpen] without calling fn when the breaker rejects.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	b.Record(err)
	return err
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Allow].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures, b.probesOut, b.probesPassed = 0, 0, 0
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probesOut, b.probesPassed = 0, 0
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	if to == StateOpen {
		b.log.Warn("circuit breaker opened", "name", b.name, "from", from.String())
	} else {
		b.log.Info("circuit breaker state changed", "name", b.name, "from", from.String(), "to", to.String())
	}
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
