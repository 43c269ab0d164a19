// Package hostvars implements the named-variable bus through which a
// measurement host controls camrec.
//
// A host writes variables (over HTTP, a websocket, or in-process); every
// write that changes a value, or any write to a trigger variable, runs the
// registered [ChangeFunc] callbacks synchronously. [Bind] wires the standard
// variables to the recording pipeline and the camera property table.
package hostvars

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/camrec/internal/observe"
)

var (
	// ErrUnknownVar is returned for names that were never defined.
	ErrUnknownVar = errors.New("hostvars: unknown variable")

	// ErrInvalidValue is returned when a value does not fit the variable's
	// kind or allowed values.
	ErrInvalidValue = errors.New("hostvars: invalid value")

	// ErrReadOnly is returned when a host writes a read-only variable.
	ErrReadOnly = errors.New("hostvars: variable is read-only")

	// ErrDuplicate is returned when a variable is defined twice.
	ErrDuplicate = errors.New("hostvars: variable already defined")
)

// Origins of a write.
const (
	OriginSystem = "system"
	OriginHTTP   = "http"
	OriginWS     = "ws"
)

// Kind is the value type of a variable.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindFloat
)

// String returns the JSON-ish name of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Var is a snapshot of one variable.
type Var struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Value     any       `json:"value"`
	ReadOnly  bool      `json:"read_only,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Change describes one accepted write.
type Change struct {
	Name   string    `json:"name"`
	Value  any       `json:"value"`
	Old    any       `json:"old"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// ChangeFunc is called after a variable changed.
type ChangeFunc func(ctx context.Context, c Change) error

// DefineOption configures a variable at definition time.
type DefineOption func(*variable)

// ReadOnly marks the variable as writable only with [OriginSystem].
func ReadOnly() DefineOption {
	return func(v *variable) { v.readOnly = true }
}

// Trigger makes every write notify, even if the value is unchanged.
func Trigger() DefineOption {
	return func(v *variable) { v.trigger = true }
}

// OneOf restricts a string variable to the given values.
func OneOf(values ...string) DefineOption {
	return func(v *variable) { v.enum = values }
}

type variable struct {
	name      string
	kind      Kind
	value     any
	readOnly  bool
	trigger   bool
	enum      []string
	updatedAt time.Time
	handlers  []handlerEntry
}

type handlerEntry struct {
	id int
	fn ChangeFunc
}

// Option configures a [Bus].
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithMetrics sets the metrics sink for write counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// Bus holds the named variables. It is safe for concurrent use. Writes to
// the same bus are serialised so that callbacks observe changes in order.
type Bus struct {
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	writeMu sync.Mutex // serialises Set including its callbacks

	mu     sync.RWMutex
	vars   map[string]*variable
	subs   map[int]chan Change
	nextID int
}

// NewBus returns an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		log:  slog.Default(),
		now:  time.Now,
		vars: make(map[string]*variable),
		subs: make(map[int]chan Change),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Define creates a variable with an initial value.
func (b *Bus) Define(name string, kind Kind, initial any, opts ...DefineOption) error {
	v := &variable{name: name, kind: kind}
	for _, o := range opts {
		o(v)
	}
	val, err := v.coerce(initial)
	if err != nil {
		return fmt.Errorf("hostvars: define %q: %w", name, err)
	}
	v.value = val
	v.updatedAt = b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.vars[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	b.vars[name] = v
	return nil
}

// Get returns the current state of name.
func (b *Bus) Get(name string) (Var, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.vars[name]
	if !ok {
		return Var{}, false
	}
	return v.snapshot(), true
}

// List returns every variable sorted by name.
func (b *Bus) List() []Var {
	b.mu.RLock()
	out := make([]Var, 0, len(b.vars))
	for _, v := range b.vars {
		out = append(out, v.snapshot())
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(a, c Var) int {
		switch {
		case a.Name < c.Name:
			return -1
		case a.Name > c.Name:
			return 1
		}
		return 0
	})
	return out
}

// OnChange registers fn for name. It returns a function that removes the
// registration.
func (b *Bus) OnChange(name string, fn ChangeFunc) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	b.nextID++
	id := b.nextID
	v.handlers = append(v.handlers, handlerEntry{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		v.handlers = slices.DeleteFunc(v.handlers, func(h handlerEntry) bool { return h.id == id })
	}, nil
}

// Subscribe returns a channel receiving every change. Changes are dropped for
// a subscriber whose buffer is full. The returned function unsubscribes and
// closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Change, func()) {
	ch := make(chan Change, max(buffer, 1))
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Set writes value to name and runs its callbacks if the value changed (or
// the variable is a trigger). Host origins may not write read-only
// variables. Callback errors are joined and returned; the value stays set.
//
// A callback may call Set with the context it was given; such nested writes
// run immediately, before the outer Set returns.
func (b *Bus) Set(ctx context.Context, name string, value any, origin string) error {
	if inner, _ := ctx.Value(busKey{}).(*Bus); inner == b {
		return b.set(ctx, name, value, origin)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.set(context.WithValue(ctx, busKey{}, b), name, value, origin)
}

func (b *Bus) set(ctx context.Context, name string, value any, origin string) error {
	b.mu.Lock()
	v, ok := b.vars[name]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	if v.readOnly && origin != OriginSystem {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrReadOnly, name)
	}
	val, err := v.coerce(value)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("hostvars: set %q: %w", name, err)
	}
	old := v.value
	if old == val && !v.trigger {
		b.mu.Unlock()
		return nil
	}
	v.value = val
	v.updatedAt = b.now()
	change := Change{Name: name, Value: val, Old: old, Origin: origin, At: v.updatedAt}
	handlers := slices.Clone(v.handlers)
	subs := make([]int, 0, len(b.subs))
	for id := range b.subs {
		subs = append(subs, id)
	}
	b.mu.Unlock()

	b.metrics.RecordHostVarUpdate(ctx, name, origin)
	b.log.Debug("host variable changed", "name", name, "value", val, "old", old, "origin", origin)

	var errs []error
	for _, h := range handlers {
		if err := h.fn(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}

	// Held across the sends so that an unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	for _, id := range subs {
		ch, live := b.subs[id]
		if !live {
			continue
		}
		select {
		case ch <- change:
		default:
			b.log.Warn("host variable subscriber too slow, change dropped", "name", name)
		}
	}
	b.mu.RUnlock()

	return errors.Join(errs...)
}

type busKey struct{}

func (v *variable) snapshot() Var {
	return Var{
		Name:      v.name,
		Kind:      v.kind.String(),
		Value:     v.value,
		ReadOnly:  v.readOnly,
		UpdatedAt: v.updatedAt,
	}
}

// coerce converts value to the variable's Go type. JSON numbers arrive as
// float64 and are accepted for int variables when integral.
func (v *variable) coerce(value any) (any, error) {
	switch v.kind {
	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want string, got %T", ErrInvalidValue, value)
		}
		if len(v.enum) > 0 && !slices.Contains(v.enum, s) {
			return nil, fmt.Errorf("%w: %q not in %v", ErrInvalidValue, s, v.enum)
		}
		return s, nil
	case KindBool:
		bv, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: want bool, got %T", ErrInvalidValue, value)
		}
		return bv, nil
	case KindInt:
		switch n := value.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) || math.IsInf(n, 0) {
				return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, n)
			}
			return int(n), nil
		}
		return nil, fmt.Errorf("%w: want int, got %T", ErrInvalidValue, value)
	case KindFloat:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
		return nil, fmt.Errorf("%w: want number, got %T", ErrInvalidValue, value)
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidValue, v.kind)
}
