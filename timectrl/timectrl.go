package timectrl

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SimClock is the read side of the virtual clock. Layers and the selection
// follower depend on it rather than on Clock so tests can pin the instant.
type SimClock interface {
	// Now returns the current virtual instant.
	Now() time.Time
}

// State is the run state of a Clock.
type State int

const (
	// Running advances the instant on every Tick.
	Running State = iota
	// Frozen ignores Tick.
	Frozen
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Frozen:
		return "FROZEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	// DefaultStep is one display refresh at 60 Hz.
	DefaultStep = time.Second / 60
	// DefaultMultiplier makes virtual time run 100x faster than the frame
	// cadence.
	DefaultMultiplier = 100.0

	// DisplayLayout renders the instant the way browsers print toUTCString.
	DisplayLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

	// baseRotationSpeed is the globe auto-rotation speed that keeps pace with
	// the planet at multiplier 1.
	baseRotationSpeed = 60.0 / 86400.0
)

var (
	// ErrMultiplierFixed is returned by SetMultiplier on clocks built without
	// WithLiveMultiplier.
	ErrMultiplierFixed = errors.New("time multiplier is fixed for this session")
	// ErrInvalidMultiplier rejects non-positive multipliers.
	ErrInvalidMultiplier = errors.New("time multiplier must be positive")
	// ErrClockRewind is returned by SetTime for an instant before Now.
	ErrClockRewind = errors.New("clock cannot move backwards")
)

// Option customises a Clock.
type Option func(*Clock)

// WithStep overrides the per-frame step size.
func WithStep(step time.Duration) Option {
	return func(c *Clock) {
		if step > 0 {
			c.step = step
		}
	}
}

// WithMultiplier overrides the time multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Clock) {
		if m > 0 {
			c.multiplier = m
		}
	}
}

// WithLiveMultiplier allows SetMultiplier at runtime.
func WithLiveMultiplier() Option {
	return func(c *Clock) { c.live = true }
}

// Clock is the virtual simulation clock. It advances by step x multiplier on
// every Tick while running and only moves forward.
type Clock struct {
	mu         sync.RWMutex
	now        time.Time
	step       time.Duration
	multiplier float64
	state      State
	live       bool
}

// NewClock constructs a running clock at start.
func NewClock(start time.Time, opts ...Option) *Clock {
	c := &Clock{
		now:        start.UTC(),
		step:       DefaultStep,
		multiplier: DefaultMultiplier,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the current virtual instant. Implements SimClock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance is the amount a single Tick adds while running.
func (c *Clock) Advance() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.advance()
}

func (c *Clock) advance() time.Duration {
	return time.Duration(float64(c.step) * c.multiplier)
}

// Tick advances the instant once. It is a no-op while frozen.
func (c *Clock) Tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		c.now = c.now.Add(c.advance())
	}
	return c.now
}

// ToggleFreeze flips between running and frozen and returns the new state.
// It only affects Tick; scheduled frame work keeps running.
func (c *Clock) ToggleFreeze() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		c.state = Frozen
	} else {
		c.state = Running
	}
	return c.state
}

// State reports whether the clock is running or frozen.
func (c *Clock) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Multiplier returns the current time multiplier.
func (c *Clock) Multiplier() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.multiplier
}

// SetMultiplier changes the multiplier on clocks built WithLiveMultiplier.
func (c *Clock) SetMultiplier(m float64) error {
	if m <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidMultiplier, m)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return ErrMultiplierFixed
	}
	c.multiplier = m
	return nil
}

// SetTime jumps the clock forward to t.
func (c *Clock) SetTime(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t = t.UTC()
	if t.Before(c.now) {
		return fmt.Errorf("%w: %s is before %s", ErrClockRewind, t.Format(time.RFC3339), c.now.Format(time.RFC3339))
	}
	c.now = t
	return nil
}

// Display formats the current instant for the clock readout.
func (c *Clock) Display() string {
	return c.Now().Format(DisplayLayout)
}

// AutoRotateSpeed is the globe auto-rotation speed matching the multiplier,
// zero while frozen.
func (c *Clock) AutoRotateSpeed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == Frozen {
		return 0
	}
	return baseRotationSpeed * c.multiplier
}
