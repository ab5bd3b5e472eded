// Package circuitbreaker tracks consecutive failures of a resource.
//
// A breaker opens after Threshold consecutive failures and reports HalfOpen
// once Cooldown has passed since the last failure. A success closes it. The
// breaker never rejects work by itself; callers decide what an open breaker
// means (for the broker sinks it marks the service not ready).
//
// States:
//   - Closed: recent attempts succeed
//   - Open: Threshold consecutive failures, the latest within Cooldown
//   - HalfOpen: still failing, but no failure seen for Cooldown
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // Recent attempts succeed
	Open                  // Failing
	HalfOpen              // Failing, but quiet for a cooldown
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // Consecutive failures before opening (default: 5)
	Cooldown  time.Duration // Quiet time before half-open (default: 30s)
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	return c
}

// Breaker tracks one resource.
type Breaker struct {
	mu          sync.Mutex
	config      Config
	failures    int // consecutive
	lastFailure time.Time
	lastError   error
	now         func() time.Time
}

// New creates a new circuit breaker.
func New(cfg Config) *Breaker {
	return &Breaker{
		config: cfg.withDefaults(),
		now:    time.Now,
	}
}

// Observe records the outcome of one attempt; a nil err is a success.
func (b *Breaker) Observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.lastError = nil
		return
	}
	b.failures++
	b.lastFailure = b.now()
	b.lastError = err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.failures < b.config.Threshold {
		return Closed
	}
	if b.now().Sub(b.lastFailure) > b.config.Cooldown {
		return HalfOpen
	}
	return Open
}

// Status is a point-in-time view of a breaker.
type Status struct {
	State     State
	Failures  int   // consecutive
	LastError error // nil once closed by a success
}

// Status returns the current state with the failure streak behind it.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:     b.stateLocked(),
		Failures:  b.failures,
		LastError: b.lastError,
	}
}
