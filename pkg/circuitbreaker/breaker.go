// Package circuitbreaker implements the circuit breaker pattern.
//
// A breaker trips after a run of consecutive failures and rejects calls until
// a cooldown elapses. It then lets trial calls through (half-open) and closes
// again only after enough of them succeed in a row.
//
// States:
//   - Closed: Normal operation, requests allowed
//   - Open: Too many failures, requests blocked
//   - HalfOpen: Trial requests allowed until the success threshold is met
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the circuit rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // Normal operation, requests allowed
	Open                  // Failing, requests blocked
	HalfOpen              // Testing if recovered
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

// Breaker guards a single remote resource.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int // consecutive failures
	successes        int // consecutive successes while half-open
	threshold        int
	successThreshold int
	openedAt         time.Time
	cooldown         time.Duration
	now              func() time.Time
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold        int           // Failures before circuit opens (default: 5)
	Cooldown         time.Duration // Time before half-open (default: 30s)
	SuccessThreshold int           // Half-open successes before closing (default: 2)
}

// DefaultConfig returns the defaults used against the contest API.
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 2,
	}
}

// New creates a new circuit breaker.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	return &Breaker{
		state:            Closed,
		threshold:        cfg.Threshold,
		successThreshold: cfg.SuccessThreshold,
		cooldown:         cfg.Cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a request should be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = HalfOpen
		b.successes = 0
	}
	return true
}

// RecordSuccess records a successful request.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != HalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.successThreshold {
		b.state = Closed
		b.successes = 0
	}
}

// RecordFailure records a failed request.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == HalfOpen || b.failures >= b.threshold {
		b.state = Open
		b.openedAt = b.now()
		b.successes = 0
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
// Failures for which countable returns false pass through without tripping the breaker.
func (b *Breaker) Execute(fn func() error, countable func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.RecordSuccess()
	case countable == nil || countable(err):
		b.RecordFailure()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset resets the breaker to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
}
