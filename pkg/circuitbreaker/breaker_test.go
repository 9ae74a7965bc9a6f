package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests move past the cooldown without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New(cfg)
	b.now = clock.now
	return b, clock
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg.Threshold != 5 {
		t.Errorf("Expected Threshold 5, got %d", cfg.Threshold)
	}
	if cfg.Cooldown != 30*time.Second {
		t.Errorf("Expected Cooldown 30s, got %v", cfg.Cooldown)
	}
	if cfg.SuccessThreshold != 2 {
		t.Errorf("Expected SuccessThreshold 2, got %d", cfg.SuccessThreshold)
	}
}

func TestNew_WithZeroValues(t *testing.T) {
	t.Parallel()
	b := New(Config{})

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != Closed {
		t.Error("Expected closed state after 4 failures (default threshold is 5)")
	}

	b.RecordFailure()
	if b.State() != Open {
		t.Error("Expected open state after 5 failures")
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{Threshold: 3, Cooldown: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Error("expected closed state before threshold")
	}

	b.RecordFailure()
	if b.State() != Open {
		t.Errorf("expected open state after threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected Allow() to return false when open")
	}
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{Threshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Errorf("expected closed state, failures are not consecutive, got %s", b.State())
	}
}

func TestBreaker_HalfOpenNeedsSuccessThreshold(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(Config{Threshold: 2, Cooldown: 30 * time.Second, SuccessThreshold: 2})

	b.RecordFailure()
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected Allow() to return false before cooldown")
	}

	clock.advance(31 * time.Second)
	if !b.Allow() {
		t.Fatal("expected Allow() to return true after cooldown")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open state, got %s", b.State())
	}

	b.RecordSuccess()
	if b.State() != HalfOpen {
		t.Errorf("expected to stay half-open after one success, got %s", b.State())
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Errorf("expected closed state after two successes, got %s", b.State())
	}
}

func TestBreaker_ReopensOnFailureInHalfOpen(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(Config{Threshold: 2, Cooldown: time.Second})

	b.RecordFailure()
	b.RecordFailure()
	clock.advance(2 * time.Second)
	b.Allow()

	b.RecordFailure()
	if b.State() != Open {
		t.Errorf("expected open state after failure in half-open, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected a fresh cooldown after reopening")
	}
}

func TestBreaker_Execute(t *testing.T) {
	t.Parallel()
	errServer := errors.New("503")
	errClient := errors.New("404")
	retryable := func(err error) bool { return errors.Is(err, errServer) }

	b, _ := newTestBreaker(Config{Threshold: 2, Cooldown: time.Minute})

	for i := 0; i < 5; i++ {
		if err := b.Execute(func() error { return errClient }, retryable); !errors.Is(err, errClient) {
			t.Fatalf("Execute() = %v, want client error passed through", err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("client errors must not trip the breaker, got %s", b.State())
	}

	_ = b.Execute(func() error { return errServer }, retryable)
	_ = b.Execute(func() error { return errServer }, retryable)

	called := false
	err := b.Execute(func() error { called = true; return nil }, retryable)
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute() = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn must not run while the circuit is open")
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{Threshold: 2, Cooldown: time.Second})

	b.RecordFailure()
	b.RecordFailure()
	b.Reset()
	if b.State() != Closed {
		t.Errorf("expected closed state after reset, got %s", b.State())
	}
	if b.Failures() != 0 {
		t.Errorf("expected 0 failures after reset, got %d", b.Failures())
	}
}

func TestBreaker_StateString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state    State
		expected string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestRegistry_GetCreatesBreaker(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 5, Cooldown: time.Second})

	b1 := r.Get("contests")
	b2 := r.Get("contests")
	b3 := r.Get("teams")

	if b1 != b2 {
		t.Error("expected same breaker for same key")
	}
	if b1 == b3 {
		t.Error("expected different breaker for different key")
	}

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "contests" || keys[1] != "teams" {
		t.Errorf("Keys() = %v, want [contests teams]", keys)
	}
}

func TestRegistry_Stats(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 2, Cooldown: time.Minute})

	open := r.Get("problems")
	_ = r.Get("teams")
	_ = r.Get("users")

	open.RecordFailure()
	open.RecordFailure()

	stats := r.Stats()
	if stats.Total != 3 {
		t.Errorf("expected 3 total, got %d", stats.Total)
	}
	if stats.Open != 1 {
		t.Errorf("expected 1 open, got %d", stats.Open)
	}
	if stats.Closed != 2 {
		t.Errorf("expected 2 closed, got %d", stats.Closed)
	}
}
