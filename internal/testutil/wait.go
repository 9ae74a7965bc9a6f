// Package testutil provides fakes of the DOMjudge API and the container
// runtime, problem package builders and polling helpers for tests.
package testutil

import (
	"testing"
	"time"
)

// WaitOptions configures WaitFor.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Timeout = d }
}

// WithInterval sets the polling interval (default: 20ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Interval = d }
}

func defaultOptions() WaitOptions {
	return WaitOptions{Timeout: 10 * time.Second, Interval: 20 * time.Millisecond}
}

// WaitFor polls until condition returns true or the timeout is reached.
// It reports whether the condition was met.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.Timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(o.Interval)
	}
	return condition()
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// WaitForRequests waits until the fake server has received at least n
// requests whose "METHOD path" satisfies match.
func (f *FakeDOMjudge) WaitForRequests(tb testing.TB, match func(call string) bool, n int, opts ...WaitOption) bool {
	tb.Helper()
	return WaitFor(tb, func() bool {
		got := 0
		for _, call := range f.RequestLog() {
			if match(call) {
				got++
			}
		}
		return got >= n
	}, opts...)
}
