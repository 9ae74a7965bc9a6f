package testutil

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()

	if !WaitFor(t, func() bool { return true }, WithTimeout(time.Second)) {
		t.Error("WaitFor() = false for an immediate success")
	}

	calls := 0
	ok := WaitFor(t, func() bool {
		calls++
		return calls >= 3
	}, WithTimeout(time.Second), WithInterval(time.Millisecond))
	if !ok || calls < 3 {
		t.Errorf("WaitFor() = %v after %d calls", ok, calls)
	}

	MustWaitFor(t, func() bool { return calls >= 3 }, WithTimeout(time.Second))

	if WaitFor(t, func() bool { return false }, WithTimeout(30*time.Millisecond), WithInterval(5*time.Millisecond)) {
		t.Error("WaitFor() = true on timeout")
	}
}

func TestWaitOptions(t *testing.T) {
	t.Parallel()
	o := defaultOptions()
	WithTimeout(5 * time.Second)(&o)
	WithInterval(50 * time.Millisecond)(&o)
	if o.Timeout != 5*time.Second || o.Interval != 50*time.Millisecond {
		t.Errorf("options = %+v", o)
	}
}

func TestWaitForRequests(t *testing.T) {
	t.Parallel()
	fake := NewFakeDOMjudge(t, "secret")

	go func() {
		for range 3 {
			req, _ := http.NewRequest(http.MethodGet, fake.URL()+"/api/v4/contests", nil)
			req.SetBasicAuth("admin", "secret")
			if resp, err := http.DefaultClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}()

	isList := func(call string) bool { return strings.HasPrefix(call, "GET /api/v4/contests") }
	if !fake.WaitForRequests(t, isList, 3, WithTimeout(5*time.Second)) {
		t.Fatalf("requests = %v", fake.RequestLog())
	}
	if fake.WaitForRequests(t, isList, 4, WithTimeout(30*time.Millisecond)) {
		t.Error("WaitForRequests() = true for requests never sent")
	}
}
