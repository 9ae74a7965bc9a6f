package apperrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfig(t *testing.T) {
	t.Parallel()
	err := Config("contests[1].shortname", "duplicate shortname 'a'")

	if !errors.Is(err, ErrConfig) {
		t.Error("expected error to match ErrConfig")
	}
	if err.Error() != "contests[1].shortname: duplicate shortname 'a'" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "contests[1].shortname" {
		t.Errorf("expected field 'contests[1].shortname', got %q", appErr.Field)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("port", "port must be between 1 and 65535")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "port must be between 1 and 65535" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("contest", "demo")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "contest demo not found" {
		t.Errorf("expected message 'contest demo not found', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "contest" {
		t.Errorf("expected resource 'contest', got %q", appErr.Resource)
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("contest", "demo", "shortname already in use")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	if err.Error() != "shortname already in use" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestRuntimeKeepsCause(t *testing.T) {
	t.Parallel()
	err := Runtime("docker.exec", context.DeadlineExceeded)

	if !errors.Is(err, ErrRuntime) {
		t.Error("expected error to match ErrRuntime")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to stay reachable through errors.Is")
	}
	if err.Error() != "docker.exec: context deadline exceeded" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestAPIStatus(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("create contest: %w", API("POST /api/v4/contests", 503, errors.New("service unavailable")))

	if !errors.Is(err, ErrAPI) {
		t.Error("expected error to match ErrAPI")
	}
	if got := StatusCode(err); got != 503 {
		t.Errorf("StatusCode() = %d, want 503", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Errorf("StatusCode(plain) = %d, want 0", got)
	}
}

func TestPartial(t *testing.T) {
	t.Parallel()
	first := errors.New("team 'Alpha': timeout")
	second := errors.New("team 'Beta': 500")
	err := Partial("teams", []error{first, second})

	if !errors.Is(err, ErrPartial) {
		t.Error("expected error to match ErrPartial")
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Error("expected every failure to be reachable")
	}
	if !strings.Contains(err.Error(), "Alpha") || !strings.Contains(err.Error(), "Beta") {
		t.Errorf("expected message to name every failure, got %q", err.Error())
	}
}

func TestPrerequisite(t *testing.T) {
	t.Parallel()
	err := Prerequisite("validate", "port 8080 is not available", errors.New("address already in use"))

	if !errors.Is(err, ErrPrerequisite) {
		t.Error("expected error to match ErrPrerequisite")
	}
	if err.Error() != "port 8080 is not available: address already in use" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"config", Config("infra.port", "bad"), 1},
		{"wrapped runtime", fmt.Errorf("step start_database: %w", Runtime("compose up", errors.New("boom"))), 1},
		{"interrupted", ErrInterrupted, 130},
		{"canceled", fmt.Errorf("wait: %w", context.Canceled), 130},
		{"plain", errors.New("unknown"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
