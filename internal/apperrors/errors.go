// Package apperrors provides structured application errors with exit code mapping.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation   = errors.New("validation error")
	ErrConfig       = errors.New("configuration error")
	ErrPrerequisite = errors.New("prerequisite not met")
	ErrRuntime      = errors.New("container runtime error")
	ErrAPI          = errors.New("api error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrPartial      = errors.New("partial failure")
	ErrInterrupted  = errors.New("interrupted")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For configuration errors (e.g., "contests[0].shortname")
	Resource string // For not found/conflict (e.g., "contest")
	Op       string // Operation that failed (e.g., "docker.exec")
	Status   int    // HTTP status for API errors, 0 when the request never completed
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// Config creates a configuration error for a specific field.
func Config(field, message string) error {
	msg := message
	if field != "" {
		msg = fmt.Sprintf("%s: %s", field, message)
	}
	return &Error{
		Sentinel: ErrConfig,
		Message:  msg,
		Field:    field,
	}
}

// Prerequisite creates an error for an unmet precondition of a mutating command.
func Prerequisite(op, message string, cause error) error {
	msg := message
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", message, cause)
	}
	return &Error{
		Sentinel: ErrPrerequisite,
		Message:  msg,
		Op:       op,
		Cause:    cause,
	}
}

// Runtime creates a container runtime error wrapping an underlying cause.
func Runtime(op string, cause error) error {
	return &Error{
		Sentinel: ErrRuntime,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// API creates a REST API error. Status is the HTTP status, or 0 for transport failures.
func API(op string, status int, cause error) error {
	return &Error{
		Sentinel: ErrAPI,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Status:   status,
		Cause:    cause,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Partial aggregates the failures of a batch where other items succeeded.
func Partial(subject string, failures []error) error {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.Error())
	}
	return &Error{
		Sentinel: ErrPartial,
		Message:  fmt.Sprintf("%s: %s", subject, strings.Join(parts, "; ")),
		Resource: subject,
		Cause:    errors.Join(failures...),
	}
}

// StatusCode returns the HTTP status carried by an API error, or 0.
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}
