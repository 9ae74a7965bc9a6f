package operation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"domctl/internal/apperrors"
)

// Operation is an ordered pipeline of steps producing a T.
type Operation[T any] interface {
	// Describe returns a short human label, e.g. "Deploy infrastructure".
	Describe() string
	// Validate checks operation-level inputs. It runs in both modes.
	Validate(env *Env) error
	Steps() []Step
	// BuildResult assembles the final value once every step succeeded.
	BuildResult(env *Env) (T, string)
}

// Result is the tagged outcome of an operation.
type Result[T any] struct {
	Value   T
	Message string
	Err     error
	// FailedStep names the step that failed, empty on success.
	FailedStep string
	// Planned lists the steps a dry run would execute.
	Planned []string
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Success creates a successful result.
func Success[T any](value T, message string) Result[T] {
	return Result[T]{Value: value, Message: message}
}

// Failure creates a failed result.
func Failure[T any](step string, err error, message string) Result[T] {
	return Result[T]{Err: err, FailedStep: step, Message: message}
}

// Run executes op against env.
func Run[T any](ctx context.Context, op Operation[T], env *Env) Result[T] {
	logger := env.Logger.With("operation", op.Describe())

	steps := op.Steps()
	if err := checkNames(steps); err != nil {
		return Failure[T]("", err, "Invalid operation")
	}
	if err := op.Validate(env); err != nil {
		logger.Error("Validation failed", "error", err)
		return Failure[T]("validate", err, fmt.Sprintf("%s: validation failed", op.Describe()))
	}

	if env.DryRun {
		return dryRun[T](op, steps, env)
	}

	for _, step := range steps {
		name := step.Name()
		if err := ctx.Err(); err != nil {
			return Failure[T](name, fmt.Errorf("step %s: %w", name, err), "Interrupted")
		}
		if !step.ShouldRun(env) {
			logger.Debug("Step skipped", "step", name)
			continue
		}

		logger.Info(step.Description(), "step", name)
		start := time.Now()
		value, err := step.Run(ctx, env)
		elapsed := time.Since(start).Seconds()
		if env.Metrics != nil {
			env.Metrics.RecordStep(ctx, op.Describe(), name, err == nil, elapsed)
		}
		if err != nil {
			logger.Error("Step failed", "step", name, "error", err, "duration", elapsed)
			return Failure[T](name, fmt.Errorf("step %s: %w", name, err), fmt.Sprintf("%s failed", step.Description()))
		}
		logger.Debug("Step completed", "step", name, "duration", elapsed)
		env.results.Store(name, value)
	}

	value, message := op.BuildResult(env)
	return Success(value, message)
}

func dryRun[T any](op Operation[T], steps []Step, env *Env) Result[T] {
	var planned []string
	for _, step := range steps {
		if v, ok := step.(Validator); ok {
			if err := v.Validate(env); err != nil {
				return Failure[T](step.Name(), fmt.Errorf("step %s: %w", step.Name(), err), "Dry run validation failed")
			}
		}
		if step.ShouldRun(env) {
			planned = append(planned, step.Name())
		}
	}

	env.Logger.Info("Dry run complete", "operation", op.Describe(), "steps", strings.Join(planned, ","))
	var zero T
	return Result[T]{
		Value:   zero,
		Message: fmt.Sprintf("Dry run: %d step(s) would run, nothing was applied", len(planned)),
		Planned: planned,
	}
}

func checkNames(steps []Step) error {
	seen := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if s.Name() == "" {
			return apperrors.Validation("step", "step name must not be empty")
		}
		if _, dup := seen[s.Name()]; dup {
			return apperrors.Validation("step", fmt.Sprintf("duplicate step name %q", s.Name()))
		}
		seen[s.Name()] = struct{}{}
	}
	return nil
}
