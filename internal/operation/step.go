// Package operation runs declarative, ordered step pipelines.
//
// An Operation lists named Steps. Run executes them strictly in order against
// a shared Env, skipping steps whose ShouldRun predicate is false and stopping
// at the first failure. Each step's return value is stored under its name in
// the Env so later steps can read it; that map is the only channel between
// steps. In dry-run mode only validation runs and no step executes.
package operation

import (
	"context"
	"log/slog"

	"domctl/internal/secrets"

	"github.com/puzpuzpuz/xsync/v3"
)

// Step is one named unit of an operation.
type Step interface {
	Name() string
	Description() string
	// ShouldRun reports whether the step applies. It must not have side effects.
	ShouldRun(env *Env) bool
	Run(ctx context.Context, env *Env) (any, error)
}

// Validator is implemented by steps that can check their inputs without side effects.
// Validation runs in dry-run mode in place of Run.
type Validator interface {
	Validate(env *Env) error
}

// BaseStep provides Name, Description and an always-true ShouldRun.
type BaseStep struct {
	StepName string
	Desc     string
}

// Name returns the unique step name.
func (b BaseStep) Name() string { return b.StepName }

// Description returns the human description.
func (b BaseStep) Description() string { return b.Desc }

// ShouldRun always returns true.
func (b BaseStep) ShouldRun(*Env) bool { return true }

// Recorder receives per-step timings. observability.Metrics implements it.
type Recorder interface {
	RecordStep(ctx context.Context, operation, step string, success bool, durationSeconds float64)
}

// Env is the shared execution context of one operation run.
type Env struct {
	Secrets *secrets.Store
	DryRun  bool
	Logger  *slog.Logger
	Metrics Recorder

	results *xsync.MapOf[string, any]
}

// NewEnv creates an execution context. A nil logger uses slog.Default().
func NewEnv(store *secrets.Store, dryRun bool, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	return &Env{
		Secrets: store,
		DryRun:  dryRun,
		Logger:  logger,
		results: xsync.NewMapOf[string, any](),
	}
}

// Result returns the stored output of a completed step.
func (e *Env) Result(step string) (any, bool) {
	return e.results.Load(step)
}

// Completed reports whether a step ran successfully in this run.
func (e *Env) Completed(step string) bool {
	_, ok := e.results.Load(step)
	return ok
}

// ResultAs returns a step's output converted to T.
func ResultAs[T any](env *Env, step string) (T, bool) {
	var zero T
	v, ok := env.results.Load(step)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
