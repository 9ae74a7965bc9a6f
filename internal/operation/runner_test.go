package operation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"domctl/internal/apperrors"
	"domctl/internal/secrets"
)

type fakeStep struct {
	BaseStep
	calls    *[]string
	err      error
	value    any
	skip     bool
	validErr error
}

func (s fakeStep) ShouldRun(*Env) bool { return !s.skip }

func (s fakeStep) Run(_ context.Context, _ *Env) (any, error) {
	*s.calls = append(*s.calls, s.StepName)
	return s.value, s.err
}

func (s fakeStep) Validate(*Env) error { return s.validErr }

type fakeOp struct {
	steps    []Step
	validErr error
}

func (o fakeOp) Describe() string { return "fake" }
func (o fakeOp) Validate(*Env) error { return o.validErr }
func (o fakeOp) Steps() []Step { return o.steps }
func (o fakeOp) BuildResult(env *Env) (int, string) {
	n, _ := ResultAs[int](env, "b")
	return n, fmt.Sprintf("done with %d", n)
}

type recorder struct{ steps []string }

func (r *recorder) RecordStep(_ context.Context, _, step string, success bool, _ float64) {
	r.steps = append(r.steps, fmt.Sprintf("%s:%v", step, success))
}

func newEnv(t *testing.T, dryRun bool) *Env {
	t.Helper()
	store, err := secrets.Open(filepath.Join(t.TempDir(), "secrets.json"))
	if err != nil {
		t.Fatal(err)
	}
	return NewEnv(store, dryRun, nil)
}

func step(name string, calls *[]string) fakeStep {
	return fakeStep{BaseStep: BaseStep{StepName: name, Desc: "step " + name}, calls: calls}
}

func TestRun_OrderAndResults(t *testing.T) {
	t.Parallel()
	var calls []string
	a := step("a", &calls)
	a.value = "secret"
	b := step("b", &calls)
	b.value = 42

	env := newEnv(t, false)
	res := Run[int](context.Background(), fakeOp{steps: []Step{a, b}}, env)

	if !res.OK() {
		t.Fatalf("Run() error = %v", res.Err)
	}
	if strings.Join(calls, ",") != "a,b" {
		t.Errorf("calls = %v, want [a b]", calls)
	}
	if res.Value != 42 || res.Message != "done with 42" {
		t.Errorf("result = %+v", res)
	}
	if v, ok := ResultAs[string](env, "a"); !ok || v != "secret" {
		t.Errorf("ResultAs(a) = %q, %v", v, ok)
	}
}

func TestRun_ShortCircuit(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	for k := 0; k < 4; k++ {
		t.Run(fmt.Sprintf("fail_at_%d", k), func(t *testing.T) {
			t.Parallel()
			var calls []string
			steps := make([]Step, 4)
			for i := range steps {
				s := step(fmt.Sprintf("s%d", i), &calls)
				if i == k {
					s.err = boom
				}
				steps[i] = s
			}

			rec := &recorder{}
			env := newEnv(t, false)
			env.Metrics = rec
			res := Run[int](context.Background(), fakeOp{steps: steps}, env)

			if res.OK() {
				t.Fatal("expected failure")
			}
			if !errors.Is(res.Err, boom) {
				t.Errorf("Err = %v, want to wrap boom", res.Err)
			}
			if res.FailedStep != fmt.Sprintf("s%d", k) {
				t.Errorf("FailedStep = %q", res.FailedStep)
			}
			if len(calls) != k+1 {
				t.Errorf("ran %d steps, want %d", len(calls), k+1)
			}
			if last := rec.steps[len(rec.steps)-1]; last != fmt.Sprintf("s%d:false", k) {
				t.Errorf("last recorded step = %q", last)
			}
			if env.Completed(fmt.Sprintf("s%d", k)) {
				t.Error("failed step must not be stored as completed")
			}
		})
	}
}

func TestRun_SkippedStepOmitted(t *testing.T) {
	t.Parallel()
	var calls []string
	a := step("a", &calls)
	b := step("b", &calls)
	b.skip = true

	env := newEnv(t, false)
	res := Run[int](context.Background(), fakeOp{steps: []Step{a, b}}, env)

	if !res.OK() {
		t.Fatalf("Run() error = %v", res.Err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want [a]", calls)
	}
	if env.Completed("b") {
		t.Error("skipped step must be absent from results")
	}
}

func TestRun_DryRunNeverExecutes(t *testing.T) {
	t.Parallel()
	var calls []string
	a := step("a", &calls)
	b := step("b", &calls)
	c := step("c", &calls)
	c.skip = true

	res := Run[int](context.Background(), fakeOp{steps: []Step{a, b, c}}, newEnv(t, true))

	if !res.OK() {
		t.Fatalf("Run() error = %v", res.Err)
	}
	if len(calls) != 0 {
		t.Errorf("dry run executed %v", calls)
	}
	if strings.Join(res.Planned, ",") != "a,b" {
		t.Errorf("Planned = %v, want [a b]", res.Planned)
	}
	if !strings.Contains(res.Message, "nothing was applied") {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestRun_DryRunStepValidation(t *testing.T) {
	t.Parallel()
	var calls []string
	a := step("a", &calls)
	a.validErr = apperrors.Validation("x", "missing x")

	res := Run[int](context.Background(), fakeOp{steps: []Step{a}}, newEnv(t, true))
	if !errors.Is(res.Err, apperrors.ErrValidation) {
		t.Errorf("Err = %v, want ErrValidation", res.Err)
	}
}

func TestRun_OperationValidation(t *testing.T) {
	t.Parallel()
	var calls []string
	op := fakeOp{steps: []Step{step("a", &calls)}, validErr: errors.New("bad input")}

	res := Run[int](context.Background(), op, newEnv(t, false))
	if res.OK() || res.FailedStep != "validate" {
		t.Errorf("result = %+v, want validate failure", res)
	}
	if len(calls) != 0 {
		t.Error("no step may run after operation validation fails")
	}
}

func TestRun_DuplicateStepNames(t *testing.T) {
	t.Parallel()
	var calls []string
	res := Run[int](context.Background(), fakeOp{steps: []Step{step("a", &calls), step("a", &calls)}}, newEnv(t, false))
	if !errors.Is(res.Err, apperrors.ErrValidation) {
		t.Errorf("Err = %v, want ErrValidation", res.Err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run[int](ctx, fakeOp{steps: []Step{step("a", &calls)}}, newEnv(t, false))
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
	if apperrors.ExitCode(res.Err) != apperrors.ExitInterrupted {
		t.Errorf("ExitCode = %d, want 130", apperrors.ExitCode(res.Err))
	}
	if len(calls) != 0 {
		t.Error("no step may run on a cancelled context")
	}
}
