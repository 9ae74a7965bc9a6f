package infra

import (
	"context"
	"errors"
	"fmt"
	"os"

	"domctl/internal/apperrors"
	"domctl/internal/operation"
	"domctl/internal/runtime"
)

// Step names of the destruction.
const (
	StepStopContainers = "stop_containers"
	StepRemoveVolumes  = "remove_volumes"
)

// DestroyResult describes what was torn down.
type DestroyResult struct {
	VolumesRemoved bool `json:"volumes_removed"`
}

// Destroy stops the platform and, only when asked, deletes its volumes and
// clears the secrets store.
type Destroy struct {
	Runtime       runtime.Runtime
	ComposePath   string
	RemoveVolumes bool
}

// Describe implements operation.Operation.
func (d *Destroy) Describe() string { return "Destroy infrastructure" }

// Validate implements operation.Operation.
func (d *Destroy) Validate(env *operation.Env) error {
	if d.Runtime == nil {
		return apperrors.Validation("destroy", "container runtime is required")
	}
	if d.RemoveVolumes && env.Secrets == nil {
		return apperrors.Validation("destroy", "secrets store is required to remove volumes")
	}
	if _, err := os.Stat(d.ComposePath); errors.Is(err, os.ErrNotExist) {
		return apperrors.Prerequisite("destroy",
			fmt.Sprintf("No deployment found: %s does not exist. Run 'domctl infra apply' first", d.ComposePath), err)
	}
	return nil
}

// Steps implements operation.Operation.
func (d *Destroy) Steps() []operation.Step {
	return []operation.Step{
		&stopStep{BaseStep: base(StepStopContainers, "Stopping all containers"), d: d},
		&removeVolumesStep{BaseStep: base(StepRemoveVolumes, "Removing volumes and clearing secrets"), d: d},
	}
}

// BuildResult implements operation.Operation.
func (d *Destroy) BuildResult(env *operation.Env) (DestroyResult, string) {
	if env.Completed(StepRemoveVolumes) {
		return DestroyResult{VolumesRemoved: true}, "All containers stopped • Volumes deleted permanently"
	}
	return DestroyResult{}, "All containers stopped • Volumes preserved"
}

type stopStep struct {
	operation.BaseStep
	d *Destroy
}

func (s *stopStep) Run(ctx context.Context, _ *operation.Env) (any, error) {
	if err := s.d.Runtime.Down(ctx, s.d.ComposePath, false); err != nil {
		return nil, err
	}
	return true, nil
}

type removeVolumesStep struct {
	operation.BaseStep
	d *Destroy
}

func (s *removeVolumesStep) ShouldRun(*operation.Env) bool { return s.d.RemoveVolumes }

func (s *removeVolumesStep) Run(ctx context.Context, env *operation.Env) (any, error) {
	if err := s.d.Runtime.Down(ctx, s.d.ComposePath, true); err != nil {
		return nil, err
	}
	if err := env.Secrets.Clear(); err != nil {
		return nil, err
	}
	env.Logger.Warn("Volumes removed and secrets cleared")
	return true, nil
}

// Verify Destroy implements operation.Operation
var _ operation.Operation[DestroyResult] = (*Destroy)(nil)
