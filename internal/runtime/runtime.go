// Package runtime defines the container-runtime capabilities the deployment
// and status operations consume.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"domctl/internal/apperrors"
	"domctl/pkg/backoff"
)

// Container health values reported by the runtime.
const (
	HealthHealthy   = "healthy"
	HealthStarting  = "starting"
	HealthUnhealthy = "unhealthy"
)

// ContainerState is the inspected state of one container.
type ContainerState struct {
	Exists bool
	Status string // running, exited, created, ...
	Health string // empty when the container defines no health check
}

// Running reports whether the container process is up.
func (s ContainerState) Running() bool { return s.Exists && s.Status == "running" }

// Runtime starts, stops, inspects and executes commands in the platform's
// containers.
type Runtime interface {
	// Ready checks that the container daemon is reachable.
	Ready(ctx context.Context) error
	// Up starts the named services of the compose file.
	Up(ctx context.Context, composeFile string, services ...string) error
	// Down stops every service of the compose file, deleting volumes if asked.
	Down(ctx context.Context, composeFile string, removeVolumes bool) error
	// Inspect returns the container state. A missing container is not an error.
	Inspect(ctx context.Context, container string) (ContainerState, error)
	// Exec runs cmd inside a running container and returns its stdout.
	Exec(ctx context.Context, container string, env []string, cmd ...string) (string, error)
	// PortOwner returns the name of the container publishing the host port, or "".
	PortOwner(ctx context.Context, port int) (string, error)
}

// WaitHealthy polls the container until it reports healthy. It fails as soon
// as the container turns unhealthy or when timeout elapses.
func WaitHealthy(ctx context.Context, rt Runtime, container string, timeout, interval time.Duration) error {
	logger := slog.With("container", container)
	logger.Info("Waiting for container to become healthy", "timeout", timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cfg := &backoff.Config{Initial: min(500*time.Millisecond, interval), Max: interval, Factor: 2}
	var last ContainerState
	for attempt := 1; ; attempt++ {
		state, err := rt.Inspect(ctx, container)
		if err != nil && ctx.Err() == nil {
			logger.Debug("Inspect failed, retrying", "error", err)
		}
		if err == nil {
			last = state
			switch {
			case state.Health == HealthHealthy:
				logger.Info("Container is healthy", "elapsed", time.Since(start).Round(time.Millisecond))
				return nil
			case state.Health == HealthUnhealthy:
				return apperrors.Runtime("wait_healthy", fmt.Errorf("container '%s' became unhealthy", container))
			case state.Exists && state.Status == "exited":
				return apperrors.Runtime("wait_healthy", fmt.Errorf("container '%s' exited before becoming healthy", container))
			}
		}

		if err := backoff.Sleep(ctx, attempt, cfg); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return apperrors.Runtime("wait_healthy", fmt.Errorf(
					"timeout after %s waiting for container '%s' to become healthy (status %q, health %q): %w",
					timeout, container, last.Status, last.Health, err))
			}
			return err
		}
	}
}
