// Package docker implements runtime.Runtime on the host Docker daemon.
// Container inspection and exec go through the Engine API; service
// lifecycle goes through the docker compose CLI plugin.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"domctl/internal/apperrors"
	"domctl/internal/runtime"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Runtime talks to the local Docker daemon.
type Runtime struct {
	client *client.Client
	binary string
}

// Config holds configuration for the Docker runtime.
type Config struct {
	// Binary is the docker CLI used for compose commands (default "docker").
	Binary string
}

// New creates a Docker runtime from the environment (DOCKER_HOST etc.).
func New(cfg Config) (*Runtime, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperrors.Prerequisite("docker.client", "failed to create docker client", err)
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "docker"
	}
	return &Runtime{client: dockerClient, binary: binary}, nil
}

// Close releases the API client.
func (r *Runtime) Close() error {
	return r.client.Close()
}

// Ready checks if the Docker daemon is reachable and responsive.
func (r *Runtime) Ready(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return apperrors.Prerequisite("docker.ping",
			"Docker is not reachable. Check that the daemon is running and that your user may access it (docker group or sudo)", err)
	}
	return nil
}

// Up starts services with docker compose.
func (r *Runtime) Up(ctx context.Context, composeFile string, services ...string) error {
	args := append([]string{"compose", "-f", composeFile, "up", "-d", "--remove-orphans"}, services...)
	slog.Info("Starting services", "services", services)
	if err := r.compose(ctx, args...); err != nil {
		return apperrors.Runtime("docker.composeUp", fmt.Errorf("failed to start services %s: %w", strings.Join(services, ", "), err))
	}
	slog.Debug("Services started", "services", services)
	return nil
}

// Down stops every compose service, removing volumes when asked.
func (r *Runtime) Down(ctx context.Context, composeFile string, removeVolumes bool) error {
	args := []string{"compose", "-f", composeFile, "down"}
	if removeVolumes {
		args = append(args, "-v")
		slog.Warn("Removing volumes, all contest data will be permanently deleted")
	}
	if err := r.compose(ctx, args...); err != nil {
		return apperrors.Runtime("docker.composeDown", fmt.Errorf("failed to stop services: %w", err))
	}
	return nil
}

func (r *Runtime) compose(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, lastLine(msg))
	}
	return nil
}

// Inspect returns the container state; a missing container is reported as
// not existing rather than as an error.
func (r *Runtime) Inspect(ctx context.Context, name string) (runtime.ContainerState, error) {
	inspect, err := r.client.ContainerInspect(ctx, name)
	if errdefs.IsNotFound(err) {
		return runtime.ContainerState{}, nil
	}
	if err != nil {
		return runtime.ContainerState{}, apperrors.Runtime("docker.inspectContainer", err)
	}

	state := runtime.ContainerState{Exists: true}
	if inspect.State != nil {
		state.Status = string(inspect.State.Status)
		if inspect.State.Health != nil {
			state.Health = string(inspect.State.Health.Status)
		}
	}
	return state, nil
}

// Exec runs cmd inside a running container and returns its stdout. A
// non-zero exit code is an error carrying the command's stderr.
func (r *Runtime) Exec(ctx context.Context, name string, env []string, cmd ...string) (string, error) {
	created, err := r.client.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", apperrors.Runtime("docker.execCreate", fmt.Errorf("container '%s': %w", name, err))
	}

	attach, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", apperrors.Runtime("docker.execAttach", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return "", apperrors.Runtime("docker.execRead", err)
	}

	result, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return "", apperrors.Runtime("docker.execInspect", err)
	}
	if result.ExitCode != 0 {
		return "", apperrors.Runtime("docker.exec", fmt.Errorf("'%s' in container '%s' exited with code %d: %s",
			cmd[0], name, result.ExitCode, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

// PortOwner returns the name of the running container that publishes the
// given host port, or "" when none does.
func (r *Runtime) PortOwner(ctx context.Context, port int) (string, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("publish", strconv.Itoa(port))),
	})
	if err != nil {
		return "", apperrors.Runtime("docker.listContainers", err)
	}
	for _, c := range containers {
		if len(c.Names) > 0 {
			return strings.TrimPrefix(c.Names[0], "/"), nil
		}
	}
	return "", nil
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// Verify Runtime implements runtime.Runtime
var _ runtime.Runtime = (*Runtime)(nil)
