// Package health inspects a deployed platform and classifies every expected
// service.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"domctl/internal/apperrors"
	"domctl/internal/compose"
	"domctl/internal/runtime"
)

// Status is the classified state of one service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusStarting  Status = "starting"
	StatusStopped   Status = "stopped"
	StatusMissing   Status = "missing"
)

// noHealthcheck marks running containers without a health check.
const noHealthcheck = "no_healthcheck"

// mandatory services must be healthy for the platform to be usable.
var mandatory = []string{compose.ServiceServer, compose.ServiceDatabase}

// baseServices are deployed whatever the judges count.
var baseServices = []string{compose.ServiceDatabase, compose.ServiceClient, compose.ServiceServer}

// ServiceResult is the status of one service with inspection details.
type ServiceResult struct {
	Status    Status `json:"status"`
	Container string `json:"container"`
	State     string `json:"state,omitempty"`
	Health    string `json:"health,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report is the infrastructure status. It is never persisted.
type Report struct {
	DockerAvailable bool                     `json:"docker_available"`
	DockerError     string                   `json:"docker_error,omitempty"`
	Healthy         bool                     `json:"healthy"`
	Services        map[string]ServiceResult `json:"services"`
}

// IsHealthy returns true when docker is reachable and the application server
// and database are both healthy.
func (r *Report) IsHealthy() bool {
	if !r.DockerAvailable {
		return false
	}
	for _, svc := range mandatory {
		if r.Services[svc].Status != StatusHealthy {
			return false
		}
	}
	return true
}

// ServiceNames returns the reported services sorted by name.
func (r *Report) ServiceNames() []string {
	names := make([]string, 0, len(r.Services))
	for n := range r.Services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HealthyCount returns how many services are healthy.
func (r *Report) HealthyCount() int {
	n := 0
	for _, s := range r.Services {
		if s.Status == StatusHealthy {
			n++
		}
	}
	return n
}

// Checker performs status checks against the container runtime.
type Checker struct {
	runtime runtime.Runtime
	timeout time.Duration
}

// NewChecker creates a new status checker.
func NewChecker(rt runtime.Runtime) *Checker {
	return &Checker{
		runtime: rt,
		timeout: 5 * time.Second,
	}
}

// Check inspects every service of the compose file at composePath. Without
// a readable file the base services are reported as missing. When judges is
// positive, workers the file does not know about are reported as missing too.
func (c *Checker) Check(ctx context.Context, composePath, prefix string, judges int) *Report {
	report := &Report{Services: map[string]ServiceResult{}}

	if c.runtime == nil {
		report.DockerError = "container runtime not configured"
		return report
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.runtime.Ready(pingCtx)
	cancel()
	if err != nil {
		report.DockerError = err.Error()
		slog.Error("Docker is not available", "error", err)
		return report
	}
	report.DockerAvailable = true

	expected := map[string]string{}
	file, err := compose.Read(composePath)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		slog.Warn("Compose file not found, infrastructure was never deployed here", "path", composePath)
	case err != nil:
		slog.Error("Failed to parse compose file", "error", err)
	default:
		for _, svc := range file.ServiceNames() {
			expected[svc] = file.ContainerName(svc)
		}
	}
	if file == nil {
		for _, svc := range baseServices {
			expected[svc] = prefix + "-" + svc
		}
	}
	for _, svc := range compose.JudgehostServices(judges) {
		if _, ok := expected[svc]; !ok {
			expected[svc] = prefix + "-" + svc
		}
	}

	for svc, container := range expected {
		report.Services[svc] = c.checkContainer(ctx, container)
	}
	report.Healthy = report.IsHealthy()

	slog.Info("Infrastructure status check complete",
		"healthy", report.Healthy,
		"services", len(report.Services),
		"healthyServices", report.HealthyCount())
	return report
}

func (c *Checker) checkContainer(ctx context.Context, container string) ServiceResult {
	result := ServiceResult{Container: container}
	state, err := c.runtime.Inspect(ctx, container)
	if err != nil {
		result.Status = StatusMissing
		result.Error = err.Error()
		return result
	}
	if !state.Exists {
		result.Status = StatusMissing
		result.Error = "Container not found"
		return result
	}

	result.State = state.Status
	if !state.Running() {
		result.Status = StatusStopped
		return result
	}

	switch state.Health {
	case runtime.HealthHealthy:
		result.Status = StatusHealthy
		result.Health = state.Health
	case runtime.HealthStarting:
		result.Status = StatusStarting
		result.Health = state.Health
	case runtime.HealthUnhealthy:
		result.Status = StatusUnhealthy
		result.Health = state.Health
	default:
		// A running container without a health check counts as healthy.
		result.Status = StatusHealthy
		result.Health = noHealthcheck
	}
	return result
}
