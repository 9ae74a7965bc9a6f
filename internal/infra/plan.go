package infra

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"domctl/internal/compose"
	"domctl/internal/health"
	"domctl/internal/operation"
)

// Change actions of an infrastructure plan.
const (
	ActionStart  = "start"
	ActionKeep   = "keep"
	ActionRemove = "remove"
)

// ServiceChange is the planned action for one service.
type ServiceChange struct {
	Service string        `json:"service"`
	Action  string        `json:"action"`
	Current health.Status `json:"current"`
}

// Plan is a read-only preview of a deployment.
type Plan struct {
	Steps    []string        `json:"steps"`
	Changes  []ServiceChange `json:"changes"`
	Status   *health.Report  `json:"status,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// BuildPlan dry-runs the deployment and compares the services it would
// start with what is currently running. It never starts or stops anything.
func BuildPlan(ctx context.Context, d *Deploy, env *operation.Env, checker *health.Checker) Plan {
	dry := *env
	dry.DryRun = true

	var plan Plan
	res := operation.Run[DeployResult](ctx, d, &dry)
	if !res.OK() {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("deployment would fail: %v", res.Err))
	}
	plan.Steps = res.Planned

	report := checker.Check(ctx, d.ComposePath, d.Prefix, d.Config.Judges)
	plan.Status = report
	if !report.DockerAvailable {
		plan.Warnings = append(plan.Warnings, "cannot preview container state: "+report.DockerError)
	}

	wanted := append([]string{compose.ServiceDatabase, compose.ServiceClient, compose.ServiceServer},
		compose.JudgehostServices(d.Config.Judges)...)
	want := make(map[string]bool, len(wanted))
	for _, svc := range wanted {
		want[svc] = true
		current := health.StatusMissing
		if r, ok := report.Services[svc]; ok {
			current = r.Status
		}
		action := ActionStart
		if current == health.StatusHealthy {
			action = ActionKeep
		}
		plan.Changes = append(plan.Changes, ServiceChange{Service: svc, Action: action, Current: current})
	}

	var extra []string
	for svc, r := range report.Services {
		if !want[svc] && r.Status != health.StatusMissing {
			extra = append(extra, svc)
		}
	}
	sort.Strings(extra)
	for _, svc := range extra {
		plan.Changes = append(plan.Changes, ServiceChange{Service: svc, Action: ActionRemove, Current: report.Services[svc].Status})
	}
	return plan
}

// Summary renders the plan for humans.
func (p Plan) Summary() string {
	var b strings.Builder
	counts := map[string]int{}
	for _, c := range p.Changes {
		counts[c.Action]++
	}
	fmt.Fprintf(&b, "Planned changes:\n  - Start: %d\n  - Keep: %d\n  - Remove: %d\n",
		counts[ActionStart], counts[ActionKeep], counts[ActionRemove])
	for _, c := range p.Changes {
		sym := map[string]string{ActionStart: "+", ActionKeep: "=", ActionRemove: "-"}[c.Action]
		fmt.Fprintf(&b, "    %s %s (%s)\n", sym, c.Service, c.Current)
	}
	if len(p.Steps) > 0 {
		fmt.Fprintf(&b, "Steps: %s\n", strings.Join(p.Steps, " → "))
	}
	return strings.TrimRight(b.String(), "\n")
}
