package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"domctl/internal/apperrors"
	"domctl/internal/compose"
	"domctl/internal/health"
	"domctl/internal/infra"
	"domctl/internal/model"
	"domctl/internal/operation"
	"domctl/internal/prompt"
	"domctl/internal/runtime"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"
)

func infraCommand() *cli.Command {
	return &cli.Command{
		Name:  "infra",
		Usage: "manage the DOMjudge containers",
		Commands: []*cli.Command{
			{
				Name:   "apply",
				Usage:  "deploy or update the platform",
				Flags:  []cli.Flag{fileFlag(), dryRunFlag()},
				Action: infraApply,
			},
			{
				Name:  "destroy",
				Usage: "stop the platform (volumes are kept unless --force-delete-volumes)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "confirm", Usage: "confirm destruction"},
					&cli.BoolFlag{Name: "force-delete-volumes", Usage: "also delete volumes and secrets (PERMANENT DATA LOSS)"},
					dryRunFlag(),
				},
				Action: infraDestroy,
			},
			{
				Name:   "status",
				Usage:  "show the health of every container",
				Flags:  []cli.Flag{fileFlag(), jsonFlag()},
				Action: infraStatus,
			},
			{
				Name:   "plan",
				Usage:  "preview what 'infra apply' would do",
				Flags:  []cli.Flag{fileFlag(), jsonFlag()},
				Action: infraPlan,
			},
		},
	}
}

func (s *session) newDeploy(cfg model.InfraConfig, rt runtime.Runtime) *infra.Deploy {
	return &infra.Deploy{
		Config:         cfg,
		Runtime:        rt,
		Compose:        compose.Writer{Path: s.ws.ComposePath()},
		ComposePath:    s.ws.ComposePath(),
		Prefix:         s.ws.ContainerPrefix(),
		HealthTimeout:  s.settings.HealthTimeout,
		HealthInterval: s.settings.HealthInterval,
	}
}

func infraApply(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.lock(); err != nil {
		return err
	}

	cfg, err := s.loadInfra(cmd)
	if err != nil {
		return err
	}
	rt, err := s.dockerRuntime()
	if err != nil {
		return err
	}
	env, err := s.env()
	if err != nil {
		return err
	}

	res := operation.Run[infra.DeployResult](ctx, s.newDeploy(cfg, rt), env)
	if !res.OK() {
		return s.finish(res.Err, res.Message)
	}
	if s.dryRun {
		printPlanned(s.out, res.Planned)
		return s.finish(nil, res.Message)
	}
	if err := s.finish(nil, res.Message); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  URL:      %s\n", res.Value.URL)
	fmt.Fprintf(s.out, "  Username: admin\n")
	fmt.Fprintf(s.out, "  Password: stored in %s\n", s.ws.SecretsPath())
	return nil
}

func infraDestroy(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	removeVolumes := cmd.Bool("force-delete-volumes")
	if !s.dryRun && !cmd.Bool("confirm") {
		ok, err := confirmDestroy(s.out)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Validation("confirm",
				"Use --confirm to actually destroy infrastructure. Containers will be stopped; use --force-delete-volumes to also delete data")
		}
	}
	if !s.dryRun {
		if removeVolumes {
			fmt.Fprintln(s.out, color.RedString("** WARNING: DELETING ALL VOLUMES - THIS WILL PERMANENTLY DELETE ALL CONTEST DATA!"))
		} else {
			s.warn("Docker volumes (contest data, database) will be PRESERVED. Use --force-delete-volumes to remove them.")
		}
	}
	if err := s.lock(); err != nil {
		return err
	}

	rt, err := s.dockerRuntime()
	if err != nil {
		return err
	}
	env, err := s.env()
	if err != nil {
		return err
	}
	res := operation.Run[infra.DestroyResult](ctx, &infra.Destroy{
		Runtime:       rt,
		ComposePath:   s.ws.ComposePath(),
		RemoveVolumes: removeVolumes,
	}, env)
	if res.OK() && s.dryRun {
		printPlanned(s.out, res.Planned)
	}
	return s.finish(res.Err, res.Message)
}

// confirmDestroy asks on an interactive terminal; elsewhere it declines.
func confirmDestroy(out io.Writer) (bool, error) {
	if !readline.IsTerminal(int(os.Stdin.Fd())) {
		return false, nil
	}
	p, err := prompt.New(out)
	if err != nil {
		return false, err
	}
	defer p.Close()
	return p.Confirm("Stop all DOMjudge containers?", false)
}

func infraStatus(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	judges := 0
	if cfg, err := s.loadInfra(cmd); err == nil {
		judges = cfg.Judges
	} else {
		s.logger.Debug("No infra configuration, checking compose services only", "error", err)
	}

	var rt runtime.Runtime
	if r, err := s.dockerRuntime(); err == nil {
		rt = r
	} else {
		s.logger.Debug("Docker client unavailable", "error", err)
	}
	report := health.NewChecker(rt).Check(ctx, s.ws.ComposePath(), s.ws.ContainerPrefix(), judges)

	if cmd.Bool("json") {
		if err := writeJSON(s.out, report); err != nil {
			return err
		}
	} else {
		renderStatus(s.out, report)
	}
	if !report.IsHealthy() {
		return fmt.Errorf("%w: infrastructure is not healthy", errReported)
	}
	return nil
}

func infraPlan(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, err := s.loadInfra(cmd)
	if err != nil {
		return err
	}
	var rt runtime.Runtime
	if r, err := s.dockerRuntime(); err == nil {
		rt = r
	}
	env, err := s.env()
	if err != nil {
		return err
	}

	plan := infra.BuildPlan(ctx, s.newDeploy(cfg, rt), env, health.NewChecker(rt))
	if cmd.Bool("json") {
		return writeJSON(s.out, plan)
	}
	fmt.Fprintln(s.out, plan.Summary())
	for _, w := range plan.Warnings {
		s.warn("%s", w)
	}
	return nil
}

func renderStatus(w io.Writer, report *health.Report) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Service", "Container", "Status", "Details"})

	names := make([]string, 0, len(report.Services))
	for name := range report.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := report.Services[name]
		details := r.Error
		if details == "" && r.Health != "" {
			details = "health: " + r.Health
		}
		tw.AppendRow(table.Row{name, r.Container, statusColor(r.Status), details})
	}
	tw.Render()

	switch {
	case !report.DockerAvailable:
		fmt.Fprintln(w, color.RedString("✗ Docker is not available: %s", report.DockerError))
	case report.IsHealthy():
		fmt.Fprintln(w, color.GreenString("✓ Infrastructure is healthy (%d/%d services)", report.HealthyCount(), len(report.Services)))
	default:
		fmt.Fprintln(w, color.RedString("✗ Infrastructure is not healthy (%d/%d services)", report.HealthyCount(), len(report.Services)))
	}
}

func statusColor(status health.Status) string {
	switch status {
	case health.StatusHealthy:
		return color.GreenString(string(status))
	case health.StatusStarting:
		return color.YellowString(string(status))
	default:
		return color.RedString(string(status))
	}
}

func printPlanned(w io.Writer, steps []string) {
	fmt.Fprintln(w, "Steps that would run:")
	for i, step := range steps {
		fmt.Fprintf(w, "  %d. %s\n", i+1, step)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
