package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"domctl/internal/apperrors"
	"domctl/internal/contest"
	"domctl/internal/domjudge"
	"domctl/internal/model"
	"domctl/internal/operation"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"
)

func contestCommand() *cli.Command {
	return &cli.Command{
		Name:  "contest",
		Usage: "configure contests, problems and teams",
		Commands: []*cli.Command{
			{
				Name:   "apply",
				Usage:  "create missing contests, problems and teams",
				Flags:  []cli.Flag{fileFlag(), dryRunFlag()},
				Action: contestApply,
			},
			{
				Name:   "plan",
				Usage:  "preview what 'contest apply' would change",
				Flags:  []cli.Flag{fileFlag(), jsonFlag()},
				Action: contestPlan,
			},
			{
				Name:      "verify-problemset",
				Usage:     "submit every reference solution and compare the verdicts",
				ArgsUsage: "CONTEST",
				Flags: []cli.Flag{
					fileFlag(),
					dryRunFlag(),
					jsonFlag(),
					&cli.DurationFlag{Name: "timeout", Value: contest.DefaultJudgeTimeout, Usage: "maximum wait for all judgements"},
				},
				Action: contestVerify,
			},
			{
				Name:  "inspect",
				Usage: "print the loaded configuration as JSON",
				Flags: []cli.Flag{
					fileFlag(),
					&cli.StringFlag{Name: "format", Usage: "JMESPath expression applied to the output"},
					&cli.BoolFlag{Name: "show-secrets", Usage: "do not mask team passwords"},
				},
				Action: contestInspect,
			},
		},
	}
}

// optionalClient returns nil instead of failing when no credentials are known.
func (s *session) optionalClient(cfg *model.Config) *domjudge.Client {
	client, err := s.apiClient(cfg)
	if err != nil {
		s.logger.Debug("Continuing without API client", "error", err)
		return nil
	}
	return client
}

func contestApply(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.lock(); err != nil {
		return err
	}

	cfg, err := s.loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	op := &contest.Apply{Config: cfg}
	if s.dryRun {
		op.Client = s.optionalClient(cfg)
	} else if op.Client, err = s.apiClient(cfg); err != nil {
		return err
	}
	if s.metrics != nil {
		op.Metrics = s.metrics
	}
	env, err := s.env()
	if err != nil {
		return err
	}

	res := operation.Run[contest.ApplyResult](ctx, op, env)
	if res.OK() && s.dryRun {
		printPlanned(s.out, res.Planned)
	}
	if err := s.finish(res.Err, res.Message); err != nil {
		return err
	}
	for _, out := range res.Value.Contests {
		state := "already existed"
		if out.Created {
			state = "created"
		}
		fmt.Fprintf(s.out, "  %s (id %s, %s): %d problem(s), %d team(s), %d new team(s)\n",
			out.Shortname, out.ID, state, len(out.ProblemIDs), len(out.TeamIDs), out.NewTeams)
	}
	return nil
}

func contestPlan(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, err := s.loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	env, err := s.env()
	if err != nil {
		return err
	}
	res := operation.Run[contest.Plan](ctx, &contest.PlanChanges{Config: cfg, Client: s.optionalClient(cfg)}, env)
	if !res.OK() {
		return s.finish(res.Err, res.Message)
	}
	if cmd.Bool("json") {
		return writeJSON(s.out, res.Value)
	}
	fmt.Fprintln(s.out, res.Value.Summary())
	for _, w := range res.Value.Warnings {
		s.warn("%s", w)
	}
	return nil
}

func contestVerify(ctx context.Context, cmd *cli.Command) error {
	shortname := cmd.Args().First()
	if shortname == "" {
		return apperrors.Validation("contest", "Usage: domctl contest verify-problemset CONTEST")
	}

	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, err := s.loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	op := &contest.VerifyProblemset{Config: cfg, Contest: shortname, JudgeTimeout: cmd.Duration("timeout")}
	if !s.dryRun {
		if op.Client, err = s.apiClient(cfg); err != nil {
			return err
		}
	}
	env, err := s.env()
	if err != nil {
		return err
	}

	res := operation.Run[contest.Report](ctx, op, env)
	if !res.OK() {
		return s.finish(res.Err, res.Message)
	}
	if s.dryRun {
		cc, _ := cfg.Contest(shortname)
		subs := contest.Submissions(cc)
		if cmd.Bool("json") {
			return writeJSON(s.out, subs)
		}
		renderSubmissions(s.out, subs)
		return s.finish(nil, fmt.Sprintf("%d submission(s) would be verified", len(subs)))
	}

	if cmd.Bool("json") {
		if err := writeJSON(s.out, res.Value); err != nil {
			return err
		}
	} else {
		renderChecks(s.out, res.Value.Checks)
	}
	if n := len(res.Value.Mismatches()); n > 0 {
		return s.finish(errors.New("verdicts differ from the submission directories"),
			fmt.Sprintf("%d submission(s) did not match their expected verdict", n))
	}
	return s.finish(nil, res.Message)
}

func contestInspect(ctx context.Context, cmd *cli.Command) error {
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, err := s.loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	data, err := contest.Inspect(cfg, cmd.Bool("show-secrets"), cmd.String("format"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.out, string(data))
	return err
}

func renderSubmissions(w io.Writer, subs []contest.PlannedSubmission) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Problem", "File", "Expected", "Language"})
	for _, sub := range subs {
		lang := sub.Language
		if lang == "" {
			lang = color.YellowString("unknown (skipped)")
		}
		tw.AppendRow(table.Row{sub.Problem, sub.File, string(sub.Expected), lang})
	}
	tw.Render()
}

func renderChecks(w io.Writer, checks []contest.Check) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Problem", "File", "Expected", "Verdict", "Result"})
	for _, c := range checks {
		result := color.GreenString("ok")
		switch {
		case c.Skipped:
			result = color.YellowString("skipped")
		case !c.OK:
			result = color.RedString("mismatch")
		}
		verdict := c.Verdict
		if c.Error != "" {
			verdict = c.Error
		}
		tw.AppendRow(table.Row{c.Problem, c.File, string(c.Expected), verdict, result})
	}
	tw.Render()
}
