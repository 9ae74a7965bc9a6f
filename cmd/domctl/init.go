package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"domctl/internal/apperrors"
	"domctl/internal/config"
	"domctl/internal/problem"
	"domctl/internal/prompt"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"
)

// problemColors is the palette offered by the wizard, in order.
var problemColors = []string{
	"red", "green", "blue", "yellow", "cyan", "magenta", "orange",
	"purple", "pink", "teal", "brown", "gray", "black",
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create dom-judge.yaml and problems.yaml with an interactive wizard",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "overwrite", Usage: "replace existing configuration files"},
		},
		Action: runInit,
	}
}

func runInit(_ context.Context, cmd *cli.Command) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	overwrite := cmd.Bool("overwrite")
	target := filepath.Join(dir, config.DefaultFileNames[0])
	if _, err := os.Stat(target); err == nil && !overwrite {
		return apperrors.Conflict("file", target,
			fmt.Sprintf("File '%s' already exists; pass --overwrite to replace it", target))
	}

	out := color.Output
	p, err := prompt.New(out)
	if err != nil {
		return err
	}
	defer p.Close()

	sc, err := runWizard(p, out, time.Now())
	if err != nil {
		return err
	}
	path, err := sc.Write(dir, overwrite)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, color.GreenString("\n✓ Configuration files created:"))
	fmt.Fprintf(out, "  • %s\n  • %s\n", path, filepath.Join(dir, config.ProblemsFileName))
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Run 'domctl infra apply' to start the platform")
	fmt.Fprintln(out, "  2. Run 'domctl contest apply' to configure the contest")
	return nil
}

// runWizard asks every question of the init wizard.
func runWizard(p *prompt.Prompter, out io.Writer, now time.Time) (config.Scaffold, error) {
	var sc config.Scaffold
	var err error

	p.Section("Infrastructure Configuration", "Configure the platform settings for your contest environment")
	if sc.Port, err = p.AskInt("Port number", 8080, 1, 65535); err != nil {
		return sc, err
	}
	if sc.Judges, err = p.AskInt("Number of judges", 2, 0, 64); err != nil {
		return sc, err
	}
	if sc.Password, err = p.Password("Admin password (empty to generate one)"); err != nil {
		return sc, err
	}
	password := "(generated)"
	if sc.Password != "" {
		password = "****"
	}
	renderSettings(out, "Infrastructure", [][2]string{
		{"Port", strconv.Itoa(sc.Port)},
		{"Judges", strconv.Itoa(sc.Judges)},
		{"Password", password},
	})

	p.Section("Contest Configuration", "Set up the parameters for your coding contest")
	if sc.Name, err = p.AskRequired("Contest name"); err != nil {
		return sc, err
	}
	if sc.Shortname, err = p.AskRequired("Contest shortname"); err != nil {
		return sc, err
	}
	start, err := p.Ask("Start time (YYYY-MM-DD HH:MM:SS)", now.Add(time.Hour).Format(time.DateTime))
	if err != nil {
		return sc, err
	}
	sc.StartTime = formatStartTime(start)
	if sc.Duration, err = p.Ask("Duration (HH:MM:SS)", "5:00:00"); err != nil {
		return sc, err
	}
	if sc.PenaltyTime, err = p.AskInt("Penalty time (minutes)", 20, 0, 1440); err != nil {
		return sc, err
	}
	if sc.AllowSubmit, err = p.Confirm("Allow submissions?", true); err != nil {
		return sc, err
	}
	if sc.TeamsFile, err = p.Ask("Teams CSV file path", "teams.csv"); err != nil {
		return sc, err
	}
	renderSettings(out, "Contest", [][2]string{
		{"Name", sc.Name},
		{"Shortname", sc.Shortname},
		{"Start time", sc.StartTime},
		{"Duration", sc.Duration},
		{"Penalty time", fmt.Sprintf("%d minutes", sc.PenaltyTime)},
		{"Allow submit", strconv.FormatBool(sc.AllowSubmit)},
		{"Teams file", sc.TeamsFile},
	})

	p.Section("Problems Configuration", "Add the problems for your contest")
	sc.Problems, err = askProblems(p, out)
	return sc, err
}

func askProblems(p *prompt.Prompter, out io.Writer) ([]problem.Source, error) {
	dir, err := p.Ask("Problems directory path", "./problems")
	if err != nil {
		return nil, err
	}
	dir = filepath.Clean(dir)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		create, err := p.Confirm(fmt.Sprintf("Directory %s not found. Create it?", dir), true)
		if err != nil {
			return nil, err
		}
		if !create {
			return nil, apperrors.Validation("problems", "Please create the problems directory and run this wizard again")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	archives, err := config.Archives(dir)
	if err != nil {
		return nil, err
	}
	if len(archives) == 0 {
		fmt.Fprintln(out, color.YellowString("No problem archives found in %s; add them to problems.yaml later.", dir))
		return nil, nil
	}
	fmt.Fprintf(out, "Found %d problem archive(s)\n", len(archives))

	platform, err := askPlatform(p, out)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(out, "Available colors: "+strings.Join(problemColors, ", "))
	used := map[string]bool{}
	sources := make([]problem.Source, 0, len(archives))
	for _, archive := range archives {
		def := nextColor(used)
		fmt.Fprintf(out, "\nColor for problem %s\n", filepath.Base(archive))
		for {
			name, err := p.Ask("Color", def)
			if err != nil {
				return nil, err
			}
			hex, err := problem.HexColor(name)
			if err != nil {
				fmt.Fprintln(out, color.RedString("Unknown color %q", name))
				continue
			}
			used[strings.ToLower(name)] = true
			sources = append(sources, problem.Source{Archive: archive, Platform: platform, Color: hex})
			break
		}
	}
	return sources, nil
}

func askPlatform(p *prompt.Prompter, out io.Writer) (string, error) {
	for {
		answer, err := p.Ask("Platform (domjudge or polygon)", problem.PlatformPolygon)
		if err != nil {
			return "", err
		}
		answer = strings.ToLower(answer)
		if answer == problem.PlatformDOMjudge || answer == problem.PlatformPolygon {
			return answer, nil
		}
		fmt.Fprintln(out, "Please answer domjudge or polygon.")
	}
}

// nextColor returns the first unused palette color, cycling once all are used.
func nextColor(used map[string]bool) string {
	if i := slices.IndexFunc(problemColors, func(c string) bool { return !used[c] }); i >= 0 {
		return problemColors[i]
	}
	return problemColors[len(used)%len(problemColors)]
}

// formatStartTime converts "YYYY-MM-DD HH:MM:SS" to ISO 8601 in UTC. Other
// input is kept as typed.
func formatStartTime(s string) string {
	ts, err := time.Parse(time.DateTime, strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return ts.Format("2006-01-02T15:04:05+00:00")
}

func renderSettings(w io.Writer, title string, rows [][2]string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(title)
	tw.AppendHeader(table.Row{"Setting", "Value"})
	for _, r := range rows {
		tw.AppendRow(table.Row{r[0], r[1]})
	}
	tw.Render()
}
