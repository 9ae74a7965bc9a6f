// domctl deploys a DOMjudge platform with Docker and configures its
// contests, problems and teams from a declarative file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"domctl/internal/apperrors"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newApp().Run(ctx, os.Args)
	interrupted := ctx.Err() != nil
	stop()

	code := apperrors.ExitCode(err)
	if interrupted && err != nil {
		code = apperrors.ExitInterrupted
	}
	if err != nil && !errors.Is(err, errReported) {
		printError(os.Stderr, err, code)
	}
	os.Exit(code)
}

// errReported marks failures whose details were already printed.
var errReported = errors.New("failure already reported")

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "domctl",
		Usage:   "deploy DOMjudge and configure contests declaratively",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "show debug logs on the console"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("no-color") {
				color.NoColor = true
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			infraCommand(),
			contestCommand(),
			initCommand(),
		},
	}
}

func fileFlag() cli.Flag {
	return &cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "configuration file (default: dom-judge.yaml in the current directory)"}
}

func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{Name: "dry-run", Usage: "preview the steps without changing anything"}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "print machine-readable JSON"}
}

func printError(w *os.File, err error, code int) {
	if code == apperrors.ExitInterrupted {
		fmt.Fprintln(w, color.YellowString("Interrupted"))
		return
	}
	fmt.Fprintln(w, color.RedString("✗ %v", err))
}
