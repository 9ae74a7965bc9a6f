// Package prompt asks interactive questions on the terminal.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"domctl/internal/apperrors"

	"github.com/chzyer/readline"
)

// LineReader is the subset of *readline.Instance the prompter uses.
type LineReader interface {
	SetPrompt(prompt string)
	Readline() (string, error)
	ReadPassword(prompt string) ([]byte, error)
	Close() error
}

// Prompter asks questions with defaults.
type Prompter struct {
	rl  LineReader
	out io.Writer
}

// New opens a readline prompter on the terminal. Ctrl+C is reported as
// apperrors.ErrInterrupted.
func New(out io.Writer) (*Prompter, error) {
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return NewWithReader(rl, out), nil
}

// NewWithReader wraps an existing line reader.
func NewWithReader(rl LineReader, out io.Writer) *Prompter {
	return &Prompter{rl: rl, out: out}
}

// Close releases the terminal.
func (p *Prompter) Close() error { return p.rl.Close() }

// Section prints a heading.
func (p *Prompter) Section(title, subtitle string) {
	fmt.Fprintf(p.out, "\n%s\n", title)
	if subtitle != "" {
		fmt.Fprintln(p.out, subtitle)
	}
}

// Ask returns the answer, or def when the answer is empty.
func (p *Prompter) Ask(label, def string) (string, error) {
	prompt := label + ": "
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]: ", label, def)
	}
	p.rl.SetPrompt(prompt)
	line, err := p.rl.Readline()
	if err != nil {
		return "", readErr(err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// AskRequired repeats the question until a non-empty answer is given.
func (p *Prompter) AskRequired(label string) (string, error) {
	for {
		answer, err := p.Ask(label, "")
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		fmt.Fprintln(p.out, "A value is required.")
	}
}

// AskInt repeats the question until the answer is an integer in [lo, hi].
func (p *Prompter) AskInt(label string, def, lo, hi int) (int, error) {
	for {
		answer, err := p.Ask(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= lo && n <= hi {
			return n, nil
		}
		fmt.Fprintf(p.out, "Enter a number between %d and %d.\n", lo, hi)
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		p.rl.SetPrompt(fmt.Sprintf("%s [%s]: ", label, hint))
		line, err := p.rl.Readline()
		if err != nil {
			return false, readErr(err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}

// Password reads a secret without echo. An empty answer is allowed.
func (p *Prompter) Password(label string) (string, error) {
	pw, err := p.rl.ReadPassword(label + ": ")
	if err != nil {
		return "", readErr(err)
	}
	return strings.TrimSpace(string(pw)), nil
}

func readErr(err error) error {
	if errors.Is(err, readline.ErrInterrupt) {
		return fmt.Errorf("%w: prompt cancelled", apperrors.ErrInterrupted)
	}
	if errors.Is(err, io.EOF) {
		return apperrors.Validation("input", "no answer given (end of input)")
	}
	return err
}
