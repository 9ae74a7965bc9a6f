package prompt

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"domctl/internal/apperrors"

	"github.com/chzyer/readline"
)

// scriptedReader answers from a fixed list of lines.
type scriptedReader struct {
	lines   []string
	prompts []string
	err     error
}

func (s *scriptedReader) SetPrompt(p string) { s.prompts = append(s.prompts, p) }

func (s *scriptedReader) Readline() (string, error) {
	if len(s.lines) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedReader) ReadPassword(p string) ([]byte, error) {
	s.prompts = append(s.prompts, p)
	line, err := s.Readline()
	return []byte(line), err
}

func (s *scriptedReader) Close() error { return nil }

func newPrompter(lines ...string) (*Prompter, *scriptedReader, *bytes.Buffer) {
	rl := &scriptedReader{lines: lines}
	var out bytes.Buffer
	return NewWithReader(rl, &out), rl, &out
}

func TestAsk(t *testing.T) {
	t.Parallel()
	p, rl, _ := newPrompter("", "  custom  ")

	got, err := p.Ask("Port number", "8080")
	if err != nil || got != "8080" {
		t.Errorf("Ask() = %q, %v; want default", got, err)
	}
	got, err = p.Ask("Contest name", "")
	if err != nil || got != "custom" {
		t.Errorf("Ask() = %q, %v", got, err)
	}
	if rl.prompts[0] != "Port number [8080]: " || rl.prompts[1] != "Contest name: " {
		t.Errorf("prompts = %q", rl.prompts)
	}
}

func TestAskRequired(t *testing.T) {
	t.Parallel()
	p, _, out := newPrompter("", " ", "spring")
	got, err := p.AskRequired("Contest shortname")
	if err != nil || got != "spring" {
		t.Errorf("AskRequired() = %q, %v", got, err)
	}
	if strings.Count(out.String(), "A value is required.") != 2 {
		t.Errorf("output = %q", out.String())
	}
}

func TestAskInt(t *testing.T) {
	t.Parallel()
	p, _, out := newPrompter("abc", "70000", "443", "")

	got, err := p.AskInt("Port number", 8080, 1, 65535)
	if err != nil || got != 443 {
		t.Errorf("AskInt() = %d, %v", got, err)
	}
	if strings.Count(out.String(), "Enter a number between 1 and 65535.") != 2 {
		t.Errorf("output = %q", out.String())
	}
	got, err = p.AskInt("Judges", 2, 0, 64)
	if err != nil || got != 2 {
		t.Errorf("AskInt() default = %d, %v", got, err)
	}
}

func TestConfirm(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"y", false, true},
		{"YES", false, true},
		{"n", true, false},
		{"No", true, false},
	}
	for _, tt := range tests {
		p, _, _ := newPrompter(tt.input)
		got, err := p.Confirm("Continue?", tt.def)
		if err != nil || got != tt.want {
			t.Errorf("Confirm(%q, %v) = %v, %v; want %v", tt.input, tt.def, got, err, tt.want)
		}
	}

	p, _, out := newPrompter("maybe", "y")
	if got, _ := p.Confirm("Continue?", false); !got {
		t.Error("Confirm() should retry after an invalid answer")
	}
	if !strings.Contains(out.String(), "Please answer y or n.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPassword(t *testing.T) {
	t.Parallel()
	p, rl, _ := newPrompter(" s3cret ")
	got, err := p.Password("Admin password")
	if err != nil || got != "s3cret" {
		t.Errorf("Password() = %q, %v", got, err)
	}
	if rl.prompts[0] != "Admin password: " {
		t.Errorf("prompt = %q", rl.prompts[0])
	}
}

func TestReadErrors(t *testing.T) {
	t.Parallel()
	p, rl, _ := newPrompter()
	rl.err = readline.ErrInterrupt
	if _, err := p.Ask("Name", ""); !errors.Is(err, apperrors.ErrInterrupted) {
		t.Errorf("interrupt error = %v", err)
	}
	if got := apperrors.ExitCode(func() error { _, err := p.Confirm("Go?", true); return err }()); got != 130 {
		t.Errorf("ExitCode(interrupt) = %d, want 130", got)
	}

	p, _, _ = newPrompter()
	if _, err := p.Ask("Name", ""); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("EOF error = %v", err)
	}
}
