package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"domctl/internal/apperrors"
	"domctl/internal/problem"
)

func TestScaffold_WriteThenLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	problemsDir := filepath.Join(dir, "problems")
	writeFile(t, problemsDir, "notes.txt", "ignored")
	writeProblemZip(t, problemsDir, "b.zip", "b")
	writeProblemZip(t, problemsDir, "a.zip", "a")
	writeFile(t, dir, "teams.csv", "id,name\n1,Alpha\n2,Beta\n")

	archives, err := Archives(problemsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(archives) != 2 || filepath.Base(archives[0]) != "a.zip" {
		t.Fatalf("Archives() = %v", archives)
	}

	s := Scaffold{
		Port:        8080,
		Judges:      2,
		Name:        "Spring Contest",
		Shortname:   "spring",
		StartTime:   "2025-05-01T10:00:00+00:00",
		Duration:    "5:00:00",
		PenaltyTime: 20,
		AllowSubmit: true,
		TeamsFile:   "teams.csv",
	}
	for _, a := range archives {
		s.Problems = append(s.Problems, problem.Source{Archive: a, Platform: problem.PlatformDOMjudge, Color: "red"})
	}

	path, err := s.Write(dir, false)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	cfg, err := newLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() of scaffold error = %v", err)
	}
	if cfg.Infra.Port != 8080 || cfg.Infra.Judges != 2 {
		t.Errorf("infra = %+v", cfg.Infra)
	}
	c, ok := cfg.Contest("spring")
	if !ok {
		t.Fatal("contest spring missing")
	}
	if len(c.Problems) != 2 || len(c.Teams) != 2 || c.PenaltyTime != 20 || !c.AllowSubmit {
		t.Errorf("contest = %d problems, %d teams, penalty %d, allow %v",
			len(c.Problems), len(c.Teams), c.PenaltyTime, c.AllowSubmit)
	}

	if _, err := s.Write(dir, false); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("second Write() error = %v, want conflict", err)
	}
	if _, err := s.Write(dir, true); err != nil {
		t.Errorf("Write(overwrite) error = %v", err)
	}
}

func TestArchives_MissingDir(t *testing.T) {
	t.Parallel()
	archives, err := Archives(filepath.Join(t.TempDir(), "missing"))
	if err != nil || archives != nil {
		t.Errorf("Archives() = %v, %v; want nil, nil", archives, err)
	}
}
