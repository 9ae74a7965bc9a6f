package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"domctl/internal/apperrors"
	"domctl/internal/problem"

	"github.com/go-yaml/yaml"
	"github.com/moby/sys/atomicwriter"
)

// ProblemsFileName is the problem list written next to the configuration.
const ProblemsFileName = "problems.yaml"

// Scaffold holds the answers of the init wizard.
type Scaffold struct {
	Port        int
	Judges      int
	Password    string
	Name        string
	Shortname   string
	StartTime   string
	Duration    string
	PenaltyTime int
	AllowSubmit bool
	TeamsFile   string
	Problems    []problem.Source
}

type scaffoldFile struct {
	Infra    scaffoldInfra     `yaml:"infra"`
	Contests []scaffoldContest `yaml:"contests"`
}

type scaffoldInfra struct {
	Port     int    `yaml:"port"`
	Judges   int    `yaml:"judges"`
	Password string `yaml:"password,omitempty"`
}

type scaffoldContest struct {
	Name        string          `yaml:"name"`
	Shortname   string          `yaml:"shortname"`
	StartTime   string          `yaml:"start_time,omitempty"`
	Duration    string          `yaml:"duration"`
	PenaltyTime int             `yaml:"penalty_time"`
	AllowSubmit bool            `yaml:"allow_submit"`
	Problems    scaffoldFrom    `yaml:"problems"`
	Teams       scaffoldTeamRef `yaml:"teams"`
}

type scaffoldFrom struct {
	From string `yaml:"from"`
}

type scaffoldTeamRef struct {
	From      string `yaml:"from"`
	Delimiter string `yaml:"delimiter"`
	Rows      string `yaml:"rows"`
	Name      string `yaml:"name"`
}

// Render returns the configuration and problem list documents.
func (s Scaffold) Render() (cfg, problems []byte, err error) {
	file := scaffoldFile{
		Infra: scaffoldInfra{Port: s.Port, Judges: s.Judges, Password: s.Password},
		Contests: []scaffoldContest{{
			Name:        s.Name,
			Shortname:   s.Shortname,
			StartTime:   s.StartTime,
			Duration:    s.Duration,
			PenaltyTime: s.PenaltyTime,
			AllowSubmit: s.AllowSubmit,
			Problems:    scaffoldFrom{From: ProblemsFileName},
			Teams:       scaffoldTeamRef{From: s.TeamsFile, Delimiter: ",", Rows: "2-50", Name: "$2"},
		}},
	}
	if cfg, err = yaml.Marshal(file); err != nil {
		return nil, nil, err
	}
	sources := s.Problems
	if sources == nil {
		sources = []problem.Source{}
	}
	if problems, err = yaml.Marshal(sources); err != nil {
		return nil, nil, err
	}
	return cfg, problems, nil
}

// Write renders the scaffold into dir. Existing files are kept unless
// overwrite is set. It returns the configuration path.
func (s Scaffold) Write(dir string, overwrite bool) (string, error) {
	cfgPath := filepath.Join(dir, DefaultFileNames[0])
	problemsPath := filepath.Join(dir, ProblemsFileName)
	if !overwrite {
		for _, p := range []string{cfgPath, problemsPath} {
			if _, err := os.Stat(p); err == nil {
				return "", apperrors.Conflict("file", p,
					fmt.Sprintf("File '%s' already exists; pass --overwrite to replace it", p))
			}
		}
	}

	cfg, problems, err := s.Render()
	if err != nil {
		return "", err
	}
	if err := atomicwriter.WriteFile(cfgPath, cfg, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", cfgPath, err)
	}
	if err := atomicwriter.WriteFile(problemsPath, problems, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", problemsPath, err)
	}
	return cfgPath, nil
}

// Archives lists the problem archives in dir, sorted by name.
func Archives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
