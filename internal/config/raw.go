package config

import (
	"fmt"

	"domctl/internal/problem"
)

// RawConfig mirrors the configuration file before validation.
type RawConfig struct {
	Infra    *RawInfra    `yaml:"infra"`
	Contests []RawContest `yaml:"contests"`
}

// RawInfra is the infra section.
type RawInfra struct {
	Port     *int   `yaml:"port"`
	Judges   *int   `yaml:"judges"`
	Password string `yaml:"password"`
}

// RawContest is one entry of the contests section.
type RawContest struct {
	Name        string      `yaml:"name"`
	Shortname   string      `yaml:"shortname"`
	FormalName  string      `yaml:"formal_name"`
	StartTime   string      `yaml:"start_time"`
	Duration    string      `yaml:"duration"`
	PenaltyTime int         `yaml:"penalty_time"`
	AllowSubmit *bool       `yaml:"allow_submit"`
	Problems    RawProblems `yaml:"problems"`
	Teams       RawTeams    `yaml:"teams"`
}

// RawProblems is either an inline list or a reference to a YAML list file.
type RawProblems struct {
	From   string
	Inline []problem.Source
}

// UnmarshalYAML accepts both forms.
func (p *RawProblems) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var list []problem.Source
	if err := unmarshal(&list); err == nil {
		p.Inline = list
		return nil
	}
	var ref struct {
		From string `yaml:"from"`
	}
	if err := unmarshal(&ref); err != nil {
		return fmt.Errorf("problems must be a list or a {from: file} mapping: %w", err)
	}
	p.From = ref.From
	return nil
}

// RawTeam is an inline team entry.
type RawTeam struct {
	Name        string `yaml:"name"`
	Affiliation string `yaml:"affiliation"`
	Password    string `yaml:"password"`
}

// RawTeams is either an inline list or a CSV/TSV reference with templates.
type RawTeams struct {
	From        string
	Delimiter   string
	Rows        string
	Name        string
	Affiliation string
	Inline      []RawTeam
}

// UnmarshalYAML accepts both forms.
func (t *RawTeams) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var list []RawTeam
	if err := unmarshal(&list); err == nil {
		t.Inline = list
		return nil
	}
	var ref struct {
		From        string `yaml:"from"`
		Delimiter   string `yaml:"delimiter"`
		Rows        string `yaml:"rows"`
		Name        string `yaml:"name"`
		Affiliation string `yaml:"affiliation"`
	}
	if err := unmarshal(&ref); err != nil {
		return fmt.Errorf("teams must be a list or a {from: file} mapping: %w", err)
	}
	*t = RawTeams{
		From:        ref.From,
		Delimiter:   ref.Delimiter,
		Rows:        ref.Rows,
		Name:        ref.Name,
		Affiliation: ref.Affiliation,
	}
	return nil
}
