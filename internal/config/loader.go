package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"domctl/internal/apperrors"
	"domctl/internal/model"
	"domctl/internal/problem"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-yaml/yaml"
	"github.com/pelletier/go-toml/v2"
)

// DefaultFileNames are searched in order when no --file is given.
var DefaultFileNames = []string{"dom-judge.yaml", "dom-judge.yml", "dom-judge.toml"}

var durationPattern = regexp.MustCompile(`^\d+:\d{2}:\d{2}(\.\d{3})?$`)

var startTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// FindFile resolves the configuration file: explicit if given, otherwise
// the single default file present in dir.
func FindFile(dir, explicit string) (string, error) {
	if explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", apperrors.Config("file", fmt.Sprintf("Configuration file not found: %s", explicit))
		}
		if info.IsDir() {
			return "", apperrors.Config("file", fmt.Sprintf("Configuration path is not a file: %s", explicit))
		}
		return explicit, nil
	}

	var found []string
	for _, name := range DefaultFileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return "", apperrors.Config("", "No configuration file found. Create 'dom-judge.yaml', run 'domctl init', or pass --file")
	case 1:
		return found[0], nil
	default:
		names := make([]string, len(found))
		for i, f := range found {
			names[i] = filepath.Base(f)
		}
		return "", apperrors.Config("", fmt.Sprintf("Multiple configuration files found (%s). Choose one with --file", strings.Join(names, ", ")))
	}
}

// ReadRaw parses a YAML or TOML configuration file without validating it.
func ReadRaw(path string) (*RawConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.Config("file", "Configuration file not found: "+path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if data, err = tomlToYAML(data); err != nil {
			return nil, apperrors.Config("file", fmt.Sprintf("invalid TOML in %s: %v", path, err))
		}
	}

	var raw RawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.Config("file", fmt.Sprintf("invalid YAML in %s: %v", path, err))
	}
	return &raw, nil
}

// tomlToYAML re-encodes a TOML document as YAML so both formats share one
// decoding path. Native TOML date-times become RFC 3339 strings.
func tomlToYAML(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(normalizeTOML(doc))
}

func normalizeTOML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeTOML(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeTOML(val)
		}
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case toml.LocalDateTime, toml.LocalDate, toml.LocalTime:
		return fmt.Sprint(t)
	default:
		return v
	}
}

// LoadInfra reads only the infra section, applying defaults.
func LoadInfra(path string) (model.InfraConfig, error) {
	raw, err := ReadRaw(path)
	if err != nil {
		return model.InfraConfig{}, err
	}
	return buildInfra(raw.Infra)
}

func buildInfra(raw *RawInfra) (model.InfraConfig, error) {
	cfg := model.InfraConfig{Port: model.DefaultPort, Judges: model.DefaultJudges}
	if raw == nil {
		return cfg, nil
	}
	if raw.Port != nil {
		cfg.Port = *raw.Port
	}
	if raw.Judges != nil {
		cfg.Judges = *raw.Judges
	}
	cfg.Password = raw.Password

	if cfg.Port < model.MinPort || cfg.Port > model.MaxPort {
		return cfg, apperrors.Config("infra.port", fmt.Sprintf("port must be between %d and %d, got %d", model.MinPort, model.MaxPort, cfg.Port))
	}
	if cfg.Judges < 0 {
		return cfg, apperrors.Config("infra.judges", fmt.Sprintf("judges must be >= 0, got %d", cfg.Judges))
	}
	if cfg.Password != "" && len(cfg.Password) < 8 {
		return cfg, apperrors.Config("infra.password", "password must be at least 8 characters")
	}
	return cfg, nil
}

// Loader builds the full validated configuration, including problem
// archives and team files.
type Loader struct {
	Problems  *problem.Loader
	Passwords PasswordSource
}

// Load reads and validates the configuration at path.
func (l *Loader) Load(ctx context.Context, path string) (*model.Config, error) {
	raw, err := ReadRaw(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	baseDir := filepath.Dir(abs)

	infra, err := buildInfra(raw.Infra)
	if err != nil {
		return nil, err
	}
	if err := checkContests(raw.Contests); err != nil {
		return nil, err
	}

	cfg := &model.Config{Path: abs, Infra: infra}
	for i, rc := range raw.Contests {
		contest, err := l.buildContest(ctx, rc, baseDir, fmt.Sprintf("contests[%d]", i))
		if err != nil {
			return nil, err
		}
		cfg.Contests = append(cfg.Contests, contest)
	}
	return cfg, nil
}

// checkContests validates contest-level fields before any file is read.
func checkContests(contests []RawContest) error {
	seen := mapset.NewThreadUnsafeSet[string]()
	dups := mapset.NewThreadUnsafeSet[string]()
	for i, c := range contests {
		field := fmt.Sprintf("contests[%d]", i)
		if strings.TrimSpace(c.Name) == "" {
			return apperrors.Config(field+".name", "contest name is required")
		}
		if utf8.RuneCountInString(c.Name) > model.MaxContestNameLength {
			return apperrors.Config(field+".name", fmt.Sprintf("contest name exceeds %d characters", model.MaxContestNameLength))
		}
		if strings.TrimSpace(c.Shortname) == "" {
			return apperrors.Config(field+".shortname", "contest shortname is required")
		}
		if utf8.RuneCountInString(c.Shortname) > model.MaxShortnameLength {
			return apperrors.Config(field+".shortname", fmt.Sprintf("shortname exceeds %d characters", model.MaxShortnameLength))
		}
		if c.Duration != "" && !durationPattern.MatchString(c.Duration) {
			return apperrors.Config(field+".duration", fmt.Sprintf("duration must look like HH:MM:SS[.mmm], got %q", c.Duration))
		}
		if c.PenaltyTime < 0 {
			return apperrors.Config(field+".penalty_time", "penalty_time must be >= 0")
		}
		if !seen.Add(c.Shortname) {
			dups.Add(c.Shortname)
		}
	}
	if dups.Cardinality() > 0 {
		list := dups.ToSlice()
		sort.Strings(list)
		return apperrors.Config("contests", "Duplicate contest shortnames detected: "+strings.Join(list, ", "))
	}
	return nil
}

func (l *Loader) buildContest(ctx context.Context, rc RawContest, baseDir, field string) (model.ContestConfig, error) {
	contest := model.ContestConfig{
		Name:        strings.TrimSpace(rc.Name),
		Shortname:   strings.TrimSpace(rc.Shortname),
		FormalName:  strings.TrimSpace(rc.FormalName),
		Duration:    rc.Duration,
		PenaltyTime: rc.PenaltyTime,
		AllowSubmit: true,
	}
	if contest.FormalName == "" {
		contest.FormalName = contest.Name
	}
	if rc.AllowSubmit != nil {
		contest.AllowSubmit = *rc.AllowSubmit
	}
	if rc.StartTime != "" {
		ts, err := parseStartTime(rc.StartTime)
		if err != nil {
			return contest, apperrors.Config(field+".start_time", err.Error())
		}
		contest.StartTime = &ts
	}

	sources, err := problemSources(rc.Problems, baseDir, field)
	if err != nil {
		return contest, err
	}
	if len(sources) > 0 {
		loader := l.Problems
		if loader == nil {
			loader = &problem.Loader{}
		}
		pkgs, err := loader.LoadAll(ctx, sources, baseDir)
		if err != nil {
			return contest, fmt.Errorf("%s.problems: %w", field, err)
		}
		for _, p := range pkgs {
			if utf8.RuneCountInString(p.DisplayName()) > model.MaxProblemNameLength {
				return contest, apperrors.Config(field+".problems", fmt.Sprintf("problem name %q exceeds %d characters", p.DisplayName(), model.MaxProblemNameLength))
			}
		}
		contest.Problems = pkgs
	}

	teams, err := loadTeams(rc.Teams, baseDir, field+".teams", l.Passwords)
	if err != nil {
		return contest, err
	}
	contest.Teams = teams
	return contest, nil
}

// problemSources resolves the problem entries, reading a referenced list file.
// Archive paths in a list file are relative to the main configuration's directory.
func problemSources(raw RawProblems, baseDir, field string) ([]problem.Source, error) {
	if raw.From == "" {
		return raw.Inline, nil
	}
	path := raw.From
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yml" && ext != ".yaml" {
		return nil, apperrors.Config(field+".problems.from", fmt.Sprintf("problems file must be .yml or .yaml: %s", path))
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.Config(field+".problems.from", "Problems file not found: "+path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read problems file: %w", err)
	}
	var sources []problem.Source
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, apperrors.Config(field+".problems.from", fmt.Sprintf("problems file must contain a list of problems: %v", err))
	}
	return sources, nil
}

func parseStartTime(s string) (time.Time, error) {
	for _, layout := range startTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("start_time %q is not an ISO 8601 timestamp", s)
}
