package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"domctl/internal/apperrors"
	"domctl/internal/model"

	mapset "github.com/deckarep/golang-set/v2"
)

// PasswordSource derives reproducible team passwords.
type PasswordSource interface {
	DeterministicPassword(seed string, length int) (string, error)
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// loadTeams builds the team list of one contest.
func loadTeams(raw RawTeams, baseDir, field string, passwords PasswordSource) ([]model.Team, error) {
	var teams []model.Team
	switch {
	case raw.From != "":
		rows, path, err := readTeamRows(raw, baseDir, field)
		if err != nil {
			return nil, err
		}
		nameTmpl := raw.Name
		if nameTmpl == "" {
			nameTmpl = "$1"
		}
		for i, row := range rows {
			name, err := expand(nameTmpl, row)
			if err != nil {
				return nil, apperrors.Config(fmt.Sprintf("%s.name", field), fmt.Sprintf("%s row %d: %v", filepath.Base(path), i+1, err))
			}
			var affiliation string
			if strings.TrimSpace(raw.Affiliation) != "" {
				if affiliation, err = expand(raw.Affiliation, row); err != nil {
					return nil, apperrors.Config(fmt.Sprintf("%s.affiliation", field), fmt.Sprintf("%s row %d: %v", filepath.Base(path), i+1, err))
				}
			}
			teams = append(teams, model.Team{Name: strings.TrimSpace(name), Affiliation: strings.TrimSpace(affiliation)})
		}
	default:
		for _, t := range raw.Inline {
			teams = append(teams, model.Team{
				Name:        strings.TrimSpace(t.Name),
				Affiliation: strings.TrimSpace(t.Affiliation),
				Password:    t.Password,
			})
		}
	}

	names := mapset.NewThreadUnsafeSet[string]()
	dups := mapset.NewThreadUnsafeSet[string]()
	usernames := map[string]string{}
	clashes := mapset.NewThreadUnsafeSet[string]()
	for i := range teams {
		t := &teams[i]
		if t.Name == "" {
			return nil, apperrors.Config(fmt.Sprintf("%s[%d].name", field, i), "team name must not be empty")
		}
		if utf8.RuneCountInString(t.Name) > model.MaxTeamNameLength {
			return nil, apperrors.Config(fmt.Sprintf("%s[%d].name", field, i), fmt.Sprintf("team name exceeds %d characters", model.MaxTeamNameLength))
		}
		if !names.Add(t.Name) {
			dups.Add(t.Name)
		}
		t.Username = model.Username(t.Name)
		if first, ok := usernames[t.Username]; ok && first != t.Name {
			clashes.Add(fmt.Sprintf("%s (%s, %s)", t.Username, first, t.Name))
		} else if !ok {
			usernames[t.Username] = t.Name
		}
		if t.Password == "" {
			pw, err := passwords.DeterministicPassword(t.Name, model.TeamPasswordLength)
			if err != nil {
				return nil, fmt.Errorf("failed to derive password for team %q: %w", t.Name, err)
			}
			t.Password = pw
		}
	}
	if dups.Cardinality() > 0 {
		list := dups.ToSlice()
		sort.Strings(list)
		return nil, apperrors.Config(field, "Duplicate team names detected: "+strings.Join(list, ", "))
	}
	if clashes.Cardinality() > 0 {
		list := clashes.ToSlice()
		sort.Strings(list)
		return nil, apperrors.Config(field, "Duplicate team usernames detected: "+strings.Join(list, ", "))
	}
	return teams, nil
}

func readTeamRows(raw RawTeams, baseDir, field string) ([][]string, string, error) {
	path := raw.From
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext != "csv" && ext != "tsv" {
		return nil, path, apperrors.Config(field+".from", fmt.Sprintf("unsupported extension %q for teams file %s (only .csv and .tsv)", ext, path))
	}

	delimiter := ','
	if ext == "tsv" {
		delimiter = '\t'
	}
	if raw.Delimiter != "" {
		d := raw.Delimiter
		if d == `\t` {
			d = "\t"
		}
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) {
			return nil, path, apperrors.Config(field+".delimiter", fmt.Sprintf("delimiter must be a single character, got %q", raw.Delimiter))
		}
		delimiter = r
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, path, apperrors.Config(field+".from", "Teams file not found: "+path)
	}
	if err != nil {
		return nil, path, fmt.Errorf("failed to open teams file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, path, apperrors.Config(field+".from", fmt.Sprintf("failed to parse %s: %v", path, err))
		}
		empty := true
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
			if record[i] != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, record)
		}
	}

	if raw.Rows != "" {
		start, end, err := parseRowRange(raw.Rows)
		if err != nil {
			return nil, path, apperrors.Config(field+".rows", err.Error())
		}
		if start > len(rows) {
			rows = nil
		} else {
			rows = rows[start-1 : min(end, len(rows))]
		}
	}
	return rows, path, nil
}

// parseRowRange parses an inclusive 1-based "start-end" range.
func parseRowRange(s string) (int, int, error) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("rows must look like 'start-end', got %q", s)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(a))
	end, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || start < 1 || end < start {
		return 0, 0, fmt.Errorf("invalid rows range %q", s)
	}
	return start, end, nil
}

// expand replaces $N placeholders with 1-based row columns.
func expand(tmpl string, row []string) (string, error) {
	var outErr error
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		idx, _ := strconv.Atoi(m[1:])
		if idx < 1 || idx > len(row) {
			if outErr == nil {
				outErr = fmt.Errorf("placeholder '%s' is out of range for row with %d column(s)", m, len(row))
			}
			return m
		}
		return row[idx-1]
	})
	return out, outErr
}
