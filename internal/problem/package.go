// Package problem models DOMjudge problem packages: the zip layout, the
// domjudge-problem.ini and problem.yaml metadata, and the round-trip check
// that repacking a package reproduces the file set it was read from.
package problem

import (
	"sort"
	"strings"
)

// Verdict is a submissions/<verdict>/ category of a package.
type Verdict string

// Verdict directories understood by the platform.
const (
	Accepted            Verdict = "accepted"
	TimeLimitExceeded   Verdict = "time_limit_exceeded"
	WrongAnswer         Verdict = "wrong_answer"
	MemoryLimitExceeded Verdict = "memory_limit_exceeded"
	RuntimeError        Verdict = "runtime_error"
	Mixed               Verdict = "mixed"
)

// Verdicts lists every known verdict in a stable order.
var Verdicts = []Verdict{Accepted, TimeLimitExceeded, WrongAnswer, MemoryLimitExceeded, RuntimeError, Mixed}

// IsKnown reports whether v is a verdict directory the package format defines.
func (v Verdict) IsKnown() bool {
	for _, known := range Verdicts {
		if v == known {
			return true
		}
	}
	return false
}

// Archive paths of the fixed package members.
const (
	iniPath       = "domjudge-problem.ini"
	yamlPath      = "problem.yaml"
	samplePrefix  = "data/sample/"
	secretPrefix  = "data/secret/"
	checkerPrefix = "output_validators/checker/"
	submitPrefix  = "submissions/"
)

// INI is the content of domjudge-problem.ini.
type INI struct {
	ShortName  string
	TimeLimit  float64
	Color      string
	ExternalID string
}

// Metadata is the content of problem.yaml. Unknown keys are preserved.
type Metadata struct {
	Limits     map[string]int         `yaml:"limits,omitempty" json:"limits,omitempty"`
	Name       string                 `yaml:"name" json:"name"`
	Validation string                 `yaml:"validation,omitempty" json:"validation,omitempty"`
	Extra      map[string]interface{} `yaml:",inline" json:"-"`
}

// Data holds the test cases, keyed by file name.
type Data struct {
	Sample map[string][]byte
	Secret map[string][]byte
}

// Package is an in-memory problem package. It carries no platform id;
// ids assigned on upload are returned by the API client instead.
type Package struct {
	INI              INI
	Metadata         Metadata
	Data             Data
	OutputValidators map[string][]byte
	Submissions      map[Verdict]map[string][]byte
	ExtraFiles       map[string][]byte
}

// ShortName returns the ini short name.
func (p *Package) ShortName() string { return p.INI.ShortName }

// DisplayName returns the problem.yaml name, falling back to the short name.
func (p *Package) DisplayName() string {
	if p.Metadata.Name != "" {
		return p.Metadata.Name
	}
	return p.INI.ShortName
}

// WithColor returns a copy of the package with the ini color replaced.
func (p *Package) WithColor(color string) *Package {
	cp := *p
	cp.INI.Color = color
	return &cp
}

// Paths returns every archive path the package writes, sorted.
func (p *Package) Paths() []string {
	paths := []string{iniPath, yamlPath}
	paths = appendPrefixed(paths, samplePrefix, p.Data.Sample)
	paths = appendPrefixed(paths, secretPrefix, p.Data.Secret)
	paths = appendPrefixed(paths, checkerPrefix, p.OutputValidators)
	for verdict, files := range p.Submissions {
		paths = appendPrefixed(paths, submitPrefix+string(verdict)+"/", files)
	}
	for name := range p.ExtraFiles {
		paths = append(paths, name)
	}
	sort.Strings(paths)
	return paths
}

// SubmissionCount returns the number of reference submissions.
func (p *Package) SubmissionCount() int {
	n := 0
	for _, files := range p.Submissions {
		n += len(files)
	}
	return n
}

func appendPrefixed(paths []string, prefix string, files map[string][]byte) []string {
	for name := range files {
		paths = append(paths, prefix+name)
	}
	return paths
}

// classify maps an archive path to the package member it belongs to.
// Paths outside the known layout are extra files.
func (p *Package) classify(name string, content []byte) {
	switch {
	case strings.HasPrefix(name, samplePrefix):
		p.Data.Sample[strings.TrimPrefix(name, samplePrefix)] = content
	case strings.HasPrefix(name, secretPrefix):
		p.Data.Secret[strings.TrimPrefix(name, secretPrefix)] = content
	case strings.HasPrefix(name, checkerPrefix):
		p.OutputValidators[strings.TrimPrefix(name, checkerPrefix)] = content
	case strings.HasPrefix(name, submitPrefix):
		rest := strings.TrimPrefix(name, submitPrefix)
		verdict, file, ok := strings.Cut(rest, "/")
		if !ok || file == "" || !Verdict(verdict).IsKnown() {
			p.ExtraFiles[name] = content
			return
		}
		v := Verdict(verdict)
		if p.Submissions[v] == nil {
			p.Submissions[v] = make(map[string][]byte)
		}
		p.Submissions[v][file] = content
	default:
		p.ExtraFiles[name] = content
	}
}

func newPackage() *Package {
	return &Package{
		Data:             Data{Sample: map[string][]byte{}, Secret: map[string][]byte{}},
		OutputValidators: map[string][]byte{},
		Submissions:      map[Verdict]map[string][]byte{},
		ExtraFiles:       map[string][]byte{},
	}
}
