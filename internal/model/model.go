// Package model holds the validated, read-only configuration values built
// once per invocation by the config loader.
package model

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"
	"unicode"

	"domctl/internal/problem"
)

// Defaults and limits of the configuration.
const (
	DefaultPort          = 12345
	DefaultJudges        = 1
	MinPort              = 1
	MaxPort              = 65535
	MinUnprivilegedPort  = 1024
	MaxContestNameLength = 100
	MaxShortnameLength   = 50
	MaxTeamNameLength    = 100
	MaxProblemNameLength = 100
	TeamPasswordLength   = 10
)

// Platform constants used when registering teams.
const (
	// HashModulus bounds ids derived from names.
	HashModulus        = 1_000_000_007
	DefaultTeamGroupID = "3" // participants
	DefaultCountryCode = "MAR"
)

// InfraConfig describes the platform deployment.
type InfraConfig struct {
	Port   int
	Judges int
	// Password is the desired admin password; empty means "reuse or fetch".
	Password string
}

// Privileged reports whether Port needs elevated rights to bind.
func (c InfraConfig) Privileged() bool { return c.Port < MinUnprivilegedPort }

// Team is one contest participant.
type Team struct {
	Name        string
	Username    string
	Password    string
	Affiliation string
}

// ContestConfig is one contest with its problem set and teams.
type ContestConfig struct {
	Name        string
	Shortname   string
	FormalName  string
	StartTime   *time.Time
	Duration    string
	PenaltyTime int
	AllowSubmit bool
	Problems    []*problem.Package
	Teams       []Team
}

// Config is the whole configuration file.
type Config struct {
	Path     string
	Infra    InfraConfig
	Contests []ContestConfig
}

// Contest returns the contest with the given shortname.
func (c *Config) Contest(shortname string) (ContestConfig, bool) {
	for _, contest := range c.Contests {
		if contest.Shortname == shortname {
			return contest, true
		}
	}
	return ContestConfig{}, false
}

// Shortnames returns the shortnames of every contest in order.
func (c *Config) Shortnames() []string {
	names := make([]string, len(c.Contests))
	for i, contest := range c.Contests {
		names[i] = contest.Shortname
	}
	return names
}

// Username derives a login name: lowercase alphanumerics, other runs
// collapsed to a single underscore.
func Username(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	u := strings.Trim(b.String(), "_")
	if u == "" {
		return "team"
	}
	return u
}

// StableID derives a platform id from a name. The result is stable across
// processes and below HashModulus.
func StableID(name string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return strconv.FormatUint(h.Sum64()%HashModulus, 10)
}
