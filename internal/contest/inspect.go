package contest

import (
	"encoding/json"
	"fmt"
	"time"

	"domctl/internal/apperrors"
	"domctl/internal/model"

	"github.com/jmespath/go-jmespath"
)

// Mask replaces secret values in inspect output.
const Mask = "**********"

// ProblemView is the inspect form of a problem package.
type ProblemView struct {
	ShortName   string  `json:"short_name"`
	Name        string  `json:"name"`
	Color       string  `json:"color,omitempty"`
	TimeLimit   float64 `json:"time_limit,omitempty"`
	ExternalID  string  `json:"externalid,omitempty"`
	Submissions int     `json:"submissions"`
}

// TeamView is the inspect form of a team.
type TeamView struct {
	Name        string `json:"name"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Affiliation string `json:"affiliation,omitempty"`
}

// ContestView is the inspect form of a contest.
type ContestView struct {
	Name        string        `json:"name"`
	Shortname   string        `json:"shortname"`
	FormalName  string        `json:"formal_name"`
	StartTime   *time.Time    `json:"start_time"`
	Duration    string        `json:"duration"`
	PenaltyTime int           `json:"penalty_time"`
	AllowSubmit bool          `json:"allow_submit"`
	Problems    []ProblemView `json:"problems"`
	Teams       []TeamView    `json:"teams"`
}

// View returns the inspect form of every contest. Team passwords are masked
// unless showSecrets is set.
func View(cfg *model.Config, showSecrets bool) []ContestView {
	views := make([]ContestView, 0, len(cfg.Contests))
	for _, c := range cfg.Contests {
		v := ContestView{
			Name:        c.Name,
			Shortname:   c.Shortname,
			FormalName:  c.FormalName,
			StartTime:   c.StartTime,
			Duration:    c.Duration,
			PenaltyTime: c.PenaltyTime,
			AllowSubmit: c.AllowSubmit,
			Problems:    make([]ProblemView, 0, len(c.Problems)),
			Teams:       make([]TeamView, 0, len(c.Teams)),
		}
		for _, p := range c.Problems {
			v.Problems = append(v.Problems, ProblemView{
				ShortName:   p.ShortName(),
				Name:        p.DisplayName(),
				Color:       p.INI.Color,
				TimeLimit:   p.INI.TimeLimit,
				ExternalID:  p.INI.ExternalID,
				Submissions: p.SubmissionCount(),
			})
		}
		for _, t := range c.Teams {
			password := Mask
			if showSecrets {
				password = t.Password
			}
			v.Teams = append(v.Teams, TeamView{
				Name:        t.Name,
				Username:    t.Username,
				Password:    password,
				Affiliation: t.Affiliation,
			})
		}
		views = append(views, v)
	}
	return views
}

// Inspect renders the configuration as indented JSON, optionally filtered
// by a JMESPath expression.
func Inspect(cfg *model.Config, showSecrets bool, expr string) ([]byte, error) {
	var data any = View(cfg, showSecrets)
	if expr != "" {
		// Round-trip through JSON so the expression sees JSON field names.
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		query, err := jmespath.Compile(expr)
		if err != nil {
			return nil, apperrors.Validation("format", fmt.Sprintf("invalid JMESPath expression %q: %v", expr, err))
		}
		if data, err = query.Search(generic); err != nil {
			return nil, apperrors.Validation("format", fmt.Sprintf("JMESPath expression %q failed: %v", expr, err))
		}
	}
	return json.MarshalIndent(data, "", "  ")
}
