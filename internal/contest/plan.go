package contest

import (
	"context"
	"fmt"
	"strings"

	"domctl/internal/apperrors"
	"domctl/internal/domjudge"
	"domctl/internal/model"
	"domctl/internal/operation"
)

// Planned item actions.
const (
	ActionCreate = "create"
	ActionSkip   = "skip"
	// ActionUnknown means the remote state could not be read.
	ActionUnknown = "unknown"
)

// Plan step names.
const (
	StepAnalyze         = "analyze"
	StepCalculateImpact = "calculate_impact"
)

// ItemPlan is the planned action for one problem or team.
type ItemPlan struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

// ContestPlan is the planned change set of one contest.
type ContestPlan struct {
	Shortname string     `json:"shortname"`
	Name      string     `json:"name"`
	Action    string     `json:"action"`
	ID        string     `json:"id,omitempty"`
	Problems  []ItemPlan `json:"problems"`
	Teams     []ItemPlan `json:"teams"`
}

// Impact counts what an apply would create.
type Impact struct {
	Contests int `json:"contests"`
	Problems int `json:"problems"`
	Teams    int `json:"teams"`
}

// Plan is a read-only preview of a contest apply.
type Plan struct {
	Contests      []ContestPlan `json:"contests"`
	TotalProblems int           `json:"total_problems"`
	TotalTeams    int           `json:"total_teams"`
	Impact        Impact        `json:"impact"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// PlanChanges previews an apply. It only reads remote state; when the server
// cannot be reached every item is planned with ActionUnknown and a warning.
type PlanChanges struct {
	Config *model.Config
	// Client may be nil when no admin credentials are available yet.
	Client *domjudge.Client
}

// Describe implements operation.Operation.
func (p *PlanChanges) Describe() string {
	return fmt.Sprintf("Plan changes for %d contest(s)", len(p.Config.Contests))
}

// Validate implements operation.Operation.
func (p *PlanChanges) Validate(*operation.Env) error {
	if p.Config == nil || len(p.Config.Contests) == 0 {
		return apperrors.Validation("contests", "No contests in configuration")
	}
	return nil
}

// Steps implements operation.Operation.
func (p *PlanChanges) Steps() []operation.Step {
	return []operation.Step{
		&analyzeStep{BaseStep: operation.BaseStep{StepName: StepAnalyze, Desc: "Analyze required changes"}, p: p},
		&impactStep{BaseStep: operation.BaseStep{StepName: StepCalculateImpact, Desc: "Calculate change impact"}},
	}
}

// BuildResult implements operation.Operation.
func (p *PlanChanges) BuildResult(env *operation.Env) (Plan, string) {
	plan, _ := operation.ResultAs[Plan](env, StepCalculateImpact)
	return plan, fmt.Sprintf("Planned changes for %d contest(s)", len(p.Config.Contests))
}

type analyzeStep struct {
	operation.BaseStep
	p *PlanChanges
}

func (s *analyzeStep) Run(ctx context.Context, env *operation.Env) (any, error) {
	plan := Plan{}
	remote := s.p.Client != nil
	if !remote {
		plan.Warnings = append(plan.Warnings, "No admin credentials available; cannot preview remote state")
	}
	for _, cfg := range s.p.Config.Contests {
		plan.TotalProblems += len(cfg.Problems)
		plan.TotalTeams += len(cfg.Teams)
		cp, err := s.analyzeContest(ctx, cfg, remote)
		if err != nil {
			env.Logger.Warn("Cannot preview remote state", "contest", cfg.Shortname, "error", err)
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("cannot preview remote state: %v", err))
			remote = false
			cp = unknownPlan(cfg)
		}
		plan.Contests = append(plan.Contests, cp)
	}
	return plan, nil
}

func (s *analyzeStep) analyzeContest(ctx context.Context, cfg model.ContestConfig, remote bool) (ContestPlan, error) {
	if !remote {
		return unknownPlan(cfg), nil
	}
	client := s.p.Client
	existing, found, err := client.Contests.Find(ctx, cfg.Shortname)
	if err != nil {
		return ContestPlan{}, err
	}
	cp := ContestPlan{Shortname: cfg.Shortname, Name: cfg.Name, Action: ActionCreate}
	if !found {
		for _, pkg := range cfg.Problems {
			cp.Problems = append(cp.Problems, ItemPlan{Name: pkg.ShortName(), Action: ActionCreate})
		}
		for _, team := range cfg.Teams {
			cp.Teams = append(cp.Teams, ItemPlan{Name: team.Name, Action: ActionCreate})
		}
		return cp, nil
	}

	cp.Action, cp.ID = ActionSkip, existing.ID
	problems, err := client.Problems.List(ctx, existing.ID)
	if err != nil {
		return ContestPlan{}, err
	}
	teams, err := client.Teams.List(ctx, existing.ID)
	if err != nil {
		return ContestPlan{}, err
	}
	for _, pkg := range cfg.Problems {
		action := ActionCreate
		if _, ok := domjudge.Match(problems, pkg); ok {
			action = ActionSkip
		}
		cp.Problems = append(cp.Problems, ItemPlan{Name: pkg.ShortName(), Action: action})
	}
	remoteTeams := make(map[string]bool, len(teams))
	for _, t := range teams {
		remoteTeams[t.Name] = true
	}
	for _, team := range cfg.Teams {
		action := ActionCreate
		if remoteTeams[TeamName(team)] {
			action = ActionSkip
		}
		cp.Teams = append(cp.Teams, ItemPlan{Name: team.Name, Action: action})
	}
	return cp, nil
}

func unknownPlan(cfg model.ContestConfig) ContestPlan {
	cp := ContestPlan{Shortname: cfg.Shortname, Name: cfg.Name, Action: ActionUnknown}
	for _, pkg := range cfg.Problems {
		cp.Problems = append(cp.Problems, ItemPlan{Name: pkg.ShortName(), Action: ActionUnknown})
	}
	for _, team := range cfg.Teams {
		cp.Teams = append(cp.Teams, ItemPlan{Name: team.Name, Action: ActionUnknown})
	}
	return cp
}

type impactStep struct {
	operation.BaseStep
}

func (s *impactStep) Run(_ context.Context, env *operation.Env) (any, error) {
	plan, ok := operation.ResultAs[Plan](env, StepAnalyze)
	if !ok {
		return nil, fmt.Errorf("no analysis result")
	}
	var impact Impact
	for _, cp := range plan.Contests {
		if cp.Action != ActionSkip {
			impact.Contests++
		}
		impact.Problems += countAction(cp.Problems, ActionSkip)
		impact.Teams += countAction(cp.Teams, ActionSkip)
	}
	plan.Impact = impact
	return plan, nil
}

// countAction counts items whose action differs from skip.
func countAction(items []ItemPlan, skip string) int {
	n := 0
	for _, it := range items {
		if it.Action != skip {
			n++
		}
	}
	return n
}

// Summary renders the plan for humans.
func (p Plan) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Planned changes:\n  - Contests: %d\n  - Problems: %d\n  - Teams: %d",
		len(p.Contests), p.TotalProblems, p.TotalTeams)
	for _, cp := range p.Contests {
		fmt.Fprintf(&b, "\n  %s %s (%s)", symbol(cp.Action), cp.Shortname, cp.Action)
		if cp.Action == ActionUnknown {
			fmt.Fprintf(&b, "\n      problems: %d, teams: %d (remote state unknown)", len(cp.Problems), len(cp.Teams))
			continue
		}
		newProblems, newTeams := countAction(cp.Problems, ActionSkip), countAction(cp.Teams, ActionSkip)
		fmt.Fprintf(&b, "\n      problems: %d to create, %d existing", newProblems, len(cp.Problems)-newProblems)
		fmt.Fprintf(&b, "\n      teams: %d to create, %d existing", newTeams, len(cp.Teams)-newTeams)
	}
	return b.String()
}

func symbol(action string) string {
	switch action {
	case ActionCreate:
		return "+"
	case ActionSkip:
		return "="
	default:
		return "?"
	}
}
