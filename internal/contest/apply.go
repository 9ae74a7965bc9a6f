// Package contest applies, previews and verifies contest configuration
// against a running DOMjudge server.
package contest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"domctl/internal/apperrors"
	"domctl/internal/domjudge"
	"domctl/internal/model"
	"domctl/internal/operation"
	"domctl/internal/problem"

	"golang.org/x/sync/errgroup"
)

// Upload pool sizes. Problems and teams use separate pools so a slow
// problem upload cannot hold back team registration.
const (
	ProblemWorkers = 3
	TeamWorkers    = 5
)

// StepCheckAPI is the first step of an apply.
const StepCheckAPI = "check_api"

// Recorder receives upload outcomes. observability.Metrics implements it.
type Recorder interface {
	RecordUpload(ctx context.Context, kind string, success bool)
}

// Outcome is what applying one contest produced.
type Outcome struct {
	Shortname  string            `json:"shortname"`
	ID         string            `json:"id"`
	Created    bool              `json:"created"`
	ProblemIDs map[string]string `json:"problem_ids"`
	TeamIDs    map[string]string `json:"team_ids"`
	NewTeams   int               `json:"new_teams"`
}

// ApplyResult lists the outcome of every contest, in configuration order.
type ApplyResult struct {
	Contests []Outcome `json:"contests"`
}

// Apply creates or updates every configured contest. Contests are applied
// one after another; within a contest, problems and teams upload concurrently.
type Apply struct {
	Config  *model.Config
	Client  *domjudge.Client
	Metrics Recorder
}

// Describe implements operation.Operation.
func (a *Apply) Describe() string {
	return fmt.Sprintf("Apply %d contest(s)", len(a.Config.Contests))
}

// Validate implements operation.Operation.
func (a *Apply) Validate(env *operation.Env) error {
	if a.Config == nil || len(a.Config.Contests) == 0 {
		return apperrors.Validation("contests", "No contests in configuration")
	}
	if a.Client == nil && !env.DryRun {
		return apperrors.Validation("client", "API client is required")
	}
	return nil
}

// Steps implements operation.Operation. There is one step per contest.
func (a *Apply) Steps() []operation.Step {
	steps := []operation.Step{&checkAPIStep{
		BaseStep: operation.BaseStep{StepName: StepCheckAPI, Desc: "Checking API access"},
		client:   a.Client,
	}}
	for _, c := range a.Config.Contests {
		steps = append(steps, &applyContestStep{
			BaseStep: operation.BaseStep{
				StepName: StepName(c.Shortname),
				Desc:     fmt.Sprintf("Applying contest '%s'", c.Shortname),
			},
			a:       a,
			contest: c,
		})
	}
	return steps
}

// StepName returns the step name of a contest.
func StepName(shortname string) string { return "contest_" + shortname }

// BuildResult implements operation.Operation.
func (a *Apply) BuildResult(env *operation.Env) (ApplyResult, string) {
	var res ApplyResult
	created := 0
	for _, c := range a.Config.Contests {
		if out, ok := operation.ResultAs[Outcome](env, StepName(c.Shortname)); ok {
			res.Contests = append(res.Contests, out)
			if out.Created {
				created++
			}
		}
	}
	return res, fmt.Sprintf("Applied %d contest(s) • %d created • %d already existed",
		len(res.Contests), created, len(res.Contests)-created)
}

type checkAPIStep struct {
	operation.BaseStep
	client *domjudge.Client
}

func (s *checkAPIStep) Run(ctx context.Context, _ *operation.Env) (any, error) {
	if err := s.client.Ping(ctx); err != nil {
		return nil, apperrors.Prerequisite("api",
			fmt.Sprintf("DOMjudge API at %s is not reachable. Run 'domctl infra apply' first", s.client.BaseURL()), err)
	}
	return true, nil
}

type applyContestStep struct {
	operation.BaseStep
	a       *Apply
	contest model.ContestConfig
}

func (s *applyContestStep) Run(ctx context.Context, env *operation.Env) (any, error) {
	return s.a.applyContest(ctx, env.Logger, s.contest)
}

func (a *Apply) applyContest(ctx context.Context, logger *slog.Logger, cfg model.ContestConfig) (Outcome, error) {
	logger = logger.With("contest", cfg.Shortname)
	logger.Info("Applying contest configuration", "name", cfg.Name)

	res, err := a.Client.Contests.CreateOrGet(ctx, domjudge.ContestFromConfig(cfg))
	if err != nil {
		logger.Error("Failed to create/get contest", "error", err)
		return Outcome{}, fmt.Errorf("failed to create/get contest '%s': %w", cfg.Shortname, err)
	}
	action := "Found existing contest"
	if res.Created {
		action = "Created contest"
	}
	logger.Info(action, "contest_id", res.ID, "created", res.Created)

	out := Outcome{
		Shortname:  cfg.Shortname,
		ID:         res.ID,
		Created:    res.Created,
		ProblemIDs: map[string]string{},
		TeamIDs:    map[string]string{},
	}

	var (
		mu       sync.Mutex
		failures = map[string]error{}
		g        errgroup.Group
	)
	record := func(task string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			logger.Error("Failed to apply "+task, "contest_id", res.ID, "error", err)
			failures[task] = err
			return
		}
		logger.Info("Successfully applied "+task, "contest_id", res.ID)
	}
	g.Go(func() error {
		ids, err := a.applyProblems(ctx, logger, res.ID, cfg.Problems)
		mu.Lock()
		out.ProblemIDs = ids
		mu.Unlock()
		record("problems", err)
		return nil
	})
	g.Go(func() error {
		ids, created, err := a.applyTeams(ctx, logger, res.ID, cfg.Teams)
		mu.Lock()
		out.TeamIDs, out.NewTeams = ids, created
		mu.Unlock()
		record("teams", err)
		return nil
	})
	_ = g.Wait()

	if len(failures) > 0 {
		tasks := make([]string, 0, len(failures))
		for task := range failures {
			tasks = append(tasks, task)
		}
		sort.Strings(tasks)
		details := make([]string, 0, len(tasks))
		causes := make([]error, 0, len(tasks))
		for _, task := range tasks {
			details = append(details, fmt.Sprintf("%s: %v", task, failures[task]))
			causes = append(causes, failures[task])
		}
		return out, batchError(
			fmt.Sprintf("Failed to fully configure contest '%s': %s", cfg.Shortname, strings.Join(details, ", ")),
			cfg.Shortname, causes)
	}

	logger.Info("Successfully configured contest",
		"contest_id", res.ID, "problems", len(cfg.Problems), "teams", len(cfg.Teams))
	return out, nil
}

// applyProblems uploads every package not yet in the contest and returns
// the ids by short name. Every package is attempted; failures are aggregated.
func (a *Apply) applyProblems(ctx context.Context, logger *slog.Logger, contestID string, pkgs []*problem.Package) (map[string]string, error) {
	var (
		mu     sync.Mutex
		ids    = map[string]string{}
		failed []error
		g      errgroup.Group
	)
	if len(pkgs) == 0 {
		return ids, nil
	}
	existing, err := a.Client.Problems.List(ctx, contestID)
	if err != nil {
		return ids, fmt.Errorf("failed to list contest problems: %w", err)
	}

	g.SetLimit(ProblemWorkers)
	for _, pkg := range pkgs {
		if p, ok := domjudge.Match(existing, pkg); ok {
			logger.Info("Problem already in contest, skipped upload", "problem", pkg.DisplayName(), "problem_id", p.ID)
			mu.Lock()
			ids[pkg.ShortName()] = p.ID
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			id, err := a.Client.Problems.AddToContest(ctx, contestID, pkg)
			a.recordUpload(ctx, "problem", err == nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("Failed to add problem", "problem", pkg.DisplayName(), "error", err)
				failed = append(failed, fmt.Errorf("failed to add problem '%s': %w", pkg.DisplayName(), err))
				return nil
			}
			logger.Info("Successfully added problem to contest", "problem", pkg.DisplayName(), "problem_id", id)
			ids[pkg.ShortName()] = id
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		msg := fmt.Sprintf("%d problem(s) failed to add out of %d", len(failed), len(pkgs))
		return ids, batchError(msg, "problems", failed)
	}
	return ids, nil
}

// applyTeams registers every team, creating its organization first and its
// login user only when the team itself was new. It returns team ids by name
// and the number of teams created.
func (a *Apply) applyTeams(ctx context.Context, logger *slog.Logger, contestID string, teams []model.Team) (map[string]string, int, error) {
	var (
		mu      sync.Mutex
		ids     = map[string]string{}
		created int
		failed  []string
		causes  []error
		g       errgroup.Group
	)
	orgs := &organizations{client: a.Client, contestID: contestID, ids: map[string]string{}}
	g.SetLimit(TeamWorkers)
	for _, team := range teams {
		g.Go(func() error {
			res, err := a.addTeam(ctx, contestID, orgs, team)
			a.recordUpload(ctx, "team", err == nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("Failed to add team", "team", team.Name, "error", err)
				failed = append(failed, team.Name)
				causes = append(causes, fmt.Errorf("team '%s': %w", team.Name, err))
				return nil
			}
			ids[team.Name] = res.ID
			if res.Created {
				created++
				logger.Info("Successfully added team", "team", team.Name, "team_id", res.ID)
			} else {
				logger.Info("Team already exists, skipped user creation", "team", team.Name, "team_id", res.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		sort.Strings(failed)
		quoted := make([]string, len(failed))
		for i, name := range failed {
			quoted[i] = "'" + name + "'"
		}
		msg := fmt.Sprintf("%d/%d team(s) failed to add: %s", len(failed), len(teams), strings.Join(quoted, ", "))
		return ids, created, batchError(msg, "teams", causes)
	}
	return ids, created, nil
}

func (a *Apply) addTeam(ctx context.Context, contestID string, orgs *organizations, team model.Team) (domjudge.CreateResult, error) {
	var orgID string
	if team.Affiliation != "" {
		id, err := orgs.resolve(ctx, team.Affiliation)
		if err != nil {
			return domjudge.CreateResult{}, fmt.Errorf("organization '%s': %w", team.Affiliation, err)
		}
		orgID = id
	}

	res, err := a.Client.Teams.AddToContest(ctx, contestID, TeamPayload(team, orgID))
	if err != nil {
		return domjudge.CreateResult{}, err
	}
	if !res.Created {
		return res, nil
	}
	_, err = a.Client.Users.Add(ctx, domjudge.User{
		Username: team.Username,
		Name:     team.Name,
		Password: team.Password,
		TeamID:   res.ID,
		Roles:    []string{"team"},
	})
	if err != nil {
		return domjudge.CreateResult{}, fmt.Errorf("user '%s': %w", team.Username, err)
	}
	return res, nil
}

// TeamPayload builds the API team of a configured team.
func TeamPayload(team model.Team, organizationID string) domjudge.Team {
	return domjudge.Team{
		ID:             model.StableID(team.Name),
		Name:           TeamName(team),
		DisplayName:    team.Name,
		GroupIDs:       []string{model.DefaultTeamGroupID},
		OrganizationID: organizationID,
	}
}

// TeamName is the unique platform name of a team: "username(name)".
func TeamName(team model.Team) string {
	return fmt.Sprintf("%s(%s)", team.Username, team.Name)
}

// organizations creates each affiliation once per contest.
type organizations struct {
	client    *domjudge.Client
	contestID string

	mu  sync.Mutex
	ids map[string]string
}

func (o *organizations) resolve(ctx context.Context, affiliation string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.ids[affiliation]; ok {
		return id, nil
	}
	res, err := o.client.Organizations.AddToContest(ctx, o.contestID, domjudge.Organization{
		ID:         model.StableID(affiliation),
		Shortname:  affiliation,
		Name:       affiliation,
		FormalName: affiliation,
		Country:    model.DefaultCountryCode,
	})
	if err != nil {
		return "", err
	}
	o.ids[affiliation] = res.ID
	return res.ID, nil
}

func (a *Apply) recordUpload(ctx context.Context, kind string, ok bool) {
	if a.Metrics != nil {
		a.Metrics.RecordUpload(ctx, kind, ok)
	}
}

// batchError reports a batch where some items failed.
func batchError(msg, resource string, causes []error) error {
	return &apperrors.Error{
		Sentinel: apperrors.ErrPartial,
		Message:  msg,
		Resource: resource,
		Cause:    errors.Join(causes...),
	}
}

// Verify Apply implements operation.Operation
var _ operation.Operation[ApplyResult] = (*Apply)(nil)
