package contest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"domctl/internal/apperrors"
	"domctl/internal/domjudge"
	"domctl/internal/model"
	"domctl/internal/operation"
	"domctl/internal/problem"
	"domctl/pkg/backoff"

	"github.com/xrash/smetrics"
)

// Verify step names.
const (
	StepResolveContest  = "resolve_contest"
	StepResolveProblems = "resolve_problems"
	StepSubmit          = "submit"
	StepCollect         = "collect_judgements"
)

// Defaults of the judgement polling.
const (
	DefaultJudgeTimeout = 5 * time.Minute
	DefaultPollInterval = 2 * time.Second
)

// expectedVerdicts maps submission directories to acceptable judgement ids.
// A nil entry accepts any verdict except a compile error.
var expectedVerdicts = map[problem.Verdict][]string{
	problem.Accepted:            {"AC"},
	problem.WrongAnswer:         {"WA"},
	problem.TimeLimitExceeded:   {"TLE"},
	problem.MemoryLimitExceeded: {"MLE", "RTE"},
	problem.RuntimeError:        {"RTE"},
	problem.Mixed:               nil,
}

// Matches reports whether a judgement satisfies the expected verdict directory.
func Matches(expected problem.Verdict, got string) bool {
	want, ok := expectedVerdicts[expected]
	if !ok {
		return false
	}
	if want == nil {
		return got != "" && got != "CE"
	}
	for _, w := range want {
		if strings.EqualFold(w, got) {
			return true
		}
	}
	return false
}

// PlannedSubmission is one reference submission of a package.
type PlannedSubmission struct {
	Problem  string          `json:"problem"`
	File     string          `json:"file"`
	Expected problem.Verdict `json:"expected"`
	Language string          `json:"language,omitempty"`
	code     []byte
}

// Submissions lists every reference submission of a contest in a stable
// order. Files without a known language have an empty Language.
func Submissions(cfg model.ContestConfig) []PlannedSubmission {
	var out []PlannedSubmission
	for _, pkg := range cfg.Problems {
		for _, verdict := range problem.Verdicts {
			files := pkg.Submissions[verdict]
			names := make([]string, 0, len(files))
			for name := range files {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				lang, _ := domjudge.LanguageFor(name)
				out = append(out, PlannedSubmission{
					Problem:  pkg.ShortName(),
					File:     name,
					Expected: verdict,
					Language: lang,
					code:     files[name],
				})
			}
		}
	}
	return out
}

// Check is the verification outcome of one submission.
type Check struct {
	Problem      string          `json:"problem"`
	File         string          `json:"file"`
	Expected     problem.Verdict `json:"expected"`
	SubmissionID string          `json:"submission_id,omitempty"`
	Verdict      string          `json:"verdict,omitempty"`
	OK           bool            `json:"ok"`
	Skipped      bool            `json:"skipped,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Report is the outcome of a problemset verification.
type Report struct {
	Contest string  `json:"contest"`
	Checks  []Check `json:"checks"`
}

// Mismatches returns the checks that did not produce their expected verdict.
func (r Report) Mismatches() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK && !c.Skipped {
			out = append(out, c)
		}
	}
	return out
}

// Passed counts the checks that matched.
func (r Report) Passed() int {
	n := 0
	for _, c := range r.Checks {
		if c.OK {
			n++
		}
	}
	return n
}

// VerifyProblemset submits every reference submission of a contest and
// compares the judgements with the verdict directory each came from.
type VerifyProblemset struct {
	Config  *model.Config
	Contest string
	Client  *domjudge.Client
	// JudgeTimeout bounds the wait for all judgements.
	JudgeTimeout time.Duration
	PollInterval time.Duration
}

// Describe implements operation.Operation.
func (v *VerifyProblemset) Describe() string {
	return fmt.Sprintf("Verify problemset of contest '%s'", v.Contest)
}

// Validate implements operation.Operation.
func (v *VerifyProblemset) Validate(env *operation.Env) error {
	if v.Config == nil {
		return apperrors.Validation("config", "configuration is required")
	}
	cfg, ok := v.Config.Contest(v.Contest)
	if !ok {
		msg := fmt.Sprintf("Contest '%s' not found in %s", v.Contest, v.Config.Path)
		if suggestion := Suggest(v.Contest, v.Config.Shortnames()); suggestion != "" {
			msg += fmt.Sprintf(". Did you mean '%s'?", suggestion)
		}
		return apperrors.Validation("contest", msg)
	}
	if len(Submissions(cfg)) == 0 {
		return apperrors.Validation("contest", fmt.Sprintf("Contest '%s' has no reference submissions to verify", v.Contest))
	}
	if !env.DryRun && v.Client == nil {
		return apperrors.Validation("client", "API client is required")
	}
	return nil
}

// Suggest returns the candidate closest to name, or "" when none is close.
func Suggest(name string, candidates []string) string {
	best, bestScore := "", 0.0
	for _, c := range candidates {
		score := smetrics.JaroWinkler(strings.ToLower(name), strings.ToLower(c), 0.7, 4)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < 0.8 {
		return ""
	}
	return best
}

// Steps implements operation.Operation.
func (v *VerifyProblemset) Steps() []operation.Step {
	return []operation.Step{
		&resolveContestStep{BaseStep: operation.BaseStep{StepName: StepResolveContest, Desc: "Resolving contest"}, v: v},
		&resolveProblemsStep{BaseStep: operation.BaseStep{StepName: StepResolveProblems, Desc: "Resolving uploaded problems"}, v: v},
		&submitStep{BaseStep: operation.BaseStep{StepName: StepSubmit, Desc: "Submitting reference solutions"}, v: v},
		&collectStep{BaseStep: operation.BaseStep{StepName: StepCollect, Desc: "Waiting for judgements"}, v: v},
	}
}

// BuildResult implements operation.Operation.
func (v *VerifyProblemset) BuildResult(env *operation.Env) (Report, string) {
	checks, _ := operation.ResultAs[[]Check](env, StepCollect)
	report := Report{Contest: v.Contest, Checks: checks}
	verified := 0
	for _, c := range checks {
		if !c.Skipped {
			verified++
		}
	}
	return report, fmt.Sprintf("%d/%d submission(s) matched their expected verdict", report.Passed(), verified)
}

type resolveContestStep struct {
	operation.BaseStep
	v *VerifyProblemset
}

func (s *resolveContestStep) Run(ctx context.Context, _ *operation.Env) (any, error) {
	c, found, err := s.v.Client.Contests.Find(ctx, s.v.Contest)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w on the platform, run 'domctl contest apply' first",
			apperrors.NotFound("contest", "'"+s.v.Contest+"'"))
	}
	return c.ID, nil
}

type resolveProblemsStep struct {
	operation.BaseStep
	v *VerifyProblemset
}

func (s *resolveProblemsStep) Run(ctx context.Context, env *operation.Env) (any, error) {
	contestID, _ := operation.ResultAs[string](env, StepResolveContest)
	uploaded, err := s.v.Client.Problems.List(ctx, contestID)
	if err != nil {
		return nil, err
	}
	cfg, _ := s.v.Config.Contest(s.v.Contest)
	ids := make(map[string]string, len(cfg.Problems))
	var missing []string
	for _, pkg := range cfg.Problems {
		p, ok := domjudge.Match(uploaded, pkg)
		if !ok {
			missing = append(missing, pkg.ShortName())
			continue
		}
		ids[pkg.ShortName()] = p.ID
	}
	if len(missing) > 0 {
		return nil, apperrors.NotFound("problem", fmt.Sprintf("%s in contest '%s'", strings.Join(missing, ", "), s.v.Contest))
	}
	return ids, nil
}

type submitStep struct {
	operation.BaseStep
	v *VerifyProblemset
}

func (s *submitStep) Run(ctx context.Context, env *operation.Env) (any, error) {
	contestID, _ := operation.ResultAs[string](env, StepResolveContest)
	ids, _ := operation.ResultAs[map[string]string](env, StepResolveProblems)
	cfg, _ := s.v.Config.Contest(s.v.Contest)

	var checks []Check
	for _, sub := range Submissions(cfg) {
		check := Check{Problem: sub.Problem, File: sub.File, Expected: sub.Expected}
		if sub.Language == "" {
			env.Logger.Warn("Skipping submission with unknown language", "problem", sub.Problem, "file", sub.File)
			check.Skipped = true
			check.Error = "unknown language"
			checks = append(checks, check)
			continue
		}
		id, err := s.v.Client.Submissions.Submit(ctx, contestID, domjudge.Submission{
			ProblemID: ids[sub.Problem],
			Language:  sub.Language,
			Filename:  sub.File,
			Code:      sub.code,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			env.Logger.Error("Submission failed", "problem", sub.Problem, "file", sub.File, "error", err)
			check.Error = err.Error()
		} else {
			env.Logger.Debug("Submitted", "problem", sub.Problem, "file", sub.File, "submission_id", id)
			check.SubmissionID = id
		}
		checks = append(checks, check)
	}
	return checks, nil
}

type collectStep struct {
	operation.BaseStep
	v *VerifyProblemset
}

func (s *collectStep) Run(ctx context.Context, env *operation.Env) (any, error) {
	contestID, _ := operation.ResultAs[string](env, StepResolveContest)
	submitted, _ := operation.ResultAs[[]Check](env, StepSubmit)
	checks := append([]Check(nil), submitted...)

	timeout := s.v.JudgeTimeout
	if timeout <= 0 {
		timeout = DefaultJudgeTimeout
	}
	interval := s.v.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	cfg := &backoff.Config{Initial: min(interval, 500*time.Millisecond), Max: interval, Factor: 2}
	deadline := time.Now().Add(timeout)

	for attempt := 1; ; attempt++ {
		pending := 0
		for i := range checks {
			c := &checks[i]
			if c.SubmissionID == "" || c.Verdict != "" {
				continue
			}
			judgements, err := s.v.Client.Submissions.Judgements(ctx, contestID, c.SubmissionID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				env.Logger.Debug("Judgement poll failed", "submission_id", c.SubmissionID, "error", err)
				pending++
				continue
			}
			verdict := finalVerdict(judgements)
			if verdict == "" {
				pending++
				continue
			}
			c.Verdict = verdict
			c.OK = Matches(c.Expected, verdict)
			if !c.OK {
				env.Logger.Warn("Unexpected verdict", "problem", c.Problem, "file", c.File,
					"expected", c.Expected, "got", verdict)
			}
		}
		if pending == 0 {
			return checks, nil
		}
		if time.Now().After(deadline) {
			for i := range checks {
				if checks[i].SubmissionID != "" && checks[i].Verdict == "" {
					checks[i].Error = "timed out waiting for judgement"
				}
			}
			env.Logger.Warn("Timed out waiting for judgements", "pending", pending, "timeout", timeout)
			return checks, nil
		}
		if err := backoff.Sleep(ctx, attempt, cfg); err != nil {
			return nil, err
		}
	}
}

// finalVerdict returns the verdict of the latest valid finished judgement.
func finalVerdict(judgements []domjudge.Judgement) string {
	verdict := ""
	for _, j := range judgements {
		if j.Valid && j.Done() {
			verdict = j.Verdict()
		}
	}
	return verdict
}

// Verify VerifyProblemset implements operation.Operation
var _ operation.Operation[Report] = (*VerifyProblemset)(nil)
