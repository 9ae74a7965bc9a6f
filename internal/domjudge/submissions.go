package domjudge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"domctl/internal/apperrors"
)

// Languages maps source file extensions to DOMjudge language ids.
var Languages = map[string]string{
	".c":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".cxx":  "cpp",
	".java": "java",
	".kt":   "kotlin",
	".py":   "python3",
	".rs":   "rust",
	".go":   "go",
}

// LanguageFor returns the language id of a source file.
func LanguageFor(filename string) (string, bool) {
	lang, ok := Languages[strings.ToLower(filepath.Ext(filename))]
	return lang, ok
}

// Submission is a source file submitted to a problem.
type Submission struct {
	ProblemID string
	Language  string
	Filename  string
	Code      []byte
}

// Judgement is the judging result of a submission. JudgementType is empty
// while judging is in progress.
type Judgement struct {
	ID            string  `json:"id"`
	SubmissionID  string  `json:"submission_id"`
	JudgementType *string `json:"judgement_type_id"`
	Valid         bool    `json:"valid"`
}

// Done reports whether the judgement has a final verdict.
func (j Judgement) Done() bool { return j.JudgementType != nil && *j.JudgementType != "" }

// Verdict returns the judgement type id, or "" while pending.
func (j Judgement) Verdict() string {
	if j.JudgementType == nil {
		return ""
	}
	return *j.JudgementType
}

// SubmissionService submits code and reads judgements.
type SubmissionService struct {
	c *Client
}

// Submit uploads a submission and returns its id.
func (s *SubmissionService) Submit(ctx context.Context, contestID string, sub Submission) (string, error) {
	body, contentType, err := multipartBody(map[string]string{
		"problem":  sub.ProblemID,
		"language": sub.Language,
	}, formFile{field: "code[]", filename: sub.Filename, contentType: "text/plain", content: sub.Code})
	if err != nil {
		return "", err
	}
	resp, err := s.c.do(ctx, &request{
		method:      http.MethodPost,
		path:        fmt.Sprintf("/api/v4/contests/%s/submissions", contestID),
		body:        body,
		contentType: contentType,
		route:       "submissions.add",
	})
	if err != nil {
		return "", err
	}
	id, err := parseID(resp)
	if err != nil {
		return "", apperrors.API("submissions.add", 0, err)
	}
	return id, nil
}

// Judgements returns the judgements of one submission. Results are never cached.
func (s *SubmissionService) Judgements(ctx context.Context, contestID, submissionID string) ([]Judgement, error) {
	var judgements []Judgement
	err := s.c.getJSON(ctx, &request{
		path:    fmt.Sprintf("/api/v4/contests/%s/judgements", contestID),
		query:   url.Values{"submission_id": {submissionID}},
		route:   "judgements.list",
		noCache: true,
	}, &judgements)
	return judgements, err
}
