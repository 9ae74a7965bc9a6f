package domjudge

import (
	"context"
	"fmt"
	"net/http"

	"domctl/internal/apperrors"
	"domctl/internal/problem"
)

// Problem is a problem attached to a contest.
type Problem struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	ShortName  string `json:"short_name"`
	Name       string `json:"name"`
	ExternalID string `json:"externalid"`
}

// ProblemService manages contest problems.
type ProblemService struct {
	c *Client
}

// List returns the problems of a contest.
func (s *ProblemService) List(ctx context.Context, contestID string) ([]Problem, error) {
	var problems []Problem
	err := s.c.getJSON(ctx, &request{
		path:  fmt.Sprintf("/api/v4/contests/%s/problems", contestID),
		route: "problems.list",
	}, &problems)
	return problems, err
}

// AddToContest uploads a package as a zip archive and returns the new problem id.
// Uploading a package that already exists is reported as an error.
func (s *ProblemService) AddToContest(ctx context.Context, contestID string, pkg *problem.Package) (string, error) {
	archive, err := pkg.Bytes()
	if err != nil {
		return "", fmt.Errorf("failed to pack problem %s: %w", pkg.ShortName(), err)
	}
	body, contentType, err := multipartBody(nil, formFile{
		field:       "zip",
		filename:    pkg.ShortName() + ".zip",
		contentType: "application/zip",
		content:     archive,
	})
	if err != nil {
		return "", err
	}
	resp, err := s.c.do(ctx, &request{
		method:      http.MethodPost,
		path:        fmt.Sprintf("/api/v4/contests/%s/problems", contestID),
		body:        body,
		contentType: contentType,
		route:       "problems.add",
	})
	if err != nil {
		return "", err
	}
	id, err := parseID(resp)
	if err != nil {
		return "", apperrors.API("problems.add", 0, err)
	}
	s.c.logger.Info("Problem uploaded", "contest_id", contestID, "problem", pkg.ShortName(), "id", id)
	return id, nil
}

// Match returns the uploaded problem that corresponds to a package.
func Match(problems []Problem, pkg *problem.Package) (Problem, bool) {
	for _, p := range problems {
		switch {
		case pkg.INI.ExternalID != "" && p.ExternalID == pkg.INI.ExternalID:
			return p, true
		case p.ShortName == pkg.ShortName(), p.Label == pkg.ShortName(), p.ExternalID == pkg.ShortName():
			return p, true
		}
	}
	return Problem{}, false
}
