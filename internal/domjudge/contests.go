package domjudge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"domctl/internal/apperrors"
	"domctl/internal/model"
)

const contestsListKey = "contests_list"

// Contest is a contest as sent to and returned by the API.
type Contest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	FormalName  string `json:"formal_name,omitempty"`
	Shortname   string `json:"shortname"`
	StartTime   string `json:"start_time,omitempty"`
	Duration    string `json:"duration,omitempty"`
	PenaltyTime int    `json:"penalty_time"`
	AllowSubmit bool   `json:"allow_submit"`
}

// ContestFromConfig builds the API payload of a configured contest.
func ContestFromConfig(cfg model.ContestConfig) Contest {
	c := Contest{
		Name:        cfg.Name,
		FormalName:  cfg.FormalName,
		Shortname:   cfg.Shortname,
		Duration:    cfg.Duration,
		PenaltyTime: cfg.PenaltyTime,
		AllowSubmit: cfg.AllowSubmit,
	}
	if cfg.StartTime != nil {
		c.StartTime = cfg.StartTime.Format(time.RFC3339)
	}
	return c
}

// CreateResult is the outcome of a create-or-get call.
type CreateResult struct {
	ID      string
	Created bool
}

// ContestService manages contests.
type ContestService struct {
	c *Client
}

// List returns every contest. The list is cached for ShortCacheTTL.
func (s *ContestService) List(ctx context.Context) ([]Contest, error) {
	var contests []Contest
	err := s.c.getJSON(ctx, &request{
		path:     "/api/v4/contests",
		route:    "contests.list",
		cacheKey: contestsListKey,
		cacheTTL: ShortCacheTTL,
	}, &contests)
	return contests, err
}

// Find returns the contest with the given shortname.
func (s *ContestService) Find(ctx context.Context, shortname string) (Contest, bool, error) {
	contests, err := s.List(ctx)
	if err != nil {
		return Contest{}, false, err
	}
	for _, c := range contests {
		if c.Shortname == shortname {
			return c, true, nil
		}
	}
	return Contest{}, false, nil
}

// CreateOrGet creates the contest, or resolves the existing contest when the
// server rejects the shortname as taken.
func (s *ContestService) CreateOrGet(ctx context.Context, contest Contest) (CreateResult, error) {
	payload, err := json.Marshal(contest)
	if err != nil {
		return CreateResult{}, fmt.Errorf("failed to marshal contest: %w", err)
	}
	body, contentType, err := multipartBody(nil, formFile{
		field:       "json",
		filename:    "contest.json",
		contentType: "application/json",
		content:     payload,
	})
	if err != nil {
		return CreateResult{}, err
	}

	logger := s.c.logger.With("contest", contest.Shortname)
	resp, err := s.c.do(ctx, &request{
		method:      http.MethodPost,
		path:        "/api/v4/contests",
		body:        body,
		contentType: contentType,
		route:       "contests.create",
	})
	if err == nil {
		id, err := parseID(resp)
		if err != nil {
			return CreateResult{}, apperrors.API("contests.create", 0, err)
		}
		logger.Info("Created new contest", "id", id, "name", contest.Name)
		return CreateResult{ID: id, Created: true}, nil
	}
	if !duplicateShortname(err) {
		logger.Error("Failed to create contest", "error", err)
		return CreateResult{}, err
	}

	s.c.cache.delete(contestsListKey)
	existing, found, listErr := s.Find(ctx, contest.Shortname)
	if listErr != nil {
		return CreateResult{}, listErr
	}
	if !found {
		logger.Error("Contest not found after duplicate shortname error")
		return CreateResult{}, apperrors.API("contests.create", apperrors.StatusCode(err),
			fmt.Errorf("contest with shortname '%s' exists but could not be fetched", contest.Shortname))
	}
	logger.Info("Contest already exists", "id", existing.ID)
	return CreateResult{ID: existing.ID, Created: false}, nil
}

// duplicateShortname reports whether a create failure means the shortname is taken.
// The server signals this with a 409 or with an error message naming the shortname.
func duplicateShortname(err error) bool {
	if apperrors.StatusCode(err) == http.StatusConflict {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return strings.Contains(strings.ToLower(he.Body), "shortname")
	}
	return false
}
