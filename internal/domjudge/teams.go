package domjudge

import (
	"context"
	"fmt"

	"domctl/internal/apperrors"
)

// Team is a contest team.
type Team struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name,omitempty"`
	GroupIDs       []string `json:"group_ids,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
}

// Organization is a team affiliation.
type Organization struct {
	ID         string `json:"id"`
	Shortname  string `json:"shortname"`
	Name       string `json:"name"`
	FormalName string `json:"formal_name"`
	Country    string `json:"country,omitempty"`
}

// User is a login account.
type User struct {
	ID       string   `json:"id,omitempty"`
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Password string   `json:"password,omitempty"`
	TeamID   string   `json:"team_id,omitempty"`
	Roles    []string `json:"roles"`
}

// TeamService manages contest teams.
type TeamService struct {
	c *Client
}

// List returns the teams of a contest.
func (s *TeamService) List(ctx context.Context, contestID string) ([]Team, error) {
	var teams []Team
	err := s.c.getJSON(ctx, &request{
		path:  fmt.Sprintf("/api/v4/contests/%s/teams", contestID),
		route: "teams.list",
	}, &teams)
	return teams, err
}

// AddToContest returns the team with the same name, or creates it.
func (s *TeamService) AddToContest(ctx context.Context, contestID string, team Team) (CreateResult, error) {
	teams, err := s.List(ctx, contestID)
	if err != nil {
		return CreateResult{}, err
	}
	for _, existing := range teams {
		if existing.Name == team.Name {
			s.c.logger.Debug("Team already exists", "contest_id", contestID, "team", team.Name, "id", existing.ID)
			return CreateResult{ID: existing.ID, Created: false}, nil
		}
	}

	resp, err := s.c.postJSON(ctx, "teams.add", fmt.Sprintf("/api/v4/contests/%s/teams", contestID), team)
	if err != nil {
		return CreateResult{}, err
	}
	id, err := parseID(resp)
	if err != nil {
		if team.ID == "" {
			return CreateResult{}, apperrors.API("teams.add", 0, err)
		}
		id = team.ID
	}
	return CreateResult{ID: id, Created: true}, nil
}

// OrganizationService manages organizations.
type OrganizationService struct {
	c *Client
}

// List returns the organizations of a contest.
func (s *OrganizationService) List(ctx context.Context, contestID string) ([]Organization, error) {
	var orgs []Organization
	err := s.c.getJSON(ctx, &request{
		path:  fmt.Sprintf("/api/v4/contests/%s/organizations", contestID),
		route: "organizations.list",
	}, &orgs)
	return orgs, err
}

// AddToContest returns the organization with the same id, or creates it.
func (s *OrganizationService) AddToContest(ctx context.Context, contestID string, org Organization) (CreateResult, error) {
	orgs, err := s.List(ctx, contestID)
	if err != nil {
		return CreateResult{}, err
	}
	for _, existing := range orgs {
		if existing.ID == org.ID || existing.Name == org.Name {
			return CreateResult{ID: existing.ID, Created: false}, nil
		}
	}

	resp, err := s.c.postJSON(ctx, "organizations.add", fmt.Sprintf("/api/v4/contests/%s/organizations", contestID), org)
	if err != nil {
		return CreateResult{}, err
	}
	id, err := parseID(resp)
	if err != nil {
		id = org.ID
	}
	return CreateResult{ID: id, Created: true}, nil
}

// UserService manages user accounts.
type UserService struct {
	c *Client
}

// Add creates a user and returns its id.
func (s *UserService) Add(ctx context.Context, user User) (string, error) {
	resp, err := s.c.postJSON(ctx, "users.add", "/api/v4/users", user)
	if err != nil {
		return "", err
	}
	id, err := parseID(resp)
	if err != nil {
		return "", apperrors.API("users.add", 0, err)
	}
	return id, nil
}
