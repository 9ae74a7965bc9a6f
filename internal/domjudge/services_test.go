package domjudge_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"domctl/internal/domjudge"
	"domctl/internal/model"
	"domctl/internal/testutil"
	"domctl/pkg/backoff"
)

func newClient(t *testing.T, url string) *domjudge.Client {
	t.Helper()
	c, err := domjudge.New(domjudge.Options{
		BaseURL:  url,
		Password: "secret",
		Backoff:  &backoff.Config{Initial: time.Millisecond, Max: time.Millisecond},
		Rate:     1000,
		Burst:    1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestContestFromConfig(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	got := domjudge.ContestFromConfig(model.ContestConfig{
		Name: "Spring", Shortname: "spring", FormalName: "Spring Cup",
		StartTime: &start, Duration: "5:00:00", PenaltyTime: 20, AllowSubmit: true,
	})
	if got.StartTime != "2025-03-01T09:00:00Z" {
		t.Errorf("StartTime = %q", got.StartTime)
	}
	if got.Shortname != "spring" || got.PenaltyTime != 20 || !got.AllowSubmit {
		t.Errorf("ContestFromConfig() = %+v", got)
	}
}

func TestContests_CreateOrGet(t *testing.T) {
	t.Parallel()
	for _, conflict409 := range []bool{false, true} {
		name := "message"
		if conflict409 {
			name = "409"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fake := testutil.NewFakeDOMjudge(t, "secret")
			fake.Conflict409 = conflict409
			c := newClient(t, fake.URL())
			ctx := context.Background()

			// Prime the contests cache so the duplicate path must bypass it.
			if _, err := c.Contests.List(ctx); err != nil {
				t.Fatal(err)
			}

			first, err := c.Contests.CreateOrGet(ctx, domjudge.Contest{Name: "A", Shortname: "a"})
			if err != nil {
				t.Fatalf("CreateOrGet() error = %v", err)
			}
			if !first.Created || first.ID == "" {
				t.Fatalf("first CreateOrGet() = %+v, want created", first)
			}

			second, err := c.Contests.CreateOrGet(ctx, domjudge.Contest{Name: "A", Shortname: "a"})
			if err != nil {
				t.Fatalf("second CreateOrGet() error = %v", err)
			}
			if second.Created || second.ID != first.ID {
				t.Errorf("second CreateOrGet() = %+v, want existing %s", second, first.ID)
			}
			if n, _, _, _ := fake.Snapshot(); n != 1 {
				t.Errorf("contests stored = %d, want 1", n)
			}
		})
	}
}

func TestContests_CreateOrGet_ExistsButMissing(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"shortname already in use"}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	_, err := newClient(t, server.URL).Contests.CreateOrGet(context.Background(), domjudge.Contest{Name: "X", Shortname: "x"})
	if err == nil || !strings.Contains(err.Error(), "contest with shortname 'x' exists but could not be fetched") {
		t.Errorf("CreateOrGet() error = %v", err)
	}
}

func TestContests_CreateOrGet_OtherError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid duration"}`))
	}))
	defer server.Close()

	_, err := newClient(t, server.URL).Contests.CreateOrGet(context.Background(), domjudge.Contest{Shortname: "x"})
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("CreateOrGet() error = %v", err)
	}
}

func TestContests_Find(t *testing.T) {
	t.Parallel()
	fake := testutil.NewFakeDOMjudge(t, "secret")
	id := fake.AddContest("demo", "Demo")
	c := newClient(t, fake.URL())

	got, found, err := c.Contests.Find(context.Background(), "demo")
	if err != nil || !found || got.ID != id {
		t.Errorf("Find(demo) = %+v, %v, %v", got, found, err)
	}
	if _, found, _ := c.Contests.Find(context.Background(), "nope"); found {
		t.Error("did not expect to find contest nope")
	}
}

func TestProblems_AddToContest(t *testing.T) {
	t.Parallel()
	fake := testutil.NewFakeDOMjudge(t, "secret")
	cid := fake.AddContest("demo", "Demo")
	c := newClient(t, fake.URL())
	ctx := context.Background()
	pkg := testutil.ProblemPackage(t, "hello", nil)

	id, err := c.Problems.AddToContest(ctx, cid, pkg)
	if err != nil {
		t.Fatalf("AddToContest() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected problem id")
	}
	if _, err := c.Problems.AddToContest(ctx, cid, pkg); err == nil {
		t.Error("expected re-upload of the same problem to fail")
	}

	problems, err := c.Problems.List(ctx, cid)
	if err != nil {
		t.Fatal(err)
	}
	matched, ok := domjudge.Match(problems, pkg)
	if !ok || matched.ID != id {
		t.Errorf("Match() = %+v, %v, want id %s", matched, ok, id)
	}
	if _, ok := domjudge.Match(problems, testutil.ProblemPackage(t, "other", nil)); ok {
		t.Error("did not expect a match for an unknown package")
	}
}

func TestTeams_AddToContest(t *testing.T) {
	t.Parallel()
	fake := testutil.NewFakeDOMjudge(t, "secret")
	cid := fake.AddContest("demo", "Demo")
	c := newClient(t, fake.URL())
	ctx := context.Background()
	team := domjudge.Team{ID: "77", Name: "alpha", DisplayName: "Alpha", GroupIDs: []string{"3"}}

	first, err := c.Teams.AddToContest(ctx, cid, team)
	if err != nil {
		t.Fatalf("AddToContest() error = %v", err)
	}
	if !first.Created || first.ID != "77" {
		t.Errorf("first AddToContest() = %+v", first)
	}
	second, err := c.Teams.AddToContest(ctx, cid, team)
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.ID != "77" {
		t.Errorf("second AddToContest() = %+v, want existing", second)
	}
	if got := fake.Count("POST /api/v4/contests/" + cid + "/teams"); got != 1 {
		t.Errorf("team POSTs = %d, want 1", got)
	}
}

func TestOrganizations_AddToContest(t *testing.T) {
	t.Parallel()
	fake := testutil.NewFakeDOMjudge(t, "secret")
	cid := fake.AddContest("demo", "Demo")
	c := newClient(t, fake.URL())
	ctx := context.Background()
	org := domjudge.Organization{ID: "5", Shortname: "UM6P", Name: "UM6P", FormalName: "UM6P", Country: "MAR"}

	for i, wantCreated := range []bool{true, false} {
		res, err := c.Organizations.AddToContest(ctx, cid, org)
		if err != nil {
			t.Fatal(err)
		}
		if res.Created != wantCreated || res.ID != "5" {
			t.Errorf("call %d: AddToContest() = %+v, want created=%v", i, res, wantCreated)
		}
	}
}

func TestUsers_Add(t *testing.T) {
	t.Parallel()
	fake := testutil.NewFakeDOMjudge(t, "secret")
	c := newClient(t, fake.URL())
	user := domjudge.User{Username: "alpha", Name: "Alpha", Password: "pw", TeamID: "77", Roles: []string{"team"}}

	if _, err := c.Users.Add(context.Background(), user); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := c.Users.Add(context.Background(), user); err == nil {
		t.Error("expected duplicate username to fail")
	}
	users := fake.UserList()
	if len(users) != 1 || users[0].TeamID != "77" || users[0].Roles[0] != "team" {
		t.Errorf("stored users = %+v", users)
	}
}

func TestSubmissions(t *testing.T) {
	t.Parallel()
	fake := testutil.NewFakeDOMjudge(t, "secret")
	fake.PendingPolls = 1
	fake.Verdict = func(string) string { return "WA" }
	cid := fake.AddContest("demo", "Demo")
	c := newClient(t, fake.URL())
	ctx := context.Background()

	id, err := c.Submissions.Submit(ctx, cid, domjudge.Submission{
		ProblemID: "1", Language: "python3", Filename: "sol.py", Code: []byte("print(1)"),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if sub := fake.Submission(id); sub.Language != "python3" || sub.Filename != "sol.py" || sub.ProblemID != "1" {
		t.Errorf("stored submission = %+v", sub)
	}

	pending, err := c.Submissions.Judgements(ctx, cid, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Done() {
		t.Fatalf("first poll = %+v, want one pending judgement", pending)
	}
	done, err := c.Submissions.Judgements(ctx, cid, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || !done[0].Done() || done[0].Verdict() != "WA" {
		t.Errorf("second poll = %+v, want WA", done)
	}
}

func TestLanguageFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		file string
		want string
		ok   bool
	}{
		{"sol.cpp", "cpp", true},
		{"SOL.CPP", "cpp", true},
		{"a.py", "python3", true},
		{"Main.java", "java", true},
		{"notes.txt", "", false},
		{"Makefile", "", false},
	}
	for _, tt := range tests {
		got, ok := domjudge.LanguageFor(tt.file)
		if got != tt.want || ok != tt.ok {
			t.Errorf("LanguageFor(%q) = %q, %v", tt.file, got, ok)
		}
	}
}

func TestUnauthorized(t *testing.T) {
	t.Parallel()
	fake := testutil.NewFakeDOMjudge(t, "other")
	err := newClient(t, fake.URL()).Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Errorf("Ping() error = %v", err)
	}
}
