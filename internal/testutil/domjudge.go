package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"domctl/internal/problem"
)

// FakeDOMjudge is an in-memory DOMjudge API served over httptest.
type FakeDOMjudge struct {
	Server   *httptest.Server
	Password string

	mu     sync.Mutex
	nextID int
	// Conflict409 makes duplicate contest shortnames answer 409 instead of
	// 400 with a message naming the shortname.
	Conflict409 bool
	// FailContests maps a contest shortname to the status its creation answers.
	FailContests map[string]int
	// FailProblems maps a problem short name to the status its upload answers.
	FailProblems map[string]int
	// FailTeams maps a team name to the status its creation answers.
	FailTeams map[string]int
	// Verdict returns the judgement of a submitted file. Defaults to "AC".
	Verdict func(filename string) string
	// PendingPolls is how many judgement polls answer "in progress" first.
	PendingPolls int
	// Stall makes matching "METHOD path" requests hang until the client
	// goes away.
	Stall func(call string) bool

	Contests      []FakeContest
	Problems      map[string][]FakeProblem
	Teams         map[string][]FakeTeam
	Organizations map[string][]FakeOrganization
	Users         []FakeUser
	Submissions   map[string]FakeSubmission
	polls         map[string]int
	Requests      []string
}

// FakeContest is a stored contest.
type FakeContest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FormalName  string `json:"formal_name"`
	Shortname   string `json:"shortname"`
	StartTime   string `json:"start_time"`
	Duration    string `json:"duration"`
	PenaltyTime int    `json:"penalty_time"`
	AllowSubmit bool   `json:"allow_submit"`
}

// FakeProblem is a stored contest problem.
type FakeProblem struct {
	ID        string `json:"id"`
	ShortName string `json:"short_name"`
	Label     string `json:"label"`
	Name      string `json:"name"`
}

// FakeTeam is a stored team.
type FakeTeam struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	GroupIDs       []string `json:"group_ids"`
	OrganizationID string   `json:"organization_id"`
}

// FakeOrganization is a stored organization.
type FakeOrganization struct {
	ID         string `json:"id"`
	Shortname  string `json:"shortname"`
	Name       string `json:"name"`
	FormalName string `json:"formal_name"`
	Country    string `json:"country"`
}

// FakeUser is a stored user.
type FakeUser struct {
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Password string   `json:"password"`
	TeamID   string   `json:"team_id"`
	Roles    []string `json:"roles"`
}

// FakeSubmission is a stored submission.
type FakeSubmission struct {
	ContestID string
	ProblemID string
	Language  string
	Filename  string
}

// NewFakeDOMjudge starts a fake server accepting admin/password. It is
// closed when the test ends.
func NewFakeDOMjudge(tb testing.TB, password string) *FakeDOMjudge {
	tb.Helper()
	f := &FakeDOMjudge{
		Password:      password,
		FailContests:  map[string]int{},
		FailProblems:  map[string]int{},
		FailTeams:     map[string]int{},
		Problems:      map[string][]FakeProblem{},
		Teams:         map[string][]FakeTeam{},
		Organizations: map[string][]FakeOrganization{},
		Submissions:   map[string]FakeSubmission{},
		polls:         map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v4/user", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"username": "admin"})
	})
	mux.HandleFunc("GET /api/v4/contests", f.listContests)
	mux.HandleFunc("POST /api/v4/contests", f.createContest)
	mux.HandleFunc("GET /api/v4/contests/{cid}/problems", f.listProblems)
	mux.HandleFunc("POST /api/v4/contests/{cid}/problems", f.addProblem)
	mux.HandleFunc("GET /api/v4/contests/{cid}/teams", f.listTeams)
	mux.HandleFunc("POST /api/v4/contests/{cid}/teams", f.addTeam)
	mux.HandleFunc("GET /api/v4/contests/{cid}/organizations", f.listOrganizations)
	mux.HandleFunc("POST /api/v4/contests/{cid}/organizations", f.addOrganization)
	mux.HandleFunc("POST /api/v4/users", f.addUser)
	mux.HandleFunc("POST /api/v4/contests/{cid}/submissions", f.addSubmission)
	mux.HandleFunc("GET /api/v4/contests/{cid}/judgements", f.listJudgements)

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.Requests = append(f.Requests, call)
		stall := f.Stall
		f.mu.Unlock()
		if stall != nil && stall(call) {
			<-r.Context().Done()
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != f.Password {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	tb.Cleanup(f.Server.Close)
	return f
}

// URL returns the server base URL.
func (f *FakeDOMjudge) URL() string { return f.Server.URL }

// RequestLog returns a copy of the "METHOD path" request log.
func (f *FakeDOMjudge) RequestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Requests...)
}

// Count returns how many requests matched "METHOD path".
func (f *FakeDOMjudge) Count(call string) int {
	n := 0
	for _, r := range f.RequestLog() {
		if r == call {
			n++
		}
	}
	return n
}

// AddContest seeds an existing contest and returns its id.
func (f *FakeDOMjudge) AddContest(shortname, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	f.Contests = append(f.Contests, FakeContest{ID: id, Shortname: shortname, Name: name})
	return id
}

// ContestID returns the id of a stored contest.
func (f *FakeDOMjudge) ContestID(shortname string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Contests {
		if c.Shortname == shortname {
			return c.ID, true
		}
	}
	return "", false
}

// Snapshot returns counts of stored entities: contests, problems, teams, users.
func (f *FakeDOMjudge) Snapshot() (contests, problems, teams, users int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.Problems {
		problems += len(p)
	}
	for _, t := range f.Teams {
		teams += len(t)
	}
	return len(f.Contests), problems, teams, len(f.Users)
}

// id must be called with mu held.
func (f *FakeDOMjudge) id() string {
	f.nextID++
	return strconv.Itoa(f.nextID)
}

func (f *FakeDOMjudge) listContests(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, append([]FakeContest{}, f.Contests...))
}

func (f *FakeDOMjudge) createContest(w http.ResponseWriter, r *http.Request) {
	data, err := formFile(r, "json")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	var c FakeContest
	if err := json.Unmarshal(data, &c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if status := f.FailContests[c.Shortname]; status != 0 {
		writeJSON(w, status, map[string]string{"message": "invalid contest payload"})
		return
	}
	for _, existing := range f.Contests {
		if existing.Shortname == c.Shortname {
			if f.Conflict409 {
				writeJSON(w, http.StatusConflict, map[string]string{"message": "Conflict"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"message": fmt.Sprintf("Contest with shortname %s already exists", c.Shortname),
			})
			return
		}
	}
	c.ID = f.id()
	f.Contests = append(f.Contests, c)
	writeJSON(w, http.StatusOK, c.ID)
}

func (f *FakeDOMjudge) listProblems(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, append([]FakeProblem{}, f.Problems[r.PathValue("cid")]...))
}

func (f *FakeDOMjudge) addProblem(w http.ResponseWriter, r *http.Request) {
	data, err := formFile(r, "zip")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	pkg, err := problem.ReadZip(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if status := f.FailProblems[pkg.ShortName()]; status != 0 {
		writeJSON(w, status, map[string]string{"message": "upload rejected"})
		return
	}
	cid := r.PathValue("cid")
	for _, p := range f.Problems[cid] {
		if p.ShortName == pkg.ShortName() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problem already exists"})
			return
		}
	}
	p := FakeProblem{ID: f.id(), ShortName: pkg.ShortName(), Label: pkg.ShortName(), Name: pkg.DisplayName()}
	f.Problems[cid] = append(f.Problems[cid], p)
	writeJSON(w, http.StatusOK, map[string]any{"problem_id": p.ID, "messages": []string{}})
}

func (f *FakeDOMjudge) listTeams(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, append([]FakeTeam{}, f.Teams[r.PathValue("cid")]...))
}

func (f *FakeDOMjudge) addTeam(w http.ResponseWriter, r *http.Request) {
	var t FakeTeam
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if status := f.FailTeams[t.Name]; status != 0 {
		writeJSON(w, status, map[string]string{"message": "team rejected"})
		return
	}
	if t.ID == "" {
		t.ID = f.id()
	}
	cid := r.PathValue("cid")
	f.Teams[cid] = append(f.Teams[cid], t)
	writeJSON(w, http.StatusCreated, t)
}

func (f *FakeDOMjudge) listOrganizations(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, append([]FakeOrganization{}, f.Organizations[r.PathValue("cid")]...))
}

func (f *FakeDOMjudge) addOrganization(w http.ResponseWriter, r *http.Request) {
	var o FakeOrganization
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cid := r.PathValue("cid")
	f.Organizations[cid] = append(f.Organizations[cid], o)
	writeJSON(w, http.StatusCreated, o)
}

func (f *FakeDOMjudge) addUser(w http.ResponseWriter, r *http.Request) {
	var u FakeUser
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.Users {
		if existing.Username == u.Username {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "username already in use"})
			return
		}
	}
	f.Users = append(f.Users, u)
	writeJSON(w, http.StatusCreated, map[string]string{"id": f.id(), "username": u.Username})
}

func (f *FakeDOMjudge) addSubmission(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	files := r.MultipartForm.File["code[]"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "no code"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	f.Submissions[id] = FakeSubmission{
		ContestID: r.PathValue("cid"),
		ProblemID: r.FormValue("problem"),
		Language:  r.FormValue("language"),
		Filename:  files[0].Filename,
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (f *FakeDOMjudge) listJudgements(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sid := r.URL.Query().Get("submission_id")
	sub, ok := f.Submissions[sid]
	if !ok {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	f.polls[sid]++
	var verdict any
	if f.polls[sid] > f.PendingPolls {
		v := "AC"
		if f.Verdict != nil {
			v = f.Verdict(sub.Filename)
		}
		verdict = v
	}
	writeJSON(w, http.StatusOK, []map[string]any{{
		"id":                "j" + sid,
		"submission_id":     sid,
		"judgement_type_id": verdict,
		"valid":             true,
	}})
}

func formFile(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %s file: %w", field, err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// UserList returns a copy of the stored users.
func (f *FakeDOMjudge) UserList() []FakeUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeUser(nil), f.Users...)
}

// Submission returns a stored submission.
func (f *FakeDOMjudge) Submission(id string) FakeSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Submissions[id]
}

// TeamList returns a copy of the teams of a contest.
func (f *FakeDOMjudge) TeamList(contestID string) []FakeTeam {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeTeam(nil), f.Teams[contestID]...)
}
