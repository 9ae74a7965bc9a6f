package infra

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"domctl/internal/apperrors"
	"domctl/internal/compose"
	"domctl/internal/health"
	"domctl/internal/model"
	"domctl/internal/operation"
	"domctl/internal/runtime"
	"domctl/internal/secrets"
	"domctl/internal/testutil"
)

const (
	prefix        = "p"
	restAPISecret = "# generated on first boot by the domserver entrypoint script\ndefault\thttp://localhost/api\tjudgehost\tjudgesecret\n"
)

// fakeCompose records generations in the runtime's call log.
type fakeCompose struct {
	rt     *testutil.FakeRuntime
	params []compose.Params
	err    error
}

func (f *fakeCompose) Generate(p compose.Params) error {
	f.rt.Record("generate " + p.JudgePassword)
	f.params = append(f.params, p)
	return f.err
}

type fixture struct {
	rt      *testutil.FakeRuntime
	compose *fakeCompose
	store   *secrets.Store
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := secrets.Open(filepath.Join(dir, "secrets.json"))
	if err != nil {
		t.Fatal(err)
	}
	rt := testutil.NewFakeRuntime(prefix)
	rt.ExecOutput[prefix+"-domserver:cat "+restAPISecretPath] = restAPISecret
	rt.ExecOutput[prefix+"-domserver:cat "+initialAdminPasswordPath] = "bootpass\n"
	return &fixture{rt: rt, compose: &fakeCompose{rt: rt}, store: store, dir: dir}
}

func (f *fixture) deploy(cfg model.InfraConfig) *Deploy {
	return &Deploy{
		Config:         cfg,
		Runtime:        f.rt,
		Compose:        f.compose,
		ComposePath:    filepath.Join(f.dir, "docker-compose.yml"),
		Prefix:         prefix,
		HealthTimeout:  time.Second,
		HealthInterval: 10 * time.Millisecond,
		PortCheck:      func(int) error { return nil },
	}
}

func (f *fixture) env(dryRun bool) *operation.Env {
	return operation.NewEnv(f.store, dryRun, nil)
}

func TestDeploy_FullSequence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := operation.Run[DeployResult](context.Background(), f.deploy(model.InfraConfig{Port: 12345, Judges: 3}), f.env(false))
	if !res.OK() {
		t.Fatalf("Run() error = %v (step %s)", res.Err, res.FailedStep)
	}

	want := []string{
		"ready",
		"generate TEMP",
		"up mariadb",
		"up mysql-client",
		"up domserver",
		"exec p-domserver cat " + restAPISecretPath,
		"generate judgesecret",
		"up judgehost-1 judgehost-2 judgehost-3",
		"exec p-domserver cat " + initialAdminPasswordPath,
	}
	calls := f.rt.CallLog()
	if len(calls) != len(want)+1 {
		t.Fatalf("calls = %v", calls)
	}
	if !reflect.DeepEqual(calls[:len(want)], want) {
		t.Errorf("calls = %v\nwant prefix %v", calls, want)
	}
	if !strings.HasPrefix(calls[len(want)], "exec p-mysql-client mysql -h p-mariadb -u domjudge domjudge --execute UPDATE domjudge.user SET password = '$2") {
		t.Errorf("admin update call = %q", calls[len(want)])
	}

	if len(f.compose.params) != 2 || f.compose.params[0].Judges != 3 || f.compose.params[1].DBPassword != f.compose.params[0].DBPassword {
		t.Errorf("compose params = %+v", f.compose.params)
	}

	db, _ := f.store.Get(secrets.DBPassword)
	mysql := f.rt.Execs[len(f.rt.Execs)-1]
	if !reflect.DeepEqual(mysql.Env, []string{"MYSQL_PWD=" + db}) || len(db) != secrets.DefaultLength {
		t.Errorf("mysql env = %v, db password %q", mysql.Env, db)
	}
	if pw, _ := f.store.Get(secrets.JudgePassword); pw != "judgesecret" {
		t.Errorf("judge password = %q", pw)
	}
	if pw, _ := f.store.Get(secrets.AdminPassword); pw != "bootpass" {
		t.Errorf("admin password = %q", pw)
	}

	if res.Message != "Infrastructure ready at http://0.0.0.0:12345 • 3 judgehost(s) running" {
		t.Errorf("Message = %q", res.Message)
	}
	if res.Value.Judges != 3 || res.Value.Prefix != prefix {
		t.Errorf("Value = %+v", res.Value)
	}
}

func TestDeploy_AdminPasswordPrecedence(t *testing.T) {
	t.Parallel()

	t.Run("config wins", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		if err := f.store.Set(secrets.AdminPassword, "persisted"); err != nil {
			t.Fatal(err)
		}
		res := operation.Run[DeployResult](context.Background(), f.deploy(model.InfraConfig{Port: 1, Password: "fromconfig"}), f.env(false))
		if !res.OK() {
			t.Fatal(res.Err)
		}
		if pw, _ := f.store.Get(secrets.AdminPassword); pw != "fromconfig" {
			t.Errorf("admin password = %q", pw)
		}
		for _, c := range f.rt.CallLog() {
			if strings.Contains(c, initialAdminPasswordPath) {
				t.Errorf("bootstrap password fetched despite configured password")
			}
		}
	})

	t.Run("persisted before bootstrap", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		if err := f.store.Set(secrets.AdminPassword, "persisted"); err != nil {
			t.Fatal(err)
		}
		res := operation.Run[DeployResult](context.Background(), f.deploy(model.InfraConfig{Port: 1}), f.env(false))
		if !res.OK() {
			t.Fatal(res.Err)
		}
		if pw, _ := f.store.Get(secrets.AdminPassword); pw != "persisted" {
			t.Errorf("admin password = %q", pw)
		}
	})
}

func TestDeploy_NoJudgesSkipsWorkers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	env := f.env(false)
	res := operation.Run[DeployResult](context.Background(), f.deploy(model.InfraConfig{Port: 1, Judges: 0}), env)
	if !res.OK() {
		t.Fatal(res.Err)
	}
	if env.Completed(StepStartJudgehosts) {
		t.Error("start_judgehosts must be skipped with zero judges")
	}
	for _, c := range f.rt.CallLog() {
		if strings.Contains(c, "judgehost") {
			t.Errorf("unexpected worker call %q", c)
		}
	}
}

func TestDeploy_HealthTimeoutStops(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.rt.States[prefix+"-domserver"] = runtime.ContainerState{Exists: true, Status: "running", Health: runtime.HealthStarting}
	d := f.deploy(model.InfraConfig{Port: 1, Judges: 2})
	d.HealthTimeout = 50 * time.Millisecond

	res := operation.Run[DeployResult](context.Background(), d, f.env(false))
	if res.OK() || res.FailedStep != StepWaitHealthy {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Err, apperrors.ErrRuntime) || !strings.Contains(res.Err.Error(), "step wait_healthy") {
		t.Errorf("error = %v", res.Err)
	}
	for _, c := range f.rt.CallLog() {
		if strings.HasPrefix(c, "exec") || strings.Contains(c, "judgehost") {
			t.Errorf("call after failed step: %q", c)
		}
	}
	if len(f.compose.params) != 1 {
		t.Errorf("compose regenerated after failure")
	}
}

func TestDeploy_BadSecretOutput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.rt.ExecOutput[prefix+"-domserver:cat "+restAPISecretPath] = "garbage"
	res := operation.Run[DeployResult](context.Background(), f.deploy(model.InfraConfig{Port: 1, Judges: 1}), f.env(false))
	if res.FailedStep != StepFetchPassword {
		t.Fatalf("FailedStep = %q, err %v", res.FailedStep, res.Err)
	}
	if _, ok := f.store.Get(secrets.JudgePassword); ok {
		t.Error("judge password must not be stored")
	}
}

func TestDeploy_Port(t *testing.T) {
	t.Parallel()
	inUse := errors.New("address already in use")

	t.Run("taken by another process", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.rt.Owners[8080] = "someone-else"
		d := f.deploy(model.InfraConfig{Port: 8080})
		d.PortCheck = func(int) error { return inUse }

		res := operation.Run[DeployResult](context.Background(), d, f.env(false))
		if res.FailedStep != StepValidate || !errors.Is(res.Err, apperrors.ErrPrerequisite) {
			t.Fatalf("result = %+v", res)
		}
		if !strings.Contains(res.Err.Error(), "someone-else") {
			t.Errorf("error = %v", res.Err)
		}
		if len(f.compose.params) != 0 {
			t.Error("compose generated despite failed prerequisites")
		}
	})

	t.Run("held by own server", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.rt.Owners[8080] = prefix + "-domserver"
		d := f.deploy(model.InfraConfig{Port: 8080})
		d.PortCheck = func(int) error { return inUse }

		if res := operation.Run[DeployResult](context.Background(), d, f.env(false)); !res.OK() {
			t.Fatalf("Run() error = %v", res.Err)
		}
	})

	t.Run("docker unreachable", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.rt.ReadyErr = apperrors.Prerequisite("docker.ping", "Docker is not reachable", errors.New("no socket"))
		res := operation.Run[DeployResult](context.Background(), f.deploy(model.InfraConfig{Port: 1}), f.env(false))
		if res.FailedStep != StepValidate {
			t.Fatalf("FailedStep = %q", res.FailedStep)
		}
	})
}

func TestDeploy_DryRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := operation.Run[DeployResult](context.Background(), f.deploy(model.InfraConfig{Port: 80, Judges: 2}), f.env(true))
	if !res.OK() {
		t.Fatal(res.Err)
	}
	if len(f.rt.CallLog()) != 0 || len(f.compose.params) != 0 {
		t.Errorf("dry run touched collaborators: %v", f.rt.CallLog())
	}
	if len(res.Planned) != 10 || res.Planned[len(res.Planned)-2] != StepStartJudgehosts {
		t.Errorf("Planned = %v", res.Planned)
	}
	if _, err := os.Stat(f.store.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Error("dry run wrote the secrets file")
	}
}

func TestDeploy_InvalidConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := operation.Run[DeployResult](context.Background(), f.deploy(model.InfraConfig{Port: 1, Judges: -1}), f.env(true))
	if res.OK() || res.FailedStep != "validate" || !errors.Is(res.Err, apperrors.ErrValidation) {
		t.Errorf("result = %+v", res)
	}
}

func TestDestroy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		removeVolumes bool
		wantCalls     []string
		wantMessage   string
	}{
		{"preserve volumes", false, []string{"down"}, "All containers stopped • Volumes preserved"},
		{"delete volumes", true, []string{"down", "down -v"}, "All containers stopped • Volumes deleted permanently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			if err := f.store.Set(secrets.AdminPassword, "keep"); err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(f.dir, "docker-compose.yml")
			if err := os.WriteFile(path, []byte("services: {}\n"), 0o600); err != nil {
				t.Fatal(err)
			}

			d := &Destroy{Runtime: f.rt, ComposePath: path, RemoveVolumes: tt.removeVolumes}
			res := operation.Run[DestroyResult](context.Background(), d, f.env(false))
			if !res.OK() {
				t.Fatal(res.Err)
			}
			if got := f.rt.CallLog(); !reflect.DeepEqual(got, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", got, tt.wantCalls)
			}
			if res.Message != tt.wantMessage || res.Value.VolumesRemoved != tt.removeVolumes {
				t.Errorf("result = %+v", res)
			}
			_, kept := f.store.Get(secrets.AdminPassword)
			if kept == tt.removeVolumes {
				t.Errorf("secrets kept = %v with removeVolumes = %v", kept, tt.removeVolumes)
			}
		})
	}
}

func TestDestroy_DryRunAndMissingCompose(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	path := filepath.Join(f.dir, "docker-compose.yml")

	res := operation.Run[DestroyResult](context.Background(), &Destroy{Runtime: f.rt, ComposePath: path}, f.env(false))
	if res.OK() || !errors.Is(res.Err, apperrors.ErrPrerequisite) {
		t.Fatalf("expected prerequisite error, got %+v", res)
	}

	if err := os.WriteFile(path, []byte("services: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res = operation.Run[DestroyResult](context.Background(), &Destroy{Runtime: f.rt, ComposePath: path, RemoveVolumes: true}, f.env(true))
	if !res.OK() || !reflect.DeepEqual(res.Planned, []string{StepStopContainers, StepRemoveVolumes}) {
		t.Errorf("dry run result = %+v", res)
	}
	if len(f.rt.CallLog()) != 0 {
		t.Errorf("dry run called runtime: %v", f.rt.CallLog())
	}
}

func TestBuildPlan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	path := filepath.Join(f.dir, "docker-compose.yml")
	if err := compose.Write(path, compose.Params{Prefix: prefix, Port: 1, Judges: 3}); err != nil {
		t.Fatal(err)
	}
	f.rt.States[prefix+"-domserver"] = runtime.ContainerState{Exists: true, Status: "running", Health: "healthy"}
	f.rt.States[prefix+"-mariadb"] = runtime.ContainerState{Exists: true, Status: "running", Health: "healthy"}
	f.rt.States[prefix+"-judgehost-3"] = runtime.ContainerState{Exists: true, Status: "running"}

	d := f.deploy(model.InfraConfig{Port: 1, Judges: 1})
	d.ComposePath = path
	plan := BuildPlan(context.Background(), d, f.env(false), health.NewChecker(f.rt))

	actions := map[string]string{}
	for _, c := range plan.Changes {
		actions[c.Service] = c.Action
	}
	want := map[string]string{
		"mariadb":      ActionKeep,
		"domserver":    ActionKeep,
		"mysql-client": ActionStart,
		"judgehost-1":  ActionStart,
		"judgehost-3":  ActionRemove,
	}
	if !reflect.DeepEqual(actions, want) {
		t.Errorf("actions = %v, want %v", actions, want)
	}
	if len(plan.Steps) != 10 || len(plan.Warnings) != 0 {
		t.Errorf("plan = %+v", plan)
	}
	for _, c := range f.rt.CallLog() {
		if strings.HasPrefix(c, "up") || strings.HasPrefix(c, "down") || strings.HasPrefix(c, "exec") {
			t.Errorf("plan mutated state: %q", c)
		}
	}
	if s := plan.Summary(); !strings.Contains(s, "Start: 2") || !strings.Contains(s, "- judgehost-3 (healthy)") {
		t.Errorf("Summary() = %q", s)
	}
}

func TestSecretParsing(t *testing.T) {
	t.Parallel()
	if pw, err := parseJudgePassword(restAPISecret); err != nil || pw != "judgesecret" {
		t.Errorf("parseJudgePassword() = %q, %v", pw, err)
	}
	if _, err := parseJudgePassword("only two"); err == nil {
		t.Error("expected parse error")
	}
	if pw, err := parseAdminPassword("  abc123 \n"); err != nil || pw != "abc123" {
		t.Errorf("parseAdminPassword() = %q, %v", pw, err)
	}
	if _, err := parseAdminPassword("two words"); err == nil {
		t.Error("expected parse error for two tokens")
	}
}

func TestEscapeSQL(t *testing.T) {
	t.Parallel()
	if got := escapeSQL(`a'b\c`); got != `a''b\\c` {
		t.Errorf("escapeSQL() = %q", got)
	}
	sql := adminPasswordSQL("$2a$10$x")
	if sql != "UPDATE domjudge.user SET password = '$2a$10$x' WHERE username = 'admin';" {
		t.Errorf("adminPasswordSQL() = %q", sql)
	}
}

func TestHashPassword(t *testing.T) {
	t.Parallel()
	h, err := hashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(h, "$2") || len(h) != 60 {
		t.Errorf("hash = %q", h)
	}
}
