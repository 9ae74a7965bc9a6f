// Package infra deploys, destroys and previews the judging platform's
// containers through the operation step runner.
package infra

import (
	"context"
	"fmt"
	"time"

	"domctl/internal/apperrors"
	"domctl/internal/compose"
	"domctl/internal/model"
	"domctl/internal/operation"
	"domctl/internal/runtime"
	"domctl/internal/secrets"
)

// Step names of the deployment, in execution order.
const (
	StepValidate          = "validate_prerequisites"
	StepGenerateCompose   = "generate_compose"
	StepStartDatabase     = "start_database"
	StepStartClient       = "start_mysql_client"
	StepStartServer       = "start_domserver"
	StepWaitHealthy       = "wait_healthy"
	StepFetchPassword     = "fetch_password"
	StepRegenerateCompose = "regenerate_compose"
	StepStartJudgehosts   = "start_judgehosts"
	StepConfigureAdmin    = "configure_admin"
)

// Defaults for the health wait.
const (
	DefaultHealthTimeout  = 60 * time.Second
	DefaultHealthInterval = 2 * time.Second
)

// ComposeGenerator renders the compose file. compose.Writer implements it.
type ComposeGenerator interface {
	Generate(p compose.Params) error
}

// DeployResult describes a running platform.
type DeployResult struct {
	URL    string `json:"url"`
	Port   int    `json:"port"`
	Judges int    `json:"judges"`
	Prefix string `json:"prefix"`
}

// Deploy is the two-phase platform bring-up.
type Deploy struct {
	Config         model.InfraConfig
	Runtime        runtime.Runtime
	Compose        ComposeGenerator
	ComposePath    string
	Prefix         string
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	// PortCheck tests whether the host port can be bound. Defaults to a TCP listen probe.
	PortCheck func(port int) error
}

// Describe implements operation.Operation.
func (d *Deploy) Describe() string { return "Deploy infrastructure" }

// Validate implements operation.Operation.
func (d *Deploy) Validate(env *operation.Env) error {
	if d.Runtime == nil || d.Compose == nil {
		return apperrors.Validation("deploy", "container runtime and compose generator are required")
	}
	if d.Prefix == "" {
		return apperrors.Validation("deploy", "container prefix is required")
	}
	if env.Secrets == nil {
		return apperrors.Validation("deploy", "secrets store is required")
	}
	if d.Config.Port < model.MinPort || d.Config.Port > model.MaxPort {
		return apperrors.Validation("infra.port", fmt.Sprintf("port must be between %d and %d", model.MinPort, model.MaxPort))
	}
	if d.Config.Judges < 0 {
		return apperrors.Validation("infra.judges", "judges must be >= 0")
	}
	return nil
}

// Steps implements operation.Operation.
func (d *Deploy) Steps() []operation.Step {
	return []operation.Step{
		&validateStep{BaseStep: base(StepValidate, "Checking prerequisites"), d: d},
		&composeStep{BaseStep: base(StepGenerateCompose, "Generating compose file"), d: d, placeholder: true},
		&startStep{BaseStep: base(StepStartDatabase, "Starting database"), d: d, services: []string{compose.ServiceDatabase}},
		&startStep{BaseStep: base(StepStartClient, "Starting database client"), d: d, services: []string{compose.ServiceClient}},
		&startStep{BaseStep: base(StepStartServer, "Starting application server"), d: d, services: []string{compose.ServiceServer}},
		&waitHealthyStep{BaseStep: base(StepWaitHealthy, "Waiting for application server to become healthy"), d: d},
		&fetchPasswordStep{BaseStep: base(StepFetchPassword, "Fetching judgedaemon password"), d: d},
		&composeStep{BaseStep: base(StepRegenerateCompose, "Regenerating compose file with judgedaemon password"), d: d},
		&judgehostsStep{BaseStep: base(StepStartJudgehosts, fmt.Sprintf("Starting %d judgehost(s)", d.Config.Judges)), d: d},
		&adminStep{BaseStep: base(StepConfigureAdmin, "Configuring admin password"), d: d},
	}
}

// BuildResult implements operation.Operation.
func (d *Deploy) BuildResult(*operation.Env) (DeployResult, string) {
	res := DeployResult{
		URL:    fmt.Sprintf("http://0.0.0.0:%d", d.Config.Port),
		Port:   d.Config.Port,
		Judges: d.Config.Judges,
		Prefix: d.Prefix,
	}
	return res, fmt.Sprintf("Infrastructure ready at %s • %d judgehost(s) running", res.URL, res.Judges)
}

func (d *Deploy) container(service string) string {
	return d.Prefix + "-" + service
}

func (d *Deploy) params(env *operation.Env, judgePassword string) (compose.Params, error) {
	db, err := env.Secrets.GenerateAndStore(secrets.DBPassword, secrets.DefaultLength)
	if err != nil {
		return compose.Params{}, fmt.Errorf("failed to obtain database password: %w", err)
	}
	return compose.Params{
		Prefix:        d.Prefix,
		Port:          d.Config.Port,
		Judges:        d.Config.Judges,
		JudgePassword: judgePassword,
		DBPassword:    db,
	}, nil
}

func base(name, desc string) operation.BaseStep {
	return operation.BaseStep{StepName: name, Desc: desc}
}

type validateStep struct {
	operation.BaseStep
	d *Deploy
}

func (s *validateStep) Validate(env *operation.Env) error {
	if s.d.Config.Privileged() {
		env.Logger.Warn("Port is privileged and may require elevated rights", "port", s.d.Config.Port)
	}
	return nil
}

func (s *validateStep) Run(ctx context.Context, env *operation.Env) (any, error) {
	if err := s.d.Runtime.Ready(ctx); err != nil {
		return nil, err
	}
	if s.d.Config.Privileged() {
		env.Logger.Warn("Port is privileged and may require elevated rights", "port", s.d.Config.Port)
	}
	if err := checkPort(ctx, s.d, env); err != nil {
		return nil, err
	}
	return s.d.Config.Port, nil
}

type composeStep struct {
	operation.BaseStep
	d           *Deploy
	placeholder bool
}

func (s *composeStep) Run(_ context.Context, env *operation.Env) (any, error) {
	judge := compose.PlaceholderSecret
	if !s.placeholder {
		pw, ok := operation.ResultAs[string](env, StepFetchPassword)
		if !ok {
			var err error
			if pw, err = env.Secrets.GetRequired(secrets.JudgePassword); err != nil {
				return nil, err
			}
		}
		judge = pw
	}

	p, err := s.d.params(env, judge)
	if err != nil {
		return nil, err
	}
	if err := s.d.Compose.Generate(p); err != nil {
		return nil, apperrors.Runtime("compose.generate", err)
	}
	env.Logger.Info("Compose file generated", "path", s.d.ComposePath, "prefix", s.d.Prefix, "placeholder", s.placeholder)
	return s.d.ComposePath, nil
}

type startStep struct {
	operation.BaseStep
	d        *Deploy
	services []string
}

func (s *startStep) Run(ctx context.Context, _ *operation.Env) (any, error) {
	if err := s.d.Runtime.Up(ctx, s.d.ComposePath, s.services...); err != nil {
		return nil, err
	}
	return s.services, nil
}

type waitHealthyStep struct {
	operation.BaseStep
	d *Deploy
}

func (s *waitHealthyStep) Run(ctx context.Context, _ *operation.Env) (any, error) {
	timeout := s.d.HealthTimeout
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	interval := s.d.HealthInterval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	name := s.d.container(compose.ServiceServer)
	if err := runtime.WaitHealthy(ctx, s.d.Runtime, name, timeout, interval); err != nil {
		return nil, err
	}
	return name, nil
}

type fetchPasswordStep struct {
	operation.BaseStep
	d *Deploy
}

func (s *fetchPasswordStep) Run(ctx context.Context, env *operation.Env) (any, error) {
	out, err := s.d.Runtime.Exec(ctx, s.d.container(compose.ServiceServer), nil, "cat", restAPISecretPath)
	if err != nil {
		return nil, err
	}
	pw, err := parseJudgePassword(out)
	if err != nil {
		return nil, apperrors.Runtime("fetch_password", err)
	}
	if err := env.Secrets.Set(secrets.JudgePassword, pw); err != nil {
		return nil, err
	}
	return pw, nil
}

type judgehostsStep struct {
	operation.BaseStep
	d *Deploy
}

func (s *judgehostsStep) ShouldRun(*operation.Env) bool { return s.d.Config.Judges > 0 }

func (s *judgehostsStep) Run(ctx context.Context, _ *operation.Env) (any, error) {
	services := compose.JudgehostServices(s.d.Config.Judges)
	if err := s.d.Runtime.Up(ctx, s.d.ComposePath, services...); err != nil {
		return nil, err
	}
	return services, nil
}

type adminStep struct {
	operation.BaseStep
	d *Deploy
}

func (s *adminStep) Run(ctx context.Context, env *operation.Env) (any, error) {
	password, source, err := s.resolve(ctx, env)
	if err != nil {
		return nil, err
	}
	env.Logger.Debug("Resolved admin password", "source", source)

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	db, err := env.Secrets.GetRequired(secrets.DBPassword)
	if err != nil {
		return nil, err
	}

	_, err = s.d.Runtime.Exec(ctx, s.d.container(compose.ServiceClient),
		[]string{"MYSQL_PWD=" + db},
		"mysql", "-h", s.d.container(compose.ServiceDatabase), "-u", compose.DatabaseUser, compose.DatabaseName,
		"--execute", adminPasswordSQL(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to update admin password: %w", err)
	}

	if err := env.Secrets.Set(secrets.AdminPassword, password); err != nil {
		return nil, err
	}
	return source, nil
}

// resolve picks the admin password: configuration, then the persisted
// secret, then the bootstrap password generated by the server.
func (s *adminStep) resolve(ctx context.Context, env *operation.Env) (string, string, error) {
	if s.d.Config.Password != "" {
		return s.d.Config.Password, "config", nil
	}
	if pw, ok := env.Secrets.Get(secrets.AdminPassword); ok && pw != "" {
		return pw, "secrets", nil
	}
	out, err := s.d.Runtime.Exec(ctx, s.d.container(compose.ServiceServer), nil, "cat", initialAdminPasswordPath)
	if err != nil {
		return "", "", err
	}
	pw, err := parseAdminPassword(out)
	if err != nil {
		return "", "", apperrors.Runtime("configure_admin", err)
	}
	return pw, "bootstrap", nil
}

// Verify Deploy implements operation.Operation
var _ operation.Operation[DeployResult] = (*Deploy)(nil)
