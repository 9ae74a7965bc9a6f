package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"domctl/internal/apperrors"
	"domctl/internal/config"
	"domctl/internal/domjudge"
	"domctl/internal/model"
	"domctl/internal/observability"
	"domctl/internal/operation"
	"domctl/internal/problem"
	"domctl/internal/runtime"
	"domctl/internal/runtime/docker"
	"domctl/internal/secrets"
	"domctl/internal/workspace"
	"domctl/pkg/circuitbreaker"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
)

// session is the per-invocation wiring shared by every command.
type session struct {
	settings *config.Settings
	ws       *workspace.Workspace
	logger   *slog.Logger
	logFile  *os.File
	metrics  *observability.Metrics
	out      io.Writer
	dryRun   bool

	store   *secrets.Store
	runtime *docker.Runtime
	unlock  func()
}

func newSession(ctx context.Context, cmd *cli.Command) (*session, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, apperrors.Config(".env", fmt.Sprintf("failed to load .env: %v", err))
	}
	settings := config.LoadSettings()

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	ws, err := workspace.New(cwd)
	if err != nil {
		return nil, err
	}
	if err := ws.Ensure(); err != nil {
		return nil, err
	}

	s := &session{settings: settings, ws: ws, out: color.Output, dryRun: cmd.Bool("dry-run")}

	level := observability.ParseLevel(settings.LogLevel)
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	opts := observability.LogOptions{Level: level, NoColor: color.NoColor}
	if f, err := observability.OpenLogFile(ws.LogPath()); err == nil {
		s.logFile = f
		opts.File = f
	}
	logger, runID := observability.NewLogger(opts)
	slog.SetDefault(logger)
	s.logger = logger
	if s.logFile == nil {
		logger.Warn("Log file unavailable, logging to console only", "path", ws.LogPath())
	}
	logger.Debug("Starting command", "command", cmd.FullName(), "run_id", runID, "workspace", ws.Dir())

	if s.metrics, err = observability.NewMetrics(ctx); err != nil {
		logger.Warn("Metrics disabled", "error", err)
		s.metrics = nil
	}
	return s, nil
}

// Close flushes metrics and releases everything the session opened.
func (s *session) Close() {
	if s.unlock != nil {
		s.unlock()
	}
	if s.runtime != nil {
		_ = s.runtime.Close()
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metrics.Close(ctx, s.metricsPath()); err != nil {
			s.logger.Warn("Failed to write metrics", "error", err)
		}
	}
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
}

func (s *session) metricsPath() string {
	if s.settings.MetricsFile != "" {
		return s.settings.MetricsFile
	}
	return s.ws.MetricsPath()
}

// lock takes the workspace lock for a mutating command. Dry runs do not lock.
func (s *session) lock() error {
	if s.dryRun {
		return nil
	}
	unlock, err := s.ws.Lock()
	if err != nil {
		return err
	}
	s.unlock = unlock
	return nil
}

func (s *session) secrets() (*secrets.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	store, err := secrets.Open(s.ws.SecretsPath())
	if err != nil {
		return nil, err
	}
	s.store = store
	return store, nil
}

// env builds the step runner context.
func (s *session) env() (*operation.Env, error) {
	store, err := s.secrets()
	if err != nil {
		return nil, err
	}
	env := operation.NewEnv(store, s.dryRun, s.logger)
	if s.metrics != nil {
		env.Metrics = s.metrics
	}
	return env, nil
}

// dockerRuntime connects to the Docker daemon. A nil runtime with a nil
// error is never returned.
func (s *session) dockerRuntime() (runtime.Runtime, error) {
	if s.runtime != nil {
		return s.runtime, nil
	}
	rt, err := docker.New(docker.Config{})
	if err != nil {
		return nil, err
	}
	s.runtime = rt
	return rt, nil
}

// configPath resolves --file or the default configuration file.
func (s *session) configPath(cmd *cli.Command) (string, error) {
	return config.FindFile(s.ws.Root(), cmd.String("file"))
}

func (s *session) loadInfra(cmd *cli.Command) (model.InfraConfig, error) {
	path, err := s.configPath(cmd)
	if err != nil {
		return model.InfraConfig{}, err
	}
	cfg, err := config.LoadInfra(path)
	if err != nil {
		return cfg, err
	}
	if cfg.Password == "" {
		cfg.Password = s.settings.AdminPassword()
	}
	return cfg, nil
}

func (s *session) loadConfig(ctx context.Context, cmd *cli.Command) (*model.Config, error) {
	path, err := s.configPath(cmd)
	if err != nil {
		return nil, err
	}
	store, err := s.secrets()
	if err != nil {
		return nil, err
	}
	loader := &config.Loader{
		Problems:  &problem.Loader{Converter: problem.CommandConverter{Binary: s.settings.PolygonConverter}},
		Passwords: store,
	}
	return loader.Load(ctx, path)
}

// apiPassword picks the admin password for the API: the one persisted by
// the last deployment, then the configured one.
func apiPassword(store *secrets.Store, infra model.InfraConfig, settings *config.Settings) string {
	if store != nil {
		if pw, ok := store.Get(secrets.AdminPassword); ok && pw != "" {
			return pw
		}
	}
	if infra.Password != "" {
		return infra.Password
	}
	return settings.AdminPassword()
}

func apiURL(infra model.InfraConfig, settings *config.Settings) string {
	if settings.APIURL != "" {
		return settings.APIURL
	}
	return fmt.Sprintf("http://localhost:%d", infra.Port)
}

// apiClient builds the DOMjudge client. It fails with a prerequisite error
// when no admin password is known yet.
func (s *session) apiClient(cfg *model.Config) (*domjudge.Client, error) {
	store, err := s.secrets()
	if err != nil {
		return nil, err
	}
	password := apiPassword(store, cfg.Infra, s.settings)
	if password == "" {
		return nil, apperrors.Prerequisite("api",
			"No admin password available. Run 'domctl infra apply' first or set infra.password", nil)
	}
	opts := domjudge.Options{
		BaseURL:  apiURL(cfg.Infra, s.settings),
		Password: password,
		Timeout:  s.settings.APITimeout,
		Rate:     s.settings.APIRate,
		Burst:    s.settings.APIBurst,
		Retries:  s.settings.APIRetries,
		CacheTTL: s.settings.CacheTTL,
		Breakers: circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		Logger:   s.logger,
	}
	if s.metrics != nil {
		opts.Metrics = s.metrics
	}
	return domjudge.New(opts)
}

// finish prints the outcome line of an operation.
func (s *session) finish(err error, message string) error {
	if err != nil {
		fmt.Fprintln(s.out, color.RedString("✗ %s", message))
		fmt.Fprintln(s.out, color.RedString("  %v", err))
		if s.logFile != nil {
			fmt.Fprintf(s.out, "  See %s for details\n", s.ws.LogPath())
		}
		return fmt.Errorf("%w: %w", errReported, err)
	}
	fmt.Fprintln(s.out, color.GreenString("✓ %s", message))
	return nil
}

func (s *session) warn(format string, args ...any) {
	fmt.Fprintln(s.out, color.YellowString("⚠ "+format, args...))
}
