// Package workspace locates the scoped working directory that holds the
// generated compose file, the secrets file, logs and metrics for one project.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"domctl/internal/apperrors"
)

// DirName is the scoped directory created inside the invocation's working directory.
const DirName = ".dom"

const (
	composeFile = "docker-compose.yml"
	secretsFile = "secrets.json"
	logFile     = "domctl.log"
	metricsFile = "metrics.prom"
	lockFile    = ".lock"
)

// Workspace is the scoped working directory of one project.
type Workspace struct {
	root string // absolute project directory
	dir  string // root/.dom
}

// New returns the workspace for the given project directory. The directory
// itself is created lazily by Ensure.
func New(projectDir string) (*Workspace, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	return &Workspace{root: abs, dir: filepath.Join(abs, DirName)}, nil
}

// Ensure creates the scoped directory if it does not exist.
func (w *Workspace) Ensure() error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", w.dir, err)
	}
	return nil
}

// Root returns the project directory.
func (w *Workspace) Root() string { return w.root }

// Dir returns the scoped directory.
func (w *Workspace) Dir() string { return w.dir }

// ComposePath returns the path of the generated compose file.
func (w *Workspace) ComposePath() string { return filepath.Join(w.dir, composeFile) }

// SecretsPath returns the path of the secrets file.
func (w *Workspace) SecretsPath() string { return filepath.Join(w.dir, secretsFile) }

// LogPath returns the path of the log file.
func (w *Workspace) LogPath() string { return filepath.Join(w.dir, logFile) }

// MetricsPath returns the path of the Prometheus textfile.
func (w *Workspace) MetricsPath() string { return filepath.Join(w.dir, metricsFile) }

// ContainerPrefix returns the per-project container name prefix, so several
// platforms can run side by side on one host.
func (w *Workspace) ContainerPrefix() string {
	sum := sha256.Sum256([]byte(w.root))
	return "domjudge-" + hex.EncodeToString(sum[:])[:6]
}

// ContainerName returns the container name of a compose service.
func (w *Workspace) ContainerName(service string) string {
	return w.ContainerPrefix() + "-" + service
}

// Lock takes the advisory lock of the workspace. Mutating commands hold it
// for their whole run; a second invocation fails instead of interleaving.
func (w *Workspace) Lock() (unlock func(), err error) {
	if err := w.Ensure(); err != nil {
		return nil, err
	}
	path := filepath.Join(w.dir, lockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			holder := "unknown"
			if data, readErr := os.ReadFile(path); readErr == nil {
				holder = strings.TrimSpace(string(data))
			}
			return nil, apperrors.Prerequisite("workspace.lock",
				fmt.Sprintf("another domctl run (pid %s) holds %s; remove it if that process is gone", holder, path), nil)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	_ = f.Close()

	return func() { _ = os.Remove(path) }, nil
}
