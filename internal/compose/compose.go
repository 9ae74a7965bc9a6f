// Package compose renders and reads the docker compose file of a platform
// deployment.
package compose

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"domctl/internal/apperrors"

	"github.com/go-yaml/yaml"
	"github.com/moby/sys/atomicwriter"
)

// Service names.
const (
	ServiceDatabase    = "mariadb"
	ServiceClient      = "mysql-client"
	ServiceServer      = "domserver"
	judgehostPrefix    = "judgehost-"
	DatabaseName       = "domjudge"
	DatabaseUser       = "domjudge"
	PlaceholderSecret  = "TEMP"
	serverInternalPort = 80
)

// Images used by the rendered services.
var (
	DatabaseImage  = "mariadb:11.4"
	ServerImage    = "domjudge/domserver:8.3.1"
	JudgehostImage = "domjudge/judgehost:8.3.1"
)

// File is the subset of the compose specification the platform uses.
type File struct {
	Name     string              `yaml:"name,omitempty"`
	Services map[string]Service  `yaml:"services"`
	Volumes  map[string]struct{} `yaml:"volumes,omitempty"`
}

// Service is one compose service.
type Service struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name,omitempty"`
	Hostname      string            `yaml:"hostname,omitempty"`
	Restart       string            `yaml:"restart,omitempty"`
	Entrypoint    []string          `yaml:"entrypoint,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	DependsOn     []string          `yaml:"depends_on,omitempty"`
	Privileged    bool              `yaml:"privileged,omitempty"`
	Healthcheck   *Healthcheck      `yaml:"healthcheck,omitempty"`
}

// Healthcheck is a compose health check definition.
type Healthcheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	StartPeriod string   `yaml:"start_period,omitempty"`
}

// Params are the values a compose file is rendered from.
type Params struct {
	Prefix        string
	Port          int
	Judges        int
	JudgePassword string
	DBPassword    string
}

// JudgehostService returns the service name of the n-th worker (1-based).
func JudgehostService(n int) string {
	return judgehostPrefix + strconv.Itoa(n)
}

// JudgehostServices returns worker service names 1..n.
func JudgehostServices(n int) []string {
	names := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		names = append(names, JudgehostService(i))
	}
	return names
}

// Render builds the compose file for the given parameters.
func Render(p Params) *File {
	name := func(svc string) string { return p.Prefix + "-" + svc }
	dataVolume := p.Prefix + "-mariadb-data"

	f := &File{
		Name:     p.Prefix,
		Services: map[string]Service{},
		Volumes:  map[string]struct{}{dataVolume: {}},
	}

	f.Services[ServiceDatabase] = Service{
		Image:         DatabaseImage,
		ContainerName: name(ServiceDatabase),
		Restart:       "unless-stopped",
		Command:       []string{"--max-connections=1000", "--max-allowed-packet=512M"},
		Environment: map[string]string{
			"MYSQL_ROOT_PASSWORD": p.DBPassword,
			"MYSQL_USER":          DatabaseUser,
			"MYSQL_PASSWORD":      p.DBPassword,
			"MYSQL_DATABASE":      DatabaseName,
		},
		Volumes: []string{dataVolume + ":/var/lib/mysql"},
		Healthcheck: &Healthcheck{
			Test:     []string{"CMD", "healthcheck.sh", "--connect", "--innodb_initialized"},
			Interval: "5s",
			Timeout:  "5s",
			Retries:  20,
		},
	}

	f.Services[ServiceClient] = Service{
		Image:         DatabaseImage,
		ContainerName: name(ServiceClient),
		Restart:       "unless-stopped",
		Entrypoint:    []string{"sleep", "infinity"},
		DependsOn:     []string{ServiceDatabase},
	}

	f.Services[ServiceServer] = Service{
		Image:         ServerImage,
		ContainerName: name(ServiceServer),
		Restart:       "unless-stopped",
		Environment: map[string]string{
			"MYSQL_HOST":          name(ServiceDatabase),
			"MYSQL_USER":          DatabaseUser,
			"MYSQL_DATABASE":      DatabaseName,
			"MYSQL_PASSWORD":      p.DBPassword,
			"MYSQL_ROOT_PASSWORD": p.DBPassword,
			"CONTAINER_TIMEZONE":  "UTC",
		},
		Ports:     []string{fmt.Sprintf("%d:%d", p.Port, serverInternalPort)},
		DependsOn: []string{ServiceDatabase},
		Healthcheck: &Healthcheck{
			Test:        []string{"CMD-SHELL", "curl -fs http://localhost/public > /dev/null || exit 1"},
			Interval:    "5s",
			Timeout:     "5s",
			Retries:     30,
			StartPeriod: "30s",
		},
	}

	for i := 1; i <= p.Judges; i++ {
		svc := JudgehostService(i)
		f.Services[svc] = Service{
			Image:         JudgehostImage,
			ContainerName: name(svc),
			Hostname:      svc,
			Restart:       "unless-stopped",
			Privileged:    true,
			Environment: map[string]string{
				"DAEMON_ID":            strconv.Itoa(i - 1),
				"JUDGEDAEMON_PASSWORD": p.JudgePassword,
				"DOMSERVER_BASEURL":    fmt.Sprintf("http://%s/", name(ServiceServer)),
				"CONTAINER_TIMEZONE":   "UTC",
			},
			Volumes:   []string{"/sys/fs/cgroup:/sys/fs/cgroup"},
			DependsOn: []string{ServiceServer},
		}
	}
	return f
}

// Marshal encodes the compose file as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// ServiceNames returns the services in sorted order.
func (f *File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for n := range f.Services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ContainerName returns the container name of a service, defaulting to the
// service name when the file does not set one.
func (f *File) ContainerName(service string) string {
	if svc, ok := f.Services[service]; ok && svc.ContainerName != "" {
		return svc.ContainerName
	}
	return service
}

// Write renders p and writes it atomically to path.
func Write(path string, p Params) error {
	data, err := Render(p).Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode compose file: %w", err)
	}
	if err := atomicwriter.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write compose file: %w", err)
	}
	return nil
}

// Read parses a compose file written by Write. A missing file returns
// apperrors.ErrNotFound.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.NotFound("compose file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Config("compose", fmt.Sprintf("invalid compose file %s: %v", path, err))
	}
	return &f, nil
}

// Writer writes compose files to a fixed path.
type Writer struct {
	Path string
}

// Generate renders and writes the compose file.
func (w Writer) Generate(p Params) error {
	return Write(w.Path, p)
}
