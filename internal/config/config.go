// Package config loads process settings from the environment and the
// contest configuration file from disk.
package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Settings holds process-level tuning read from DOMCTL_* environment variables.
type Settings struct {
	HealthTimeout     time.Duration
	HealthInterval    time.Duration
	APIURL            string // overrides http://localhost:<port>
	APITimeout        time.Duration
	APIRate           float64
	APIBurst          int
	APIRetries        int
	CacheTTL          time.Duration
	LogLevel          string
	MetricsFile       string // empty uses the workspace default
	PolygonConverter  string
	AdminPasswordFile string // Docker/K8s style secret file with the admin password
}

// LoadDotEnv loads .env from dir when present. Variables already set in the
// environment win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

// LoadSettings reads settings from the environment.
func LoadSettings() *Settings {
	return &Settings{
		HealthTimeout:     GetDurationEnv("DOMCTL_HEALTH_TIMEOUT", 60*time.Second),
		HealthInterval:    GetDurationEnv("DOMCTL_HEALTH_INTERVAL", 2*time.Second),
		APIURL:            GetEnv("DOMCTL_API_URL", ""),
		APITimeout:        GetDurationEnv("DOMCTL_API_TIMEOUT", 30*time.Second),
		APIRate:           GetFloatEnv("DOMCTL_API_RATE", 10),
		APIBurst:          GetIntEnv("DOMCTL_API_BURST", 20),
		APIRetries:        GetIntEnv("DOMCTL_API_RETRIES", 5),
		CacheTTL:          GetDurationEnv("DOMCTL_CACHE_TTL", 300*time.Second),
		LogLevel:          GetEnv("DOMCTL_LOG_LEVEL", "info"),
		MetricsFile:       GetEnv("DOMCTL_METRICS_FILE", ""),
		PolygonConverter:  GetEnv("DOMCTL_POLYGON_CONVERTER", "p2d"),
		AdminPasswordFile: GetEnv("DOMCTL_ADMIN_PASSWORD_FILE", ""),
	}
}

// AdminPassword returns the admin password from AdminPasswordFile, if any.
func (s *Settings) AdminPassword() string {
	return GetSecretFile(s.AdminPasswordFile)
}
