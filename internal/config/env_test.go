package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	if got := GetEnv("DOMCTL_TEST_NONEXISTENT", "default"); got != "default" {
		t.Errorf("Expected 'default', got %q", got)
	}

	t.Setenv("DOMCTL_TEST_GET_ENV", "custom")
	if got := GetEnv("DOMCTL_TEST_GET_ENV", "default"); got != "custom" {
		t.Errorf("Expected 'custom', got %q", got)
	}
}

func TestGetIntEnv(t *testing.T) {
	if got := GetIntEnv("DOMCTL_TEST_NONEXISTENT_INT", 42); got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}

	t.Setenv("DOMCTL_TEST_INT", "123")
	if got := GetIntEnv("DOMCTL_TEST_INT", 42); got != 123 {
		t.Errorf("Expected 123, got %d", got)
	}

	t.Setenv("DOMCTL_TEST_BAD_INT", "not-a-number")
	if got := GetIntEnv("DOMCTL_TEST_BAD_INT", 42); got != 42 {
		t.Errorf("Expected 42 for invalid int, got %d", got)
	}
}

func TestGetFloatEnv(t *testing.T) {
	t.Setenv("DOMCTL_TEST_FLOAT", "2.5")
	if got := GetFloatEnv("DOMCTL_TEST_FLOAT", 10); got != 2.5 {
		t.Errorf("Expected 2.5, got %v", got)
	}

	t.Setenv("DOMCTL_TEST_NEG_FLOAT", "-1")
	if got := GetFloatEnv("DOMCTL_TEST_NEG_FLOAT", 10); got != 10 {
		t.Errorf("Expected default for non-positive rate, got %v", got)
	}
}

func TestGetDurationEnv(t *testing.T) {
	def := 5 * time.Second
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", def},
		{"30s", 30 * time.Second},
		{"100ms", 100 * time.Millisecond},
		{"90", 90 * time.Second},
		{"not-a-duration", def},
	}

	for _, tt := range tests {
		t.Setenv("DOMCTL_TEST_DURATION", tt.value)
		if got := GetDurationEnv("DOMCTL_TEST_DURATION", def); got != tt.want {
			t.Errorf("GetDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetSecretFile(t *testing.T) {
	if got := GetSecretFile(""); got != "" {
		t.Errorf("Expected empty string for empty path, got %q", got)
	}
	if got := GetSecretFile("/nonexistent/path/to/secret"); got != "" {
		t.Errorf("Expected empty string for nonexistent file, got %q", got)
	}

	path := filepath.Join(t.TempDir(), "admin")
	if err := os.WriteFile(path, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := GetSecretFile(path); got != "s3cret" {
		t.Errorf("Expected 's3cret', got %q", got)
	}
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("DOMCTL_HEALTH_TIMEOUT", "2m")
	t.Setenv("DOMCTL_API_BURST", "7")
	path := filepath.Join(t.TempDir(), "admin")
	if err := os.WriteFile(path, []byte("from-file"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOMCTL_ADMIN_PASSWORD_FILE", path)

	s := LoadSettings()
	if s.HealthTimeout != 2*time.Minute {
		t.Errorf("HealthTimeout = %v, want 2m", s.HealthTimeout)
	}
	if s.HealthInterval != 2*time.Second {
		t.Errorf("HealthInterval = %v, want default 2s", s.HealthInterval)
	}
	if s.APIBurst != 7 || s.APIRate != 10 {
		t.Errorf("rate settings = %v/%d", s.APIRate, s.APIBurst)
	}
	if s.AdminPassword() != "from-file" {
		t.Errorf("AdminPassword() = %q", s.AdminPassword())
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(filepath.Join(dir, ".env")); err != nil {
		t.Errorf("missing .env must not fail, got %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DOMCTL_TEST_DOTENV=loaded\nDOMCTL_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOMCTL_TEST_DOTENV", "")
	os.Unsetenv("DOMCTL_TEST_DOTENV")
	t.Setenv("DOMCTL_TEST_PRESET", "env")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("DOMCTL_TEST_DOTENV"); got != "loaded" {
		t.Errorf("DOMCTL_TEST_DOTENV = %q, want loaded", got)
	}
	if got := os.Getenv("DOMCTL_TEST_PRESET"); got != "env" {
		t.Errorf("existing variable was overridden: %q", got)
	}
}
