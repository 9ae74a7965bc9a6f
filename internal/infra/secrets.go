package infra

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Files the application server writes on first boot.
const (
	restAPISecretPath        = "/opt/domjudge/domserver/etc/restapi.secret"
	initialAdminPasswordPath = "/opt/domjudge/domserver/etc/initial_admin_password.secret"
)

var (
	// restapi.secret lines look like "<id> <url> <user> <password>".
	judgePasswordPattern = regexp.MustCompile(`(?m)^\S+\s+\S+\s+\S+\s+(\S+)$`)
	adminPasswordPattern = regexp.MustCompile(`^\S+$`)
)

// parseJudgePassword extracts the worker secret from restapi.secret content.
func parseJudgePassword(output string) (string, error) {
	m := judgePasswordPattern.FindStringSubmatch(strings.TrimSpace(output))
	if m == nil {
		return "", errors.New("failed to parse judgedaemon password from restapi.secret")
	}
	return m[1], nil
}

// parseAdminPassword extracts the bootstrap admin password.
func parseAdminPassword(output string) (string, error) {
	pw := strings.TrimSpace(output)
	if !adminPasswordPattern.MatchString(pw) {
		return "", errors.New("failed to parse initial admin password")
	}
	return pw, nil
}

// hashPassword returns a bcrypt hash in the form the platform stores.
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin password: %w", err)
	}
	h := string(hash)
	if !strings.HasPrefix(h, "$2") || len(h) != 60 {
		return "", fmt.Errorf("unexpected bcrypt hash format (length %d)", len(h))
	}
	return h, nil
}

// escapeSQL quotes a value for a single-quoted MySQL string literal.
func escapeSQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `''`)
}

// adminPasswordSQL returns the statement that sets the admin password hash.
func adminPasswordSQL(hash string) string {
	return fmt.Sprintf("UPDATE domjudge.user SET password = '%s' WHERE username = 'admin';", escapeSQL(hash))
}
