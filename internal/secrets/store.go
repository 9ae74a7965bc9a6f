// Package secrets persists named string secrets for one workspace.
//
// The store is a single JSON file with 0600 permissions. Writes are atomic
// and immediately visible to every holder of the same *Store, so a secret
// fetched by one deployment step is readable by the next.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"sync"

	"domctl/internal/apperrors"

	"github.com/moby/sys/atomicwriter"
)

// Well-known keys written during deployment.
const (
	AdminPassword = "admin_password"
	DBPassword    = "db_password"
	JudgePassword = "judge_password"
)

// Password length policy.
const (
	DefaultLength = 16
	MinLength     = 8
	MaxLength     = 128
)

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	seedKey  = "seed"
)

type fileFormat struct {
	Seed    string            `json:"seed,omitempty"`
	Secrets map[string]string `json:"secrets"`
}

// Store is a file-backed key/value secret store.
type Store struct {
	mu      sync.Mutex
	path    string
	seed    string
	secrets map[string]string
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, secrets: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Config(path, fmt.Sprintf("corrupt secrets file: %v", err))
	}
	s.seed = f.Seed
	if f.Secrets != nil {
		s.secrets = f.Secrets
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns a secret and whether it exists.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.secrets[key]
	return v, ok
}

// GetRequired returns a secret or a not found error.
func (s *Store) GetRequired(key string) (string, error) {
	if v, ok := s.Get(key); ok && v != "" {
		return v, nil
	}
	return "", apperrors.NotFound("secret", key)
}

// Set stores a secret and persists the store.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = value
	return s.persistLocked()
}

// GenerateAndStore returns the stored secret for key, generating and
// persisting a random one of the given length on first use.
func (s *Store) GenerateAndStore(key string, length int) (string, error) {
	if err := checkLength(length); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.secrets[key]; ok && v != "" {
		return v, nil
	}
	v, err := randomString(length)
	if err != nil {
		return "", err
	}
	s.secrets[key] = v
	if err := s.persistLocked(); err != nil {
		return "", err
	}
	return v, nil
}

// DeterministicPassword derives a password from seed and the store's
// persisted seed material. The same inputs always give the same password.
func (s *Store) DeterministicPassword(seed string, length int) (string, error) {
	if err := checkLength(length); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seed == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate seed material: %w", err)
		}
		s.seed = hex.EncodeToString(buf)
		if err := s.persistLocked(); err != nil {
			return "", err
		}
	}
	return derive(s.seed, seed, length), nil
}

// Keys returns the stored secret names in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every secret, the seed material and the backing file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = make(map[string]string)
	s.seed = ""
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove secrets file: %w", err)
	}
	return nil
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(fileFormat{Seed: s.seed, Secrets: s.secrets}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}
	if err := atomicwriter.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

func checkLength(length int) error {
	if length < MinLength || length > MaxLength {
		return apperrors.Validation("length", fmt.Sprintf("password length must be between %d and %d, got %d", MinLength, MaxLength, length))
	}
	return nil
}

func randomString(length int) (string, error) {
	out := make([]byte, length)
	size := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate secret: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// derive expands HMAC-SHA256(material, seed) into length alphabet characters,
// rejecting bytes that would bias the distribution.
func derive(material, seed string, length int) string {
	limit := byte(256 - 256%len(alphabet))
	out := make([]byte, 0, length)
	var counter uint32
	for len(out) < length {
		mac := hmac.New(sha256.New, []byte(material))
		mac.Write([]byte(seedKey))
		mac.Write([]byte(seed))
		_ = binary.Write(mac, binary.BigEndian, counter)
		for _, b := range mac.Sum(nil) {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
		counter++
	}
	return string(out)
}
