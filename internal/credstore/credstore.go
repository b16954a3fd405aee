package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nutrikit/client/internal/logging"
)

var log = logging.L("credstore")

// Well-known keys. The auto-login fallback reads the saved pair; the
// identity provider persists the session token between runs.
const (
	KeySavedEmail   = "saved_email"
	KeySavedSecret  = "saved_secret"
	KeySessionToken = "session_token"
)

// Store is a small file-backed key/value store for persisted credentials.
// The backing file is owner-readable only. All methods are safe for
// concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a store backed by a file in dir.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, "credentials.yaml")}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok && v != "", nil
}

// Set stores value under key, creating the backing file if needed.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	values[key] = value
	return s.write(values)
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.write(values)
}

// Clear removes every stored value. Used by sign-out.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

func (s *Store) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		// A corrupt credential file should route to the login screen,
		// not wedge the bootstrap.
		log.Warn("credential file is corrupt, treating as empty", "path", s.path, "error", err)
		return map[string]string{}, nil
	}
	return values, nil
}

func (s *Store) write(values map[string]string) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create credential dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
