package whatsapp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AuthStore owns the per-session credential directories under one root.
// Their layout is up to each provider.
type AuthStore struct {
	root string
}

func NewAuthStore(root string) *AuthStore {
	return &AuthStore{root: root}
}

func (s *AuthStore) Root() string { return s.root }

// Dir returns the namespace directory for sessionID without creating it.
func (s *AuthStore) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// Ensure creates the namespace directory for sessionID.
func (s *AuthStore) Ensure(sessionID string) (string, error) {
	if err := validSessionID(sessionID); err != nil {
		return "", err
	}
	dir := s.Dir(sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create auth dir: %w", err)
	}
	return dir, nil
}

func (s *AuthStore) Exists(sessionID string) bool {
	info, err := os.Stat(s.Dir(sessionID))
	return err == nil && info.IsDir()
}

// Remove deletes the namespace recursively. A missing directory is not an error.
func (s *AuthStore) Remove(sessionID string) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.Dir(sessionID)); err != nil {
		return fmt.Errorf("remove auth dir: %w", err)
	}
	return nil
}

// List returns the session ids that have a namespace directory. A missing
// root yields an empty list.
func (s *AuthStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list auth dirs: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func validSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	return nil
}
