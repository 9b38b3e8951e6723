// Package identity holds the authenticated user's name and bearer
// credential, and the client half of the login flow that produces them.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/mirrorchat/internal/types"
)

// Identity is read-only to the rest of the client once resolved.
type Identity struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Valid returns ErrAuth unless both the name and the credential are present.
func (i Identity) Valid() error {
	if i.Username == "" || i.Token == "" {
		return fmt.Errorf("%w: missing username or token", types.ErrAuth)
	}
	return nil
}

// CredentialStore remembers the last successful login in a JSON file.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Load returns the stored identity, or ErrAuth if nobody is logged in.
func (s *CredentialStore) Load() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, fmt.Errorf("%w: not logged in", types.ErrAuth)
		}
		return Identity{}, fmt.Errorf("read credentials: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if err := id.Valid(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Save writes the identity with owner-only permissions.
func (s *CredentialStore) Save(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename credentials: %w", err)
	}
	return nil
}

// Clear forgets the stored identity. Clearing twice is not an error.
func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// Resolve prefers an explicitly configured identity over the stored one.
func Resolve(username, token string, store *CredentialStore) (Identity, error) {
	if token != "" {
		id := Identity{Username: username, Token: token}
		return id, id.Valid()
	}
	return store.Load()
}
