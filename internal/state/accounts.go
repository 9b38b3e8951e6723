// internal/state/accounts.go
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAccountExists   = errors.New("username or email already taken")
	ErrBadCredentials  = errors.New("invalid identifier or password")
	ErrAccountNotFound = errors.New("account not found")
)

// Account is a registered user of the development store service.
type Account struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Token        string    `json:"token"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountStore is a JSON-file-backed account index stored in accounts.json.
type AccountStore struct {
	root string
	mu   sync.RWMutex
}

// NewAccountStore creates a new file-backed AccountStore rooted at the given directory.
func NewAccountStore(root string) *AccountStore {
	return &AccountStore{root: root}
}

func (s *AccountStore) indexPath() string {
	return filepath.Join(s.root, "accounts.json")
}

// load reads accounts.json and returns a map keyed by username.
func (s *AccountStore) load() (map[string]*Account, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Account), nil
		}
		return nil, fmt.Errorf("read account index: %w", err)
	}

	var accounts []*Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("unmarshal account index: %w", err)
	}

	index := make(map[string]*Account, len(accounts))
	for _, acc := range accounts {
		index[acc.Username] = acc
	}
	return index, nil
}

// save writes the index atomically.
func (s *AccountStore) save(index map[string]*Account) error {
	accounts := make([]*Account, 0, len(index))
	for _, acc := range index {
		accounts = append(accounts, acc)
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal account index: %w", err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// Register creates an account and issues its bearer token.
func (s *AccountStore) Register(username, email, password string) (*Account, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, acc := range index {
		if acc.Username == username || (email != "" && strings.EqualFold(acc.Email, email)) {
			return nil, ErrAccountExists
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acc := &Account{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Token:        uuid.New().String(),
		CreatedAt:    time.Now(),
	}
	index[username] = acc
	if err := s.save(index); err != nil {
		return nil, err
	}
	return acc, nil
}

// Authenticate checks a username-or-email and password pair.
func (s *AccountStore) Authenticate(identifier, password string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, acc := range index {
		if acc.Username != identifier && !strings.EqualFold(acc.Email, identifier) {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
			return nil, ErrBadCredentials
		}
		return acc, nil
	}
	return nil, ErrBadCredentials
}

// ByToken resolves a bearer token to its account.
func (s *AccountStore) ByToken(token string) (*Account, error) {
	if token == "" {
		return nil, ErrAccountNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, acc := range index {
		if acc.Token == token {
			return acc, nil
		}
	}
	return nil, ErrAccountNotFound
}
