package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type fileUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// FileStore keeps bcrypt hashes in a JSON object keyed by username.
type FileStore struct {
	path string
	cost int
	mu   sync.Mutex
}

func NewFileStore(path string, cost int) *FileStore {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &FileStore{path: path, cost: cost}
}

func (s *FileStore) VerifyCredentials(_ context.Context, username, password string) (bool, error) {
	s.mu.Lock()
	users, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	u, ok := users[username]
	if !ok {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FileStore) CreateAccount(_ context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := users[username]; ok {
		return ErrAccountExists
	}
	users[username] = fileUser{Username: username, Password: string(hash)}
	return s.save(users)
}

func (s *FileStore) load() (map[string]fileUser, error) {
	users := make(map[string]fileUser)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return users, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	if len(data) == 0 {
		return users, nil
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	return users, nil
}

// save replaces the users file via a temp file and rename.
func (s *FileStore) save(users map[string]fileUser) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write users file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
