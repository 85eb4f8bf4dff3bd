package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type PersistMode string

const (
	// PersistLocal keeps the token across restarts.
	PersistLocal PersistMode = "local"
	// PersistSession keeps it for the life of the process only.
	PersistSession PersistMode = "session"
)

type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenStore is one storage tier.
type TokenStore interface {
	Load() (Token, bool, error)
	Save(t Token) error
	Clear() error
}

// FileStore is the durable tier: a single JSON file readable only by the owner.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}

	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, false, err
	}
	return t, t.Value != "", nil
}

func (s *FileStore) Save(t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	// Write then rename so a crash never leaves a torn file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryStore is the session tier.
type MemoryStore struct {
	mu  sync.Mutex
	tok Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok, s.tok.Value != "", nil
}

func (s *MemoryStore) Save(t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = t
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = Token{}
	return nil
}
