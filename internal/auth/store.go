package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	zkr "github.com/zalando/go-keyring"
)

// ErrNoCredential means no bearer token is available. Callers treat it as a
// precondition failure, never as something to retry.
var ErrNoCredential = errors.New("no access token available")

// TokenStore holds the bearer credential for the lesson service.
type TokenStore interface {
	Get() (string, bool)
	Set(token string) error
	Clear() error
}

// Backend is the persistent side of a Store.
// Load returns "" with a nil error when nothing is stored.
type Backend interface {
	Load() (string, error)
	Save(token string) error
	Delete() error
}

// Store caches the token in memory and reads through to a Backend.
type Store struct {
	mu      sync.Mutex
	token   string
	backend Backend
}

// NewStore returns a Store reading and writing through backend.
func NewStore(backend Backend) *Store {
	if backend == nil {
		backend = &MemoryBackend{}
	}
	return &Store{backend: backend}
}

// Get returns the current token. It reports false when none is stored.
func (s *Store) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, true
	}
	token, err := s.backend.Load()
	if err != nil || strings.TrimSpace(token) == "" {
		return "", false
	}
	s.token = strings.TrimSpace(token)
	return s.token, true
}

// Set persists token.
func (s *Store) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.Clear()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Save(token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	s.token = token
	return nil
}

// Clear removes the stored token.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	if err := s.backend.Delete(); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

const (
	keyringService = "lesson-session-client"
	DefaultAccount = "access_token"
)

// KeyringBackend persists the token in the OS keychain.
type KeyringBackend struct {
	Account string
}

func (k KeyringBackend) account() string {
	if k.Account == "" {
		return DefaultAccount
	}
	return k.Account
}

func (k KeyringBackend) Load() (string, error) {
	token, err := zkr.Get(keyringService, k.account())
	if errors.Is(err, zkr.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return token, nil
}

func (k KeyringBackend) Save(token string) error {
	return zkr.Set(keyringService, k.account(), token)
}

func (k KeyringBackend) Delete() error {
	err := zkr.Delete(keyringService, k.account())
	if errors.Is(err, zkr.ErrNotFound) {
		return nil
	}
	return err
}

// EnvBackend reads a token from an environment variable. It cannot persist.
type EnvBackend struct {
	Var string
}

var errReadOnly = errors.New("token backend is read-only")

func (e EnvBackend) Load() (string, error) { return os.Getenv(e.Var), nil }
func (e EnvBackend) Save(string) error     { return errReadOnly }
func (e EnvBackend) Delete() error         { return nil }

// MemoryBackend keeps the token in process memory.
type MemoryBackend struct {
	mu    sync.Mutex
	token string
}

func (m *MemoryBackend) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryBackend) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryBackend) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}
