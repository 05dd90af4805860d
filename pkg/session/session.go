// Package session holds the authenticated identity of the running process.
//
// A Store is created explicitly and handed to whoever needs it. Transitions
// (Restore, Login, Logout) run one at a time: a second Login waits for the
// first to finish before it looks at the directory. Reads never wait on a
// transition in flight and always observe the last completed one.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
	"shelfkeeper/pkg/domain"
)

var (
	// ErrCredentialMismatch covers both bad credentials and an unreachable directory.
	ErrCredentialMismatch = errors.New("invalid username or password")
	// ErrCorruptSession marks a persisted form that could not be decoded.
	ErrCorruptSession = errors.New("corrupt persisted session")
)

// CredentialSource yields the user directory for one login attempt.
type CredentialSource interface {
	Credentials(ctx context.Context, username, password string) ([]domain.CredentialRecord, error)
}

// Config wires a Store.
type Config struct {
	Credentials CredentialSource
	Persister   Persister
	Logger      *slog.Logger
}

// Store is the single source of truth for the current identity.
type Store struct {
	credentials CredentialSource
	persister   Persister
	logger      *slog.Logger

	transitions *semaphore.Weighted

	mu        sync.RWMutex
	identity  domain.Identity
	present   bool
	listeners []func(bool)
}

// New builds an empty store. Call Restore to pick up a persisted identity.
func New(cfg Config) (*Store, error) {
	if cfg.Credentials == nil {
		return nil, errors.New("credential source required")
	}
	if cfg.Persister == nil {
		cfg.Persister = NewMemoryPersister()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		credentials: cfg.Credentials,
		persister:   cfg.Persister,
		logger:      cfg.Logger.With("component", "session"),
		transitions: semaphore.NewWeighted(1),
	}, nil
}

// Restore installs the persisted identity, if any, without consulting the
// directory. A corrupt persisted form is cleared and the store ends up empty.
func (s *Store) Restore(ctx context.Context) bool {
	if err := s.transitions.Acquire(ctx, 1); err != nil {
		return s.IsAuthenticated()
	}
	defer s.transitions.Release(1)

	data, ok, err := s.persister.Load(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "session load failed", "err", err)
		s.install(domain.Identity{}, false)
		return false
	}
	if !ok {
		s.install(domain.Identity{}, false)
		return false
	}
	identity, err := decodeIdentity(data)
	if err != nil {
		s.logger.WarnContext(ctx, "discarding persisted session", "err", err)
		if clearErr := s.persister.Clear(ctx); clearErr != nil {
			s.logger.WarnContext(ctx, "session clear failed", "err", clearErr)
		}
		s.install(domain.Identity{}, false)
		return false
	}
	s.install(identity, true)
	s.logger.InfoContext(ctx, "session restored", "user_id", identity.ID)
	return true
}

// Login checks the credentials against the directory. On a match the identity
// is installed and persisted; otherwise the current state is left alone.
// Directory failures are indistinguishable from a mismatch.
func (s *Store) Login(ctx context.Context, username, password string) bool {
	if err := s.transitions.Acquire(ctx, 1); err != nil {
		return false
	}
	defer s.transitions.Release(1)

	identity, err := s.lookup(ctx, username, password)
	if err != nil {
		s.logger.InfoContext(ctx, "login rejected", "err", err)
		return false
	}
	s.install(identity, true)

	data, err := json.Marshal(identity)
	if err == nil {
		err = s.persister.Save(ctx, data)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "session persist failed", "user_id", identity.ID, "err", err)
	}
	return true
}

// Logout clears the identity and its persisted form. It always succeeds.
func (s *Store) Logout(ctx context.Context) {
	// Logout must not be skipped because the caller's context is done.
	_ = s.transitions.Acquire(context.WithoutCancel(ctx), 1)
	defer s.transitions.Release(1)

	s.install(domain.Identity{}, false)
	if err := s.persister.Clear(context.WithoutCancel(ctx)); err != nil {
		s.logger.WarnContext(ctx, "session clear failed", "err", err)
	}
}

// CurrentIdentity returns the installed identity.
func (s *Store) CurrentIdentity() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.present
}

// IsAuthenticated reports whether an identity is installed.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.present
}

// Subscribe registers fn to be called with the new state after every
// transition. Callbacks run on the transitioning goroutine.
func (s *Store) Subscribe(fn func(authenticated bool)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) install(identity domain.Identity, present bool) {
	s.mu.Lock()
	s.identity = identity
	s.present = present
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(present)
	}
}

// lookup returns the first directory record matching both fields exactly.
// The credential records never leave this frame.
func (s *Store) lookup(ctx context.Context, username, password string) (domain.Identity, error) {
	records, err := s.credentials.Credentials(ctx, username, password)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrCredentialMismatch, err)
	}
	for _, rec := range records {
		if rec.Username == username && rec.Password == password {
			return rec.Identity(), nil
		}
	}
	return domain.Identity{}, ErrCredentialMismatch
}

func decodeIdentity(data []byte) (domain.Identity, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var identity domain.Identity
	if err := dec.Decode(&identity); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if dec.More() {
		return domain.Identity{}, fmt.Errorf("%w: trailing data", ErrCorruptSession)
	}
	if identity.ID == 0 || identity.Username == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing id or username", ErrCorruptSession)
	}
	return identity, nil
}
