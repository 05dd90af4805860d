package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DefaultKey is the single storage key holding the serialized identity.
const DefaultKey = "shelfkeeper.session.identity"

// Persister stores the serialized session under a single key.
type Persister interface {
	// Load returns the stored bytes and whether a value was present.
	Load(ctx context.Context) ([]byte, bool, error)
	Save(ctx context.Context, data []byte) error
	// Clear removes the stored value. Clearing an absent value is not an error.
	Clear(ctx context.Context) error
}

// MemoryPersister keeps the value in-process. It survives Store instances but
// not process restarts.
type MemoryPersister struct {
	mu    sync.Mutex
	data  []byte
	valid bool
}

// NewMemoryPersister returns an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (m *MemoryPersister) Load(context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return nil, false, nil
	}
	return append([]byte(nil), m.data...), true, nil
}

func (m *MemoryPersister) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.valid = true
	return nil
}

func (m *MemoryPersister) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.valid = false
	return nil
}

// FilePersister stores the value in one file. Writes go through a temp file
// and a rename so a crash never leaves a half-written session behind.
type FilePersister struct {
	path string
}

// NewFilePersister stores the session at path, creating parent directories.
func NewFilePersister(path string) (*FilePersister, error) {
	if path == "" {
		return nil, errors.New("session file path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FilePersister{path: path}, nil
}

func (f *FilePersister) Load(context.Context) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read session file: %w", err)
	}
	return data, true, nil
}

func (f *FilePersister) Save(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (f *FilePersister) Clear(context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
