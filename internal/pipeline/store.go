package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StateKey is the fixed key under which the active attempt is persisted.
const StateKey = "cashout_pipeline_state"

// Store is the durable local store for the single active attempt.
// Load returns (nil, nil) when nothing is persisted.
type Store interface {
	Load(ctx context.Context) (*PipelineState, error)
	Save(ctx context.Context, ps *PipelineState) error
	Remove(ctx context.Context) error
}

// FileStore persists the pipeline state as one JSON file on disk.
type FileStore struct {
	baseDir string // defaults to ~/.cashout
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// DefaultDir returns ~/.cashout, creating it if needed.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".cashout")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// BaseDir returns the store's root directory.
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

func (s *FileStore) statePath() string {
	return filepath.Join(s.baseDir, StateKey+".json")
}

// Load reads the persisted state, or returns nil if there is none.
func (s *FileStore) Load(ctx context.Context) (*PipelineState, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.statePath(), err)
	}
	return Unmarshal(data)
}

// Save writes the full snapshot atomically.
func (s *FileStore) Save(ctx context.Context, ps *PipelineState) error {
	data, err := Marshal(ps)
	if err != nil {
		return err
	}
	return WriteAtomic(s.statePath(), data, 0o600)
}

// Remove deletes the persisted snapshot.
func (s *FileStore) Remove(ctx context.Context) error {
	return removeIfExists(s.statePath())
}

// MemoryStore keeps the snapshot in memory. It still round-trips through
// the snapshot encoding so tests see the same validation as disk stores.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*PipelineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return Unmarshal(s.data)
}

func (s *MemoryStore) Save(ctx context.Context, ps *PipelineState) error {
	data, err := Marshal(ps)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context) error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
