package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dvloznov/statement-ledger/internal/pipeline"
)

// FileStore keeps one JSON file per session in a directory, so a stopped
// session survives a restart. Writes go through a temp file and rename.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewFileStore: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid session ID %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, st pipeline.State) error {
	p, err := s.path(st.ID)
	if err != nil {
		return fmt.Errorf("FileStore.Save: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("FileStore.Save: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, st.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("FileStore.Save: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("FileStore.Save: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("FileStore.Save: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("FileStore.Save: rename: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, id string) (pipeline.State, error) {
	p, err := s.path(id)
	if err != nil {
		return pipeline.State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return readState(p)
}

// List implements Store. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context) ([]pipeline.State, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("FileStore.List: %w", err)
	}
	result := make([]pipeline.State, 0, len(matches))
	for _, m := range matches {
		st, err := readState(m)
		if err != nil {
			continue
		}
		result = append(result, st)
	}
	sortByUpdated(result)
	return result, nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("FileStore.Delete: %w", err)
	}
	return nil
}

func readState(path string) (pipeline.State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return pipeline.State{}, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), ".json"))
	}
	if err != nil {
		return pipeline.State{}, fmt.Errorf("read session %s: %w", path, err)
	}
	var st pipeline.State
	if err := json.Unmarshal(data, &st); err != nil {
		return pipeline.State{}, fmt.Errorf("decode session %s: %w", path, err)
	}
	return st, nil
}

// Ensure FileStore implements Store interface.
var _ Store = (*FileStore)(nil)
