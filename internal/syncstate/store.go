package syncstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mfenderov/confluence-sync/internal/atomicfile"
)

// Store reads and writes the sync state file.
type Store struct {
	path string
}

// Open returns a store backed by the file at path. The file need not exist.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state. A missing file yields an empty state. An unreadable
// or corrupt file also yields an empty state and logs a warning, since the
// next sync can rebuild it.
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New()
	}
	if err != nil {
		slog.Warn("sync state unreadable, starting empty", "path", s.path, "error", err)
		return New()
	}

	st := New()
	if err := json.Unmarshal(data, st); err != nil {
		slog.Warn("sync state corrupt, starting empty", "path", s.path, "error", err)
		return New()
	}
	if st.Pages == nil {
		st.Pages = make(map[string]TrackedPage)
	}
	if st.SyncHistory == nil {
		st.SyncHistory = []Record{}
	}
	return st
}

// Save atomically replaces the state file.
func (s *Store) Save(st *State) error {
	st.TotalPages = len(st.Pages)
	if err := atomicfile.WriteJSON(s.path, st); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

// Init creates the state file when it does not exist yet.
func (s *Store) Init() (*State, error) {
	if _, err := os.Stat(s.path); err == nil {
		return s.Load(), nil
	}
	st := New()
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}
