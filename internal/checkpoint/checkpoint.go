// Package checkpoint records batch progress so an indexing run can resume.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mfenderov/confluence-sync/internal/atomicfile"
)

// Progress is the resume point of one indexing run. Total and Fingerprint
// tie it to the chunk list it was written for.
type Progress struct {
	Next        int    `json:"last_completed_batch"`
	Total       int    `json:"total_batches,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Matches reports whether p was written for a run of total batches over
// the chunk list identified by fingerprint.
func (p Progress) Matches(total int, fingerprint string) bool {
	return p.Fingerprint != "" && p.Fingerprint == fingerprint && p.Total == total && p.Next <= total
}

// Store persists the resume point of one indexing run.
type Store struct {
	path string
}

// Open returns a store backed by the file at path.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved progress. ok is false when no usable checkpoint
// exists; a corrupt file is logged and ignored.
func (s *Store) Load() (p Progress, ok bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("checkpoint unreadable, starting from batch 0", "path", s.path, "error", err)
		}
		return Progress{}, false
	}

	if err := json.Unmarshal(data, &p); err != nil || p.Next < 0 || p.Total < 0 {
		slog.Warn("checkpoint corrupt, starting from batch 0", "path", s.path, "error", err)
		return Progress{}, false
	}
	return p, true
}

// Save records that every batch before p.Next has been durably indexed.
func (s *Store) Save(p Progress) error {
	if err := atomicfile.WriteJSON(s.path, p); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint. Clearing a missing checkpoint is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
