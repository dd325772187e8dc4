// Package updater applies a change set to the vector store: stale vectors
// are deleted first, then added and modified pages are re-indexed.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mfenderov/confluence-sync/internal/changes"
	"github.com/mfenderov/confluence-sync/internal/indexer"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

// Store is the part of the vector store the updater needs.
type Store interface {
	DeleteByDocument(ctx context.Context, ids []string) (int, error)
	Count(ctx context.Context) (int, error)
}

// Indexer indexes prepared chunks.
type Indexer interface {
	Prepare(pages []models.Page) []models.Chunk
	Completed(chunks []models.Chunk) []models.Chunk
	IndexChunks(ctx context.Context, chunks []models.Chunk) (*indexer.Result, error)
}

// Result holds update execution results.
type Result struct {
	PagesAdded     int
	PagesModified  int
	PagesDeleted   int
	VectorsDeleted int
	VectorsAdded   int
	InitialTotal   int
	FinalTotal     int
	Degraded       bool
	Skipped        bool // no changes and not forced
	Duration       time.Duration
}

// Updater brings the vector store in line with a change set.
type Updater struct {
	store   Store
	indexer Indexer
	logger  *slog.Logger
}

// New creates an updater.
func New(store Store, ix Indexer, logger *slog.Logger) (*Updater, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if ix == nil {
		return nil, errors.New("indexer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{store: store, indexer: ix, logger: logger}, nil
}

// Update prepares chunks for the set and applies it.
func (u *Updater) Update(ctx context.Context, set changes.Set, force bool) (*Result, error) {
	return u.Apply(ctx, set, u.indexer.Prepare(set.Reindex()), force)
}

// Apply runs the two phases for a change set whose added and modified pages
// were already chunked. Every stale document is deleted before any new
// chunk is written, so a document that shrank keeps no orphaned chunks.
// An empty set without force does nothing.
func (u *Updater) Apply(ctx context.Context, set changes.Set, chunks []models.Chunk, force bool) (*Result, error) {
	start := time.Now()
	res := &Result{
		PagesAdded:    len(set.Added),
		PagesModified: len(set.Modified),
		PagesDeleted:  len(set.Deleted),
	}

	if set.Empty() && !force {
		u.logger.Info("no changes, skipping update")
		res.Skipped = true
		res.Duration = time.Since(start)
		return res, nil
	}

	initial, err := u.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting vectors: %w", err)
	}
	res.InitialTotal = initial

	// Phase A
	if stale := u.deletable(set.Stale(), chunks); len(stale) > 0 {
		deleted, err := u.store.DeleteByDocument(ctx, stale)
		if err != nil {
			return nil, fmt.Errorf("deleting stale vectors: %w", err)
		}
		res.VectorsDeleted = deleted
		u.logger.Info("deleted stale vectors", "documents", len(stale), "vectors", deleted)
	}

	// Phase B
	if len(chunks) > 0 {
		ir, err := u.indexer.IndexChunks(ctx, chunks)
		if err != nil {
			return nil, fmt.Errorf("indexing: %w", err)
		}
		res.VectorsAdded = ir.VectorsUpserted
		res.Degraded = ir.Degraded
		u.logger.Info("indexed chunks", "chunks", ir.Chunks, "batches", ir.BatchesRun, "resumed_at", ir.StartBatch)
	}

	final, err := u.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting vectors: %w", err)
	}
	res.FinalTotal = final
	res.Duration = time.Since(start)
	return res, nil
}

// deletable drops documents whose new chunks an interrupted run of the same
// chunk list already wrote. Their old vectors went in that run's Phase A.
func (u *Updater) deletable(stale []string, chunks []models.Chunk) []string {
	done := u.indexer.Completed(chunks)
	if len(done) == 0 {
		return stale
	}
	written := make(map[string]bool, len(done))
	for _, c := range done {
		written[c.Metadata.DocumentID] = true
	}
	keep := slices.DeleteFunc(slices.Clone(stale), func(id string) bool { return written[id] })
	u.logger.Info("resuming interrupted update, keeping vectors of completed batches",
		"documents", len(stale)-len(keep), "chunks", len(done))
	return keep
}
