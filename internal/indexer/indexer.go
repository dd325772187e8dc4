// Package indexer embeds chunks in fixed-size batches and upserts them into
// a vector store, checkpointing after every batch so a run can resume.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mfenderov/confluence-sync/internal/checkpoint"
	"github.com/mfenderov/confluence-sync/internal/embeddings"
	"github.com/mfenderov/confluence-sync/internal/vectorstore"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

// DefaultBatchSize is used when Config.BatchSize is not positive.
const DefaultBatchSize = 100

// ErrEmbeddingMismatch is returned when the embedder returns a different
// number of vectors than texts.
var ErrEmbeddingMismatch = errors.New("embedding count mismatch")

// Chunker splits a page into ordered chunks.
type Chunker interface {
	Split(page models.Page) []models.Chunk
}

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Degrader is implemented by embedders that can fall back to a slower mode
// after running out of resources.
type Degrader interface {
	Degrade(ctx context.Context) error
}

// Upserter writes records idempotently by id.
type Upserter interface {
	Upsert(ctx context.Context, records []vectorstore.Record) error
}

// Checkpoints persists the next batch to run.
type Checkpoints interface {
	Load() (checkpoint.Progress, bool)
	Save(p checkpoint.Progress) error
	Clear() error
}

// Config holds indexer settings.
type Config struct {
	BatchSize int
}

// Deps are the indexer's collaborators.
type Deps struct {
	Chunker     Chunker
	Embedder    Embedder
	Store       Upserter
	Checkpoints Checkpoints
	Logger      *slog.Logger
}

// Result summarizes one indexing run.
type Result struct {
	Chunks          int
	TotalBatches    int
	StartBatch      int
	BatchesRun      int
	VectorsUpserted int
	Degraded        bool
	Duration        time.Duration
}

// Indexer runs resumable batch indexing.
type Indexer struct {
	batchSize   int
	chunker     Chunker
	embedder    Embedder
	store       Upserter
	checkpoints Checkpoints
	logger      *slog.Logger
}

// New validates deps and creates an indexer.
func New(cfg Config, deps Deps) (*Indexer, error) {
	if deps.Chunker == nil {
		return nil, errors.New("chunker is required")
	}
	if deps.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Checkpoints == nil {
		return nil, errors.New("checkpoints is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		batchSize:   cfg.BatchSize,
		chunker:     deps.Chunker,
		embedder:    deps.Embedder,
		store:       deps.Store,
		checkpoints: deps.Checkpoints,
		logger:      logger,
	}, nil
}

// Prepare flattens pages into chunks, keeping page order and chunk order.
func (ix *Indexer) Prepare(pages []models.Page) []models.Chunk {
	return Prepare(ix.chunker, pages)
}

// Prepare flattens pages into chunks with the given chunker.
func Prepare(c Chunker, pages []models.Page) []models.Chunk {
	var chunks []models.Chunk
	for _, p := range pages {
		chunks = append(chunks, c.Split(p)...)
	}
	return chunks
}

// Index chunks pages and indexes them.
func (ix *Indexer) Index(ctx context.Context, pages []models.Page) (*Result, error) {
	return ix.IndexChunks(ctx, ix.Prepare(pages))
}

// IndexChunks embeds and upserts chunks batch by batch, resuming from a
// checkpoint written for the same chunk list. The checkpoint is cleared only after every
// batch succeeded; on failure it stays so the next run resumes at the
// failed batch.
func (ix *Indexer) IndexChunks(ctx context.Context, chunks []models.Chunk) (*Result, error) {
	start := time.Now()
	res := &Result{
		Chunks:       len(chunks),
		TotalBatches: (len(chunks) + ix.batchSize - 1) / ix.batchSize,
	}

	fp := ix.fingerprint(chunks)
	res.StartBatch = ix.resumeAt(res.TotalBatches, fp, true)

	for b := res.StartBatch; b < res.TotalBatches; b++ {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		lo := b * ix.batchSize
		hi := min(lo+ix.batchSize, len(chunks))
		batch := chunks[lo:hi]

		if err := ix.runBatch(ctx, batch, res); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("batch %d/%d: %w", b+1, res.TotalBatches, err)
		}
		if err := ix.checkpoints.Save(checkpoint.Progress{Next: b + 1, Total: res.TotalBatches, Fingerprint: fp}); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		res.BatchesRun++
		res.VectorsUpserted += len(batch)
		ix.logger.Debug("batch indexed", "batch", b+1, "total_batches", res.TotalBatches, "chunks", len(batch))
	}

	if err := ix.checkpoints.Clear(); err != nil {
		res.Duration = time.Since(start)
		return res, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

// Completed returns the leading chunks that a checkpoint written for this
// exact chunk list records as already indexed.
func (ix *Indexer) Completed(chunks []models.Chunk) []models.Chunk {
	total := (len(chunks) + ix.batchSize - 1) / ix.batchSize
	next := ix.resumeAt(total, ix.fingerprint(chunks), false)
	return chunks[:min(next*ix.batchSize, len(chunks))]
}

// resumeAt returns the batch to start at. A checkpoint written for another
// chunk list or batch size is discarded and the run starts over.
func (ix *Indexer) resumeAt(total int, fp string, log bool) int {
	p, ok := ix.checkpoints.Load()
	if !ok {
		return 0
	}
	if !p.Matches(total, fp) {
		if log {
			ix.logger.Warn("checkpoint does not match chunk list, starting from batch 0",
				"checkpoint", p.Next, "checkpoint_total", p.Total, "total_batches", total)
		}
		return 0
	}
	if log && p.Next > 0 {
		ix.logger.Info("resuming from checkpoint", "batch", p.Next, "total_batches", total)
	}
	return p.Next
}

// fingerprint identifies the chunk sequence as split at this batch size.
// Content is included so an edited page never resumes against old vectors.
func (ix *Indexer) fingerprint(chunks []models.Chunk) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(ix.batchSize)))
	for _, c := range chunks {
		h.Write([]byte{0})
		h.Write([]byte(c.ID()))
		h.Write([]byte{0})
		h.Write([]byte(c.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// runBatch embeds and upserts one batch. Resource exhaustion degrades the
// embedder and retries the same batch once; exhaustion while already
// degraded is fatal.
func (ix *Indexer) runBatch(ctx context.Context, batch []models.Chunk, res *Result) error {
	err := ix.embedAndUpsert(ctx, batch)
	if err == nil || !errors.Is(err, embeddings.ErrResourceExhausted) {
		return err
	}

	d, ok := ix.embedder.(Degrader)
	if !ok || res.Degraded {
		return err
	}
	ix.logger.Warn("embedding resources exhausted, retrying batch in degraded mode", "error", err)
	if derr := d.Degrade(ctx); derr != nil {
		return fmt.Errorf("degrade after %w: %v", err, derr)
	}
	res.Degraded = true

	if err := ix.embedAndUpsert(ctx, batch); err != nil {
		return fmt.Errorf("degraded retry: %w", err)
	}
	return nil
}

func (ix *Indexer) embedAndUpsert(ctx context.Context, batch []models.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: %d texts, %d vectors", ErrEmbeddingMismatch, len(batch), len(vectors))
	}

	records := make([]vectorstore.Record, len(batch))
	for i, c := range batch {
		records[i] = vectorstore.RecordFromChunk(c, vectors[i])
	}
	if err := ix.store.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upserting: %w", err)
	}
	return nil
}
