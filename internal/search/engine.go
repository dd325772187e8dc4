// Package search answers retrieval queries against the vector store.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mfenderov/confluence-sync/internal/vectorstore"
)

// DefaultK is the number of chunks retrieved when k is not positive.
const DefaultK = 5

// ErrClosed is returned by Search when the engine is not open.
var ErrClosed = errors.New("search engine is not open")

// Embedder embeds a single query.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the searchable part of a vector store.
type Store interface {
	Search(ctx context.Context, vector []float32, k int) ([]vectorstore.Hit, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// HybridSearcher is implemented by stores that fuse keyword and vector
// ranking. The engine uses it instead of Store.Search when available.
type HybridSearcher interface {
	HybridSearch(ctx context.Context, query string, vector []float32, k int) ([]vectorstore.Hit, error)
}

// Opener opens the store when the engine starts.
type Opener func() (Store, error)

// Source is a distinct page that contributed to a result.
type Source struct {
	PageID    string  `json:"page_id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Relevance float64 `json:"relevance"`
}

// Response is the outcome of one query.
type Response struct {
	Query   string            `json:"query"`
	Hits    []vectorstore.Hit `json:"-"`
	Sources []Source          `json:"sources"`
	Context string            `json:"context"`
	Elapsed time.Duration     `json:"elapsed"`
}

// Engine embeds queries and searches the store. It must be opened before
// use and closed afterwards.
type Engine struct {
	embedder Embedder
	open     Opener

	mu    sync.RWMutex
	store Store
}

// New creates an engine. Nothing is opened until Open.
func New(embedder Embedder, open Opener) (*Engine, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if open == nil {
		return nil, errors.New("store opener is required")
	}
	return &Engine{embedder: embedder, open: open}, nil
}

// Open opens the underlying store. Calling it twice is a no-op.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil {
		return nil
	}
	store, err := e.open()
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	e.store = store
	return nil
}

// Close releases the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

// Count returns the number of indexed chunks.
func (e *Engine) Count(ctx context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil {
		return 0, ErrClosed
	}
	return e.store.Count(ctx)
}

// Search retrieves the k chunks closest to query.
func (e *Engine) Search(ctx context.Context, query string, k int) (*Response, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is empty")
	}
	if k <= 0 {
		k = DefaultK
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil {
		return nil, ErrClosed
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	var hits []vectorstore.Hit
	if hs, ok := e.store.(HybridSearcher); ok {
		hits, err = hs.HybridSearch(ctx, query, vec, k)
	} else {
		hits, err = e.store.Search(ctx, vec, k)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	return &Response{
		Query:   query,
		Hits:    hits,
		Sources: sources(hits),
		Context: BuildContext(hits),
		Elapsed: time.Since(start),
	}, nil
}

// sources lists each page once, in rank order.
func sources(hits []vectorstore.Hit) []Source {
	var out []Source
	seen := make(map[string]bool)
	for _, h := range hits {
		key := h.Metadata.URL
		if key == "" {
			key = h.Metadata.DocumentID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Source{
			PageID:    h.Metadata.DocumentID,
			Title:     h.Metadata.Title,
			URL:       h.Metadata.URL,
			Relevance: h.Score,
		})
	}
	return out
}

// BuildContext joins hits into a prompt-ready context block.
func BuildContext(hits []vectorstore.Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		total := max(h.Metadata.TotalChunks, 1)
		parts[i] = fmt.Sprintf("[%d] %s (chunk %d/%d)\n%s", i+1, h.Metadata.Title, h.Metadata.ChunkIndex+1, total, h.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
