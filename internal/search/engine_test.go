package search

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/confluence-sync/internal/vectorstore"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

// keywordEmbedder maps a text onto two axes: deploy and database.
type keywordEmbedder struct{ err error }

func (k keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	var v [2]float32
	if strings.Contains(text, "deploy") {
		v[0] = 1
	}
	if strings.Contains(text, "database") {
		v[1] = 1
	}
	return v[:], nil
}

func seededStore(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "vectordb")
	store, err := vectorstore.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	chunk := func(doc string, idx, total int, title, text string) models.Chunk {
		return models.Chunk{Content: text, Metadata: models.ChunkMetadata{
			DocumentID: doc, Title: title, URL: "https://wiki.example.com/pages/" + doc, ChunkIndex: idx, TotalChunks: total,
		}}
	}
	records := []vectorstore.Record{
		vectorstore.RecordFromChunk(chunk("1", 0, 2, "Deploy guide", "how to deploy"), []float32{1, 0}),
		vectorstore.RecordFromChunk(chunk("1", 1, 2, "Deploy guide", "deploy rollback"), []float32{0.9, 0.1}),
		vectorstore.RecordFromChunk(chunk("2", 0, 1, "DB runbook", "database failover"), []float32{0, 1}),
	}
	require.NoError(t, store.Upsert(t.Context(), records))
	return dir
}

func openEngine(t *testing.T, emb Embedder, dir string) *Engine {
	t.Helper()
	e, err := New(emb, func() (Store, error) { return vectorstore.OpenExisting(dir) })
	require.NoError(t, err)
	require.NoError(t, e.Open())
	t.Cleanup(func() { e.Close() })
	return e
}

func TestSearch_RanksAndDedupesSources(t *testing.T) {
	e := openEngine(t, keywordEmbedder{}, seededStore(t))

	resp, err := e.Search(t.Context(), "  deploy  ", 2)
	require.NoError(t, err)

	assert.Equal(t, "deploy", resp.Query)
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, "1_chunk_0", resp.Hits[0].ID)
	require.Len(t, resp.Sources, 1, "two chunks of one page are one source")
	assert.Equal(t, "Deploy guide", resp.Sources[0].Title)
	assert.Contains(t, resp.Context, "[1] Deploy guide (chunk 1/2)")
	assert.Contains(t, resp.Context, "[2] Deploy guide (chunk 2/2)")
}

func TestSearch_DefaultK(t *testing.T) {
	e := openEngine(t, keywordEmbedder{}, seededStore(t))

	resp, err := e.Search(t.Context(), "database", 0)
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 3)
	assert.Equal(t, "2_chunk_0", resp.Hits[0].ID)
}

func TestSearch_Errors(t *testing.T) {
	dir := seededStore(t)

	e := openEngine(t, keywordEmbedder{err: errors.New("model offline")}, dir)
	_, err := e.Search(t.Context(), "deploy", 1)
	assert.ErrorContains(t, err, "model offline")

	_, err = e.Search(t.Context(), "   ", 1)
	assert.Error(t, err)

	require.NoError(t, e.Close())
	_, err = e.Search(t.Context(), "deploy", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_MissingStore(t *testing.T) {
	e, err := New(keywordEmbedder{}, func() (Store, error) {
		return vectorstore.OpenExisting(filepath.Join(t.TempDir(), "none"))
	})
	require.NoError(t, err)

	assert.ErrorIs(t, e.Open(), vectorstore.ErrStoreMissing)
}

func TestEngine_Count(t *testing.T) {
	e := openEngine(t, keywordEmbedder{}, seededStore(t))

	n, err := e.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// hybridStore records which search path the engine took.
type hybridStore struct {
	query  string
	vector []float32
	vecHit bool
}

func (h *hybridStore) Search(context.Context, []float32, int) ([]vectorstore.Hit, error) {
	h.vecHit = true
	return nil, nil
}

func (h *hybridStore) HybridSearch(_ context.Context, query string, vector []float32, k int) ([]vectorstore.Hit, error) {
	h.query, h.vector = query, vector
	return []vectorstore.Hit{{ID: "9_chunk_0", Score: 0.5, Metadata: models.ChunkMetadata{DocumentID: "9", Title: "Hybrid", TotalChunks: 1}}}, nil
}

func (h *hybridStore) Count(context.Context) (int, error) { return 1, nil }
func (h *hybridStore) Close() error                       { return nil }

func TestSearch_PrefersHybridStore(t *testing.T) {
	store := &hybridStore{}
	e, err := New(keywordEmbedder{}, func() (Store, error) { return store, nil })
	require.NoError(t, err)
	require.NoError(t, e.Open())

	resp, err := e.Search(t.Context(), "deploy database", 3)
	require.NoError(t, err)

	assert.False(t, store.vecHit)
	assert.Equal(t, "deploy database", store.query)
	assert.Equal(t, []float32{1, 1}, store.vector)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Hybrid", resp.Sources[0].Title)
}
