package vectorstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/confluence-sync/pkg/models"
)

func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "confluence_vectordb"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pageRecords(docID string, n int) []Record {
	records := make([]Record, n)
	for i := range records {
		c := models.Chunk{
			Content:  fmt.Sprintf("%s part %d", docID, i),
			Metadata: models.ChunkMetadata{DocumentID: docID, Title: "T" + docID, ChunkIndex: i, TotalChunks: n},
		}
		records[i] = RecordFromChunk(c, []float32{float32(i + 1), 1})
	}
	return records
}

func TestOpenExisting_Missing(t *testing.T) {
	_, err := OpenExisting(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrStoreMissing)
}

func TestOpenExisting_AfterOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.True(t, Exists(dir))
	s, err = OpenExisting(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestUpsert_IsIdempotentByID(t *testing.T) {
	store := setupStore(t)
	ctx := t.Context()

	require.NoError(t, store.Upsert(ctx, pageRecords("100001", 3)))
	require.NoError(t, store.Upsert(ctx, pageRecords("100001", 3)))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeleteByDocument_RemovesAllChunksOfDocument(t *testing.T) {
	store := setupStore(t)
	ctx := t.Context()
	require.NoError(t, store.Upsert(ctx, pageRecords("100001", 5)))
	require.NoError(t, store.Upsert(ctx, pageRecords("100002", 2)))

	deleted, err := store.DeleteByDocument(ctx, []string{"100001", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	require.NoError(t, store.Upsert(ctx, pageRecords("100001", 3)))
	total, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	deleted, err = store.DeleteByDocument(ctx, []string{"100001"})
	require.NoError(t, err)
	assert.Equal(t, 3, deleted, "only the re-added chunks remain for the document")
}

func TestDeleteByDocument_Empty(t *testing.T) {
	store := setupStore(t)

	deleted, err := store.DeleteByDocument(t.Context(), nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteByDocument_ManyIDs(t *testing.T) {
	store := setupStore(t)
	ctx := t.Context()
	var ids []string
	for i := 0; i < maxParams+20; i++ {
		id := fmt.Sprint(i)
		ids = append(ids, id)
		require.NoError(t, store.Upsert(ctx, pageRecords(id, 1)))
	}

	deleted, err := store.DeleteByDocument(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, len(ids), deleted)
}

func TestSearch_RanksByCosine(t *testing.T) {
	store := setupStore(t)
	ctx := t.Context()
	require.NoError(t, store.Upsert(ctx, []Record{
		{ID: "a_chunk_0", Vector: []float32{1, 0}, Text: "east", Metadata: models.ChunkMetadata{DocumentID: "a", TotalChunks: 1}},
		{ID: "b_chunk_0", Vector: []float32{0, 1}, Text: "north", Metadata: models.ChunkMetadata{DocumentID: "b", TotalChunks: 1}},
		{ID: "c_chunk_0", Vector: []float32{1, 1}, Text: "north-east", Metadata: models.ChunkMetadata{DocumentID: "c", TotalChunks: 1}},
	}))

	hits, err := store.Search(ctx, []float32{1, 0.1}, 2)
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, "a_chunk_0", hits[0].ID)
	assert.Equal(t, "c_chunk_0", hits[1].ID)
	assert.Equal(t, "east", hits[0].Text)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestVectorEncoding(t *testing.T) {
	vec := []float32{0.5, -1.25, 3}

	got, err := DecodeVector(EncodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 1}))
}
