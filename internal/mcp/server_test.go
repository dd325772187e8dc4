package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/confluence-sync/internal/search"
	"github.com/mfenderov/confluence-sync/internal/syncstate"
	"github.com/mfenderov/confluence-sync/internal/vectorstore"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

type fakeEngine struct {
	resp    *search.Response
	err     error
	vectors int
	gotK    int
}

func (f *fakeEngine) Search(_ context.Context, query string, k int) (*search.Response, error) {
	f.gotK = k
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.Query = query
	return &resp, nil
}

func (f *fakeEngine) Count(context.Context) (int, error) { return f.vectors, nil }

func newTestServer(t *testing.T, engine *fakeEngine) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "last_sync.json")
	s, err := NewServer(Config{Name: "confluence-sync", Version: "test", SyncStatePath: path}, engine)
	require.NoError(t, err)
	return s, path
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestServer_Creation(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{})
	assert.NotNil(t, s.mcpServer)

	_, err := NewServer(Config{SyncStatePath: "x"}, nil)
	assert.Error(t, err)
}

func TestServer_SearchTool(t *testing.T) {
	engine := &fakeEngine{resp: &search.Response{
		Hits: []vectorstore.Hit{{
			ID:    "100_chunk_1",
			Score: 0.91,
			Text:  "Restart the worker pool",
			Metadata: models.ChunkMetadata{
				DocumentID: "100", Title: "Runbook", URL: "https://wiki.example.com/pages/100", ChunkIndex: 1, TotalChunks: 3,
			},
		}},
		Sources: []search.Source{{PageID: "100", Title: "Runbook", URL: "https://wiki.example.com/pages/100", Relevance: 0.91}},
	}}
	s, _ := newTestServer(t, engine)

	res, err := s.searchHandler(t.Context(), toolRequest(map[string]any{"query": "restart", "limit": 3}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, 3, engine.gotK)

	var got SearchResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	assert.Equal(t, "restart", got.Query)
	require.Len(t, got.Hits, 1)
	assert.Equal(t, "100", got.Hits[0].PageID)
	assert.Equal(t, 1, got.Hits[0].ChunkIndex)
	assert.Equal(t, "Restart the worker pool", got.Hits[0].Content)
	assert.Len(t, got.Sources, 1)
}

func TestServer_SearchTool_Errors(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{err: errors.New("store closed")})

	res, err := s.searchHandler(t.Context(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.searchHandler(t.Context(), toolRequest(map[string]any{"query": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "store closed")
}

func TestServer_StatusTool(t *testing.T) {
	s, path := newTestServer(t, &fakeEngine{vectors: 42})

	st := syncstate.New()
	for i := range 7 {
		st.Apply(syncstate.Commit{
			Kind:  syncstate.KindIncremental,
			Added: []models.Page{{ID: string(rune('a' + i)), Title: "p"}},
		}, time.Date(2026, 3, 1, i, 0, 0, 0, time.UTC))
	}
	require.NoError(t, syncstate.Open(path).Save(st))

	res, err := s.statusHandler(t.Context(), toolRequest(nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var got Status
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	assert.Equal(t, 7, got.TrackedPages)
	assert.Equal(t, 42, got.Vectors)
	assert.Len(t, got.RecentSyncs, 5)
	assert.Nil(t, got.LastFullSync)
	require.NotNil(t, got.LastIncrementalSync)
	assert.Equal(t, "2026-03-01T06:00:00Z", *got.LastIncrementalSync)
	require.NotNil(t, got.LastSync)
	assert.True(t, got.LastSync.Equal(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)))
}

func TestServer_StatusTool_EmptyState(t *testing.T) {
	s, _ := newTestServer(t, &fakeEngine{})

	status, err := s.handleStatus(t.Context())
	require.NoError(t, err)
	assert.Zero(t, status.TrackedPages)
	assert.Empty(t, status.RecentSyncs)
	assert.Nil(t, status.LastSync)
}
