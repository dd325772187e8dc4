package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mfenderov/confluence-sync/internal/search"
	"github.com/mfenderov/confluence-sync/internal/syncstate"
)

const recentHistory = 5

// Config holds MCP server configuration.
type Config struct {
	Name          string
	Version       string
	SyncStatePath string
}

// Searcher is the retrieval engine the tools call into.
type Searcher interface {
	Search(ctx context.Context, query string, k int) (*search.Response, error)
	Count(ctx context.Context) (int, error)
}

// Server exposes page search and sync status over MCP.
type Server struct {
	mcpServer *server.MCPServer
	engine    Searcher
	syncState *syncstate.Store
}

// SearchHit is one retrieved chunk as returned to MCP clients.
type SearchHit struct {
	PageID     string  `json:"page_id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
}

// SearchResult is the search_pages payload.
type SearchResult struct {
	Query   string          `json:"query"`
	Sources []search.Source `json:"sources"`
	Hits    []SearchHit     `json:"hits"`
}

// Status is the sync_status payload.
type Status struct {
	LastFullSync        *string            `json:"last_full_sync"`
	LastIncrementalSync *string            `json:"last_incremental_sync"`
	LastSync            *time.Time         `json:"last_sync,omitempty"` // latest of the two
	TrackedPages        int                `json:"tracked_pages"`
	Vectors             int                `json:"vectors"`
	RecentSyncs         []syncstate.Record `json:"recent_syncs"`
}

// NewServer creates a new MCP server around an opened search engine.
func NewServer(config Config, engine Searcher) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if config.SyncStatePath == "" {
		return nil, errors.New("sync state path is required")
	}

	mcpServer := server.NewMCPServer(
		config.Name,
		config.Version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		engine:    engine,
		syncState: syncstate.Open(config.SyncStatePath),
	}

	searchTool := mcp.NewTool("search_pages",
		mcp.WithDescription("Search synced Confluence pages. Returns the most relevant chunks with their source pages."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language search query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of chunks to return (default: 5)"),
		),
	)
	mcpServer.AddTool(searchTool, s.searchHandler)

	statusTool := mcp.NewTool("sync_status",
		mcp.WithDescription("Report when the page corpus was last synced and how many pages and vectors are indexed"),
	)
	mcpServer.AddTool(statusTool, s.statusHandler)

	return s, nil
}

// searchHandler handles the search_pages tool call.
func (s *Server) searchHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	limit := req.GetInt("limit", search.DefaultK)

	result, err := s.handleSearch(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	return jsonResult(result)
}

// statusHandler handles the sync_status tool call.
func (s *Server) statusHandler(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.handleStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	return jsonResult(status)
}

func (s *Server) handleSearch(ctx context.Context, query string, limit int) (*SearchResult, error) {
	resp, err := s.engine.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Query: resp.Query, Sources: resp.Sources, Hits: make([]SearchHit, len(resp.Hits))}
	for i, h := range resp.Hits {
		result.Hits[i] = SearchHit{
			PageID:     h.Metadata.DocumentID,
			Title:      h.Metadata.Title,
			URL:        h.Metadata.URL,
			ChunkIndex: h.Metadata.ChunkIndex,
			Score:      h.Score,
			Content:    h.Text,
		}
	}
	return result, nil
}

func (s *Server) handleStatus(ctx context.Context) (*Status, error) {
	st := s.syncState.Load()
	vectors, err := s.engine.Count(ctx)
	if err != nil {
		return nil, err
	}

	history := st.SyncHistory
	if len(history) > recentHistory {
		history = history[len(history)-recentHistory:]
	}
	status := &Status{
		LastFullSync:        st.LastFullSync,
		LastIncrementalSync: st.LastIncrementalSync,
		TrackedPages:        len(st.Pages),
		Vectors:             vectors,
		RecentSyncs:         history,
	}
	if last := st.LastSyncTime(); !last.IsZero() {
		status.LastSync = &last
	}
	return status, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
