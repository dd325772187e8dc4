package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/mfenderov/confluence-sync/internal/vectorstore"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

// Config holds Elasticsearch client configuration.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
	Dims      int // dense_vector dimensions
}

// Client stores chunk vectors in an Elasticsearch index.
type Client struct {
	es    *elasticsearch.Client
	index string
	dims  int
}

// New creates a new Elasticsearch client.
func New(config Config) (*Client, error) {
	if config.Index == "" {
		return nil, fmt.Errorf("index is required")
	}
	cfg := elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	dims := config.Dims
	if dims <= 0 {
		dims = 768
	}
	return &Client{
		es:    es,
		index: config.Index,
		dims:  dims,
	}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) bool {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// Close is a no-op; the HTTP transport needs no teardown.
func (c *Client) Close() error {
	return nil
}

// chunkDoc is the indexed representation of one chunk.
type chunkDoc struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

func (d chunkDoc) metadata() models.ChunkMetadata {
	return models.ChunkMetadata{
		DocumentID:  d.DocumentID,
		Title:       d.Title,
		URL:         d.URL,
		ChunkIndex:  d.ChunkIndex,
		TotalChunks: d.TotalChunks,
	}
}

// indexMapping defines the ES index mapping for chunks. The content
// analyzer is "cjk" so Korean text is tokenized as bigrams.
const indexMapping = `{
	"mappings": {
		"properties": {
			"id": { "type": "keyword" },
			"document_id": { "type": "keyword" },
			"url": { "type": "keyword" },
			"title": { "type": "text" },
			"chunk_index": { "type": "integer" },
			"total_chunks": { "type": "integer" },
			"content": { "type": "text", "analyzer": "cjk" },
			"embedding": {
				"type": "dense_vector",
				"dims": %d,
				"index": true,
				"similarity": "cosine"
			}
		}
	}
}`

// Exists reports whether the index exists.
func (c *Client) Exists(ctx context.Context) (bool, error) {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to check index: %w", err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

// CreateIndex creates the index with proper mapping.
func (c *Client) CreateIndex(ctx context.Context) error {
	exists, err := c.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	res, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(fmt.Sprintf(indexMapping, c.dims))),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}

	return nil
}

// DeleteIndex removes the index.
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert indexes records through the bulk API, using the chunk id as the
// document id so repeated writes replace instead of duplicating.
func (c *Client) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		meta := map[string]any{"index": map[string]string{"_index": c.index, "_id": r.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to marshal bulk action: %w", err)
		}
		doc := chunkDoc{
			ID:          r.ID,
			DocumentID:  r.Metadata.DocumentID,
			Title:       r.Metadata.Title,
			URL:         r.Metadata.URL,
			ChunkIndex:  r.Metadata.ChunkIndex,
			TotalChunks: r.Metadata.TotalChunks,
			Content:     r.Text,
			Embedding:   r.Vector,
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to marshal chunk %s: %w", r.ID, err)
		}
	}

	res, err := c.es.Bulk(
		&buf,
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk error (status %d): %s", res.StatusCode, res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("bulk item %s failed: %s: %s", op.ID, op.Error.Type, op.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk request reported errors")
	}
	return nil
}

// DeleteByDocument removes every chunk whose document_id is in ids.
func (c *Client) DeleteByDocument(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := map[string]any{
		"query": map[string]any{
			"terms": map[string]any{"document_id": ids},
		},
	}
	data, err := json.Marshal(query)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		bytes.NewReader(data),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithRefresh(true),
		c.es.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return 0, fmt.Errorf("delete by query failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("delete by query error: %s", res.String())
	}

	var dr struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&dr); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return dr.Deleted, nil
}

// Count returns the number of indexed chunks.
func (c *Client) Count(ctx context.Context) (int, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.index),
	)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("count error: %s", res.String())
	}

	var cr struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return cr.Count, nil
}

// searchResponse represents ES search response structure.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Score  float64  `json:"_score"`
			Source chunkDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a kNN query against the embedding field.
func (c *Client) Search(ctx context.Context, vector []float32, k int) ([]vectorstore.Hit, error) {
	if k <= 0 {
		k = 5
	}
	return c.search(ctx, map[string]any{
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
		},
		"size":    k,
		"_source": map[string]any{"excludes": []string{"embedding"}},
	})
}

// HybridSearch ranks by BM25 over title and content fused with kNN by
// reciprocal rank fusion. A nil vector searches BM25 only.
func (c *Client) HybridSearch(ctx context.Context, query string, vector []float32, k int) ([]vectorstore.Hit, error) {
	if k <= 0 {
		k = 5
	}
	standard := map[string]any{
		"multi_match": map[string]any{
			"query":  query,
			"fields": []string{"content", "title^2"},
		},
	}
	if vector == nil {
		return c.search(ctx, map[string]any{"query": standard, "size": k})
	}

	// Use reciprocal rank fusion (RRF) to combine BM25 and vector results
	return c.search(ctx, map[string]any{
		"retriever": map[string]any{
			"rrf": map[string]any{
				"retrievers": []map[string]any{
					{"standard": map[string]any{"query": standard}},
					{"knn": map[string]any{
						"field":          "embedding",
						"query_vector":   vector,
						"k":              k,
						"num_candidates": k * 2,
					}},
				},
			},
		},
		"size": k,
	})
}

func (c *Client) search(ctx context.Context, body map[string]any) ([]vectorstore.Hit, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	hits := make([]vectorstore.Hit, len(sr.Hits.Hits))
	for i, h := range sr.Hits.Hits {
		hits[i] = vectorstore.Hit{
			ID:       h.ID,
			Score:    h.Score,
			Text:     h.Source.Content,
			Metadata: h.Source.metadata(),
		}
	}
	return hits, nil
}

var _ vectorstore.Store = (*Client)(nil)
