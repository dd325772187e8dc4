package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Page is a single document fetched from the wiki.
// Pages are immutable once produced by the crawler.
type Page struct {
	ID           string    `json:"page_id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Version      int       `json:"version"`       // 0 when unknown
	LastModified string    `json:"last_modified"` // empty when unknown
	Content      string    `json:"content"`
	Depth        int       `json:"depth"`
	CrawledAt    time.Time `json:"crawled_at"`
}

// ChunkMetadata is stored alongside every vector.
type ChunkMetadata struct {
	DocumentID  string `json:"document_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// Chunk is one ordered piece of a page's content.
type Chunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ID returns the deterministic vector id for the chunk.
func (c Chunk) ID() string {
	return ChunkID(c.Metadata.DocumentID, c.Metadata.ChunkIndex)
}

// ChunkID builds the vector id "<document_id>_chunk_<index>".
func ChunkID(documentID string, index int) string {
	return documentID + "_chunk_" + strconv.Itoa(index)
}

// GenerateDocumentID creates a deterministic ID from URL.
// Used for pages whose URL carries no numeric page id.
// The ID is a SHA-256 hash (first 16 chars) of the URL.
func GenerateDocumentID(url string) string {
	hash := sha256.Sum256([]byte(url))
	return hex.EncodeToString(hash[:])[:16]
}
