package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestChunkID(t *testing.T) {
	tests := []struct {
		name  string
		docID string
		index int
		want  string
	}{
		{"first chunk", "100001", 0, "100001_chunk_0"},
		{"later chunk", "100001", 12, "100001_chunk_12"},
		{"hash id", "a1b2c3d4e5f60718", 3, "a1b2c3d4e5f60718_chunk_3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChunkID(tt.docID, tt.index); got != tt.want {
				t.Errorf("ChunkID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunk_IDUsesMetadata(t *testing.T) {
	c := Chunk{Metadata: ChunkMetadata{DocumentID: "42", ChunkIndex: 7}}
	if got := c.ID(); got != "42_chunk_7" {
		t.Errorf("ID() = %q, want %q", got, "42_chunk_7")
	}
}

func TestPage_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(Page{ID: "1", Title: "T"})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	// The crawl snapshot file uses these keys.
	for _, field := range []string{`"page_id"`, `"title"`, `"url"`, `"version"`, `"last_modified"`, `"content"`, `"depth"`, `"crawled_at"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("JSON should contain field %s, got: %s", field, data)
		}
	}
}

func TestGenerateDocumentID(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"display URL", "https://wiki.example.com/display/SPACE/Home"},
		{"URL with query", "https://wiki.example.com/wiki/spaces/X/overview?mode=global"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := GenerateDocumentID(tt.url)
			if len(id) != 16 {
				t.Errorf("ID length should be 16, got %d", len(id))
			}
			if id != GenerateDocumentID(tt.url) {
				t.Error("ID should be deterministic")
			}
		})
	}

	if GenerateDocumentID("https://a/1") == GenerateDocumentID("https://a/2") {
		t.Error("different URLs should generate different IDs")
	}
}
