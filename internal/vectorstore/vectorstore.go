// Package vectorstore defines the vector store contract and its local
// SQLite-backed implementation.
package vectorstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/mfenderov/confluence-sync/pkg/models"
)

// ErrStoreMissing is returned when an existing store was required but its
// directory does not exist.
var ErrStoreMissing = errors.New("vector store not found")

// Record is one chunk vector with its text and metadata.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata models.ChunkMetadata
}

// RecordFromChunk pairs a chunk with its embedding.
func RecordFromChunk(c models.Chunk, vector []float32) Record {
	return Record{ID: c.ID(), Vector: vector, Text: c.Content, Metadata: c.Metadata}
}

// Hit is a search result.
type Hit struct {
	ID       string
	Score    float64
	Text     string
	Metadata models.ChunkMetadata
}

// Store is implemented by every vector store backend.
type Store interface {
	// Upsert writes records, replacing any with the same id.
	Upsert(ctx context.Context, records []Record) error
	// DeleteByDocument removes every record whose document_id is in ids and
	// returns how many were removed.
	DeleteByDocument(ctx context.Context, ids []string) (int, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// Search returns the k records most similar to vector.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Close() error
}

// EncodeVector packs a vector as little-endian float32s.
func EncodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeVector reverses EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
