package vectorstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite "modernc.org/sqlite"
)

// DBFile is the database file name inside the store directory.
const DBFile = "vectors.db"

// maxParams bounds the placeholders per IN (...) clause.
const maxParams = 500

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	chunk_index  INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	content      TEXT NOT NULL,
	embedding    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
`

var registerOnce sync.Once

func registerFunctions() {
	registerOnce.Do(func() {
		_ = sqlite.RegisterDeterministicScalarFunction("vec_cosine", 2, vecCosine)
	})
}

func vecCosine(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_cosine: expected 2 arguments, got %d", len(args))
	}
	a, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("vec_cosine: unsupported argument type %T", args[0])
	}
	b, ok := args[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("vec_cosine: unsupported argument type %T", args[1])
	}
	va, err := DecodeVector(a)
	if err != nil {
		return nil, err
	}
	vb, err := DecodeVector(b)
	if err != nil {
		return nil, err
	}
	return Cosine(va, vb), nil
}

// SQLiteStore keeps vectors in a single SQLite file inside a directory, so
// the whole store can be snapshotted by copying the directory.
type SQLiteStore struct {
	db  *sql.DB
	dir string
}

// Open opens the store in dir, creating it when needed.
func Open(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return open(dir)
}

// OpenExisting opens the store in dir and fails with ErrStoreMissing when
// the directory or database file is absent.
func OpenExisting(dir string) (*SQLiteStore, error) {
	if !Exists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrStoreMissing, dir)
	}
	return open(dir)
}

// Exists reports whether dir holds a store.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, DBFile))
	return err == nil && !info.IsDir()
}

func open(dir string) (*SQLiteStore, error) {
	registerFunctions()

	dbPath := filepath.Join(dir, DBFile)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; also keeps the WAL checkpointed on Close.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, dir: dir}, nil
}

// Dir returns the store directory.
func (s *SQLiteStore) Dir() string {
	return s.dir
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert writes all records in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunks
		(id, document_id, title, url, chunk_index, total_chunks, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID == "" {
			return errors.New("record id is required")
		}
		m := r.Metadata
		if _, err := stmt.ExecContext(ctx, r.ID, m.DocumentID, m.Title, m.URL,
			m.ChunkIndex, m.TotalChunks, r.Text, EncodeVector(r.Vector)); err != nil {
			return fmt.Errorf("upserting %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	return nil
}

// DeleteByDocument looks up the chunk ids of the given documents and deletes
// them by id in one transaction.
func (s *SQLiteStore) DeleteByDocument(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var chunkIDs []string
	for _, batch := range batches(ids, maxParams) {
		rows, err := tx.QueryContext(ctx,
			"SELECT id FROM chunks WHERE document_id IN ("+placeholders(len(batch))+")", anySlice(batch)...)
		if err != nil {
			return 0, fmt.Errorf("selecting chunks: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return 0, fmt.Errorf("scanning chunk id: %w", err)
			}
			chunkIDs = append(chunkIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return 0, err
		}
		rows.Close()
	}

	deleted := 0
	for _, batch := range batches(chunkIDs, maxParams) {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM chunks WHERE id IN ("+placeholders(len(batch))+")", anySlice(batch)...)
		if err != nil {
			return 0, fmt.Errorf("deleting chunks: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return deleted, nil
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// Search scores every chunk with vec_cosine and returns the top k.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, title, url, chunk_index, total_chunks, content,
		vec_cosine(embedding, ?) AS score
		FROM chunks ORDER BY score DESC LIMIT ?`, EncodeVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		m := &h.Metadata
		if err := rows.Scan(&h.ID, &m.DocumentID, &m.Title, &m.URL, &m.ChunkIndex, &m.TotalChunks, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func batches(ss []string, size int) [][]string {
	var out [][]string
	for len(ss) > 0 {
		n := min(size, len(ss))
		out = append(out, ss[:n])
		ss = ss[n:]
	}
	return out
}

var _ Store = (*SQLiteStore)(nil)
