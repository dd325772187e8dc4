// Package snapshot reads and writes crawl output: the crawl snapshot JSON,
// per-page markdown exports and the processed chunks file.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mfenderov/confluence-sync/internal/atomicfile"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

// Crawl types.
const (
	TypeFull        = "full"
	TypeIncremental = "incremental"
)

// Failure is a page the crawler could not fetch.
type Failure struct {
	URL    string `json:"url"`
	PageID string `json:"page_id,omitempty"`
	Reason string `json:"reason"`
}

// Snapshot is the full result of one crawl.
type Snapshot struct {
	CrawlTimestamp string        `json:"crawl_timestamp"`
	CrawlType      string        `json:"crawl_type"`
	TotalPages     int           `json:"total_pages"`
	Pages          []models.Page `json:"pages"`
	Failed         []Failure     `json:"failed,omitempty"`
}

// New builds a snapshot stamped with now.
func New(pages []models.Page, failed []Failure, full bool, now time.Time) *Snapshot {
	kind := TypeIncremental
	if full {
		kind = TypeFull
	}
	return &Snapshot{
		CrawlTimestamp: now.Format(time.RFC3339),
		CrawlType:      kind,
		TotalPages:     len(pages),
		Pages:          pages,
		Failed:         failed,
	}
}

// FailedIDs returns the page ids of failures that carry one.
func (s *Snapshot) FailedIDs() []string {
	var ids []string
	for _, f := range s.Failed {
		if f.PageID != "" {
			ids = append(ids, f.PageID)
		}
	}
	return ids
}

// File is a crawl snapshot on disk.
type File struct {
	path string
}

// NewFile returns a handle for the snapshot at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the snapshot location.
func (f *File) Path() string {
	return f.path
}

// Write atomically replaces the snapshot file.
func (f *File) Write(s *Snapshot) error {
	s.TotalPages = len(s.Pages)
	if err := atomicfile.WriteJSON(f.path, s); err != nil {
		return fmt.Errorf("failed to write crawl snapshot: %w", err)
	}
	return nil
}

// Read loads the snapshot file.
func (f *File) Read() (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read crawl snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse crawl snapshot %s: %w", f.path, err)
	}
	return &s, nil
}

var unsafeName = regexp.MustCompile(`[\\/*?:"<>|\x00-\x1f]`)

// MarkdownFilename builds "<page_id>_<title>.md" with unsafe characters
// replaced and the title capped at 100 characters.
func MarkdownFilename(p models.Page) string {
	title := unsafeName.ReplaceAllString(strings.TrimSpace(p.Title), "_")
	if r := []rune(title); len(r) > 100 {
		title = string(r[:100])
	}
	if title == "" {
		return p.ID + ".md"
	}
	return p.ID + "_" + title + ".md"
}

// RenderMarkdown renders a page with a source header.
func RenderMarkdown(p models.Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "> Source: %s  \n", p.URL)
	fmt.Fprintf(&b, "> Crawled: %s  \n", p.CrawledAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "> Page ID: %s\n\n", p.ID)
	b.WriteString("---\n\n")
	b.WriteString(p.Content)
	b.WriteString("\n")
	return b.String()
}

// ExportMarkdown writes one markdown file per page into dir and returns the
// number written.
func ExportMarkdown(dir string, pages []models.Page) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}
	for i, p := range pages {
		path := filepath.Join(dir, MarkdownFilename(p))
		if err := atomicfile.Write(path, []byte(RenderMarkdown(p)), 0o644); err != nil {
			return i, err
		}
	}
	return len(pages), nil
}

// chunksFile is the processed chunks document.
type chunksFile struct {
	TotalChunks int            `json:"total_chunks"`
	Chunks      []models.Chunk `json:"chunks"`
}

// WriteChunks saves preprocessed chunks.
func WriteChunks(path string, chunks []models.Chunk) error {
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	if err := atomicfile.WriteJSON(path, chunksFile{TotalChunks: len(chunks), Chunks: chunks}); err != nil {
		return fmt.Errorf("failed to write chunks: %w", err)
	}
	return nil
}

// ReadChunks loads preprocessed chunks.
func ReadChunks(path string) ([]models.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	var f chunksFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse chunks %s: %w", path, err)
	}
	return f.Chunks, nil
}
