package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/confluence-sync/pkg/models"
)

func TestFile_WriteRead(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "confluence_backup.json"))
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := New(
		[]models.Page{{ID: "100001", Title: "Home", Version: 2, Content: "hi", CrawledAt: now}},
		[]Failure{{URL: "https://wiki/pages/100009", PageID: "100009", Reason: "timeout"}, {URL: "https://wiki/x", Reason: "timeout"}},
		false, now,
	)

	require.NoError(t, f.Write(snap))
	got, err := f.Read()
	require.NoError(t, err)

	assert.Equal(t, "2025-05-01T12:00:00Z", got.CrawlTimestamp)
	assert.Equal(t, TypeIncremental, got.CrawlType)
	assert.Equal(t, 1, got.TotalPages)
	assert.Equal(t, snap.Pages[0].ID, got.Pages[0].ID)
	assert.True(t, got.Pages[0].CrawledAt.Equal(now))
	assert.Equal(t, []string{"100009"}, got.FailedIDs())
}

func TestFile_ReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "confluence_backup.json")
	require.NoError(t, os.WriteFile(path, []byte("[oops"), 0o644))

	_, err := NewFile(path).Read()
	assert.Error(t, err)
}

func TestMarkdownFilename(t *testing.T) {
	tests := []struct {
		name string
		page models.Page
		want string
	}{
		{"plain", models.Page{ID: "1", Title: "Release Notes"}, "1_Release Notes.md"},
		{"unsafe chars", models.Page{ID: "2", Title: `a/b:c*d?"e"<f>|g`}, "2_a_b_c_d__e__f__g.md"},
		{"empty title", models.Page{ID: "3"}, "3.md"},
		{"korean", models.Page{ID: "4", Title: "배포 가이드"}, "4_배포 가이드.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MarkdownFilename(tt.page))
		})
	}

	long := MarkdownFilename(models.Page{ID: "5", Title: strings.Repeat("가", 150)})
	assert.Equal(t, "5_"+strings.Repeat("가", 100)+".md", long)
}

func TestExportMarkdown(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "confluence_pages")
	pages := []models.Page{
		{ID: "1", Title: "One", URL: "https://wiki/pages/1", Content: "body one"},
		{ID: "2", Title: "Two", URL: "https://wiki/pages/2", Content: "body two"},
	}

	n, err := ExportMarkdown(dir, pages)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(filepath.Join(dir, "1_One.md"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# One\n\n> Source: https://wiki/pages/1"))
	assert.Contains(t, string(data), "> Page ID: 1\n\n---\n\nbody one\n")
}

func TestChunks_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_chunks.json")
	chunks := []models.Chunk{{Content: "c", Metadata: models.ChunkMetadata{DocumentID: "1", TotalChunks: 1}}}

	require.NoError(t, WriteChunks(path, chunks))
	got, err := ReadChunks(path)
	require.NoError(t, err)
	assert.Equal(t, chunks, got)

	require.NoError(t, WriteChunks(path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_chunks":0,"chunks":[]}`, string(data))
}
