// Package chunker splits page content into overlapping chunks.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/mfenderov/confluence-sync/internal/markdown"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// DefaultSeparators are tried in order, coarsest first. The sentence
// endings cover Korean declarative forms as well as Latin punctuation.
var DefaultSeparators = []string{
	"\n\n", "\n", "。", ". ",
	"다. ", "요. ", "죠. ", "함. ", "음. ", "됨. ", "임. ",
	"! ", "? ", "; ", ", ", " ", "",
}

var headingSeparators = []string{"\n# ", "\n## ", "\n### "}

// Chunker splits text recursively on a separator hierarchy, merging
// adjacent pieces up to the chunk size with the configured overlap.
type Chunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Ensure overlap doesn't exceed chunk size
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split turns a page into ordered chunks with metadata. Pages without
// content produce no chunks.
func (c *Chunker) Split(page models.Page) []models.Chunk {
	texts := c.SplitText(page.Content)
	if len(texts) == 0 {
		return nil
	}

	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{
			Content: text,
			Metadata: models.ChunkMetadata{
				DocumentID:  page.ID,
				Title:       page.Title,
				URL:         page.URL,
				ChunkIndex:  i,
				TotalChunks: len(texts),
			},
		}
	}
	return chunks
}

// SplitText splits raw text. Markdown with headings is split on heading
// boundaries before falling back to the paragraph hierarchy.
func (c *Chunker) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seps := c.separators
	if markdown.IsMarkdown(text) && len(markdown.HeadingLevels(text)) > 0 {
		seps = append(append([]string{}, headingSeparators...), seps...)
	}
	return c.split(text, seps)
}

func (c *Chunker) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var rest []string
	for i, s := range seps {
		if s == "" {
			sep = s
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}

	var (
		out  []string
		good []string
	)
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) < c.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, c.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good)...)
	}
	return out
}

// merge packs small pieces into chunks no longer than chunkSize, carrying
// up to overlap characters from the end of one chunk into the next.
func (c *Chunker) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > c.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				out = append(out, doc)
			}
			for total > c.overlap || (total+n > c.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeep splits text on sep, keeping sep at the start of each following
// piece. An empty sep splits into characters.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
