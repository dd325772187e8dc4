// Package changes diffs a fresh crawl snapshot against the sync state.
package changes

import (
	"slices"

	"github.com/mfenderov/confluence-sync/internal/syncstate"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

// Set partitions a snapshot into the pages that need work.
type Set struct {
	Added    []models.Page
	Modified []models.Page
	Deleted  []string

	// Unchanged counts fetched pages that fell into no bucket.
	Unchanged int
}

// Empty reports whether the set carries no work.
func (s Set) Empty() bool {
	return len(s.Added) == 0 && len(s.Modified) == 0 && len(s.Deleted) == 0
}

// Total is the number of pages across all buckets.
func (s Set) Total() int {
	return len(s.Added) + len(s.Modified) + len(s.Deleted)
}

// Reindex returns added then modified pages, the pages to embed.
func (s Set) Reindex() []models.Page {
	pages := make([]models.Page, 0, len(s.Added)+len(s.Modified))
	pages = append(pages, s.Added...)
	return append(pages, s.Modified...)
}

// Stale returns the ids whose existing vectors must be removed.
func (s Set) Stale() []string {
	ids := make([]string, 0, len(s.Modified)+len(s.Deleted))
	for _, p := range s.Modified {
		ids = append(ids, p.ID)
	}
	return append(ids, s.Deleted...)
}

// Options tune detection.
type Options struct {
	// Full marks every fetched page modified.
	Full bool

	// Failed lists ids the fetcher saw but could not fetch. They count as
	// present in the snapshot and are never reported deleted.
	Failed []string
}

// Detect classifies every snapshot page against the tracked pages.
//
// A page is added when untracked. It is modified when both versions are
// known and differ, or failing that when both last-modified stamps are known
// and differ. Anything else is unchanged, including pages where neither
// signal is available on both sides. Tracked ids missing from the snapshot
// are deleted.
func Detect(tracked map[string]syncstate.TrackedPage, snapshot []models.Page, opts Options) Set {
	var set Set
	seen := make(map[string]struct{}, len(snapshot)+len(opts.Failed))

	for _, page := range snapshot {
		if _, dup := seen[page.ID]; dup {
			continue
		}
		seen[page.ID] = struct{}{}

		prev, ok := tracked[page.ID]
		switch {
		case !ok:
			set.Added = append(set.Added, page)
		case opts.Full || Modified(prev, page):
			set.Modified = append(set.Modified, page)
		default:
			set.Unchanged++
		}
	}
	for _, id := range opts.Failed {
		seen[id] = struct{}{}
	}

	for id := range tracked {
		if _, ok := seen[id]; !ok {
			set.Deleted = append(set.Deleted, id)
		}
	}
	slices.Sort(set.Deleted)
	return set
}

// Modified applies the version then last-modified precedence to one page.
func Modified(prev syncstate.TrackedPage, page models.Page) bool {
	if prev.Version != 0 && page.Version != 0 {
		return prev.Version != page.Version
	}
	if prev.LastModified != "" && page.LastModified != "" {
		return prev.LastModified != page.LastModified
	}
	return false
}
