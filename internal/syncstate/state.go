// Package syncstate persists what has been synchronized from the wiki so far.
package syncstate

import (
	"time"

	"github.com/mfenderov/confluence-sync/pkg/models"
)

// MaxHistory is the number of sync records kept in the history.
const MaxHistory = 20

// Sync kinds recorded in the history.
const (
	KindFull        = "full"
	KindIncremental = "incremental"
)

// TrackedPage is the last synchronized view of one page.
type TrackedPage struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Version      int    `json:"version"`
	LastModified string `json:"last_modified"`
	LastCrawled  string `json:"last_crawled"`
}

// Record summarizes one completed sync run.
type Record struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Added     int    `json:"added"`
	Modified  int    `json:"modified"`
	Deleted   int    `json:"deleted"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// State is the on-disk sync state document.
type State struct {
	LastFullSync        *string                `json:"last_full_sync"`
	LastIncrementalSync *string                `json:"last_incremental_sync"`
	TotalPages          int                    `json:"total_pages"`
	Pages               map[string]TrackedPage `json:"pages"`
	SyncHistory         []Record               `json:"sync_history"`
}

// New returns an empty state.
func New() *State {
	return &State{
		Pages:       make(map[string]TrackedPage),
		SyncHistory: []Record{},
	}
}

// Commit describes the outcome of a run to fold into the state.
type Commit struct {
	Kind     string
	Added    []models.Page
	Modified []models.Page
	Deleted  []string
	Skipped  int
	Failed   int
}

// Apply folds a finished run into the state: tracked pages are upserted or
// removed, the sync timestamp for the kind is set and a record is appended.
func (s *State) Apply(c Commit, now time.Time) Record {
	if s.Pages == nil {
		s.Pages = make(map[string]TrackedPage)
	}
	stamp := formatTime(now)

	for _, group := range [][]models.Page{c.Added, c.Modified} {
		for _, p := range group {
			s.Pages[p.ID] = TrackedPage{
				Title:        p.Title,
				URL:          p.URL,
				Version:      p.Version,
				LastModified: p.LastModified,
				LastCrawled:  stamp,
			}
		}
	}
	for _, id := range c.Deleted {
		delete(s.Pages, id)
	}

	kind := c.Kind
	if kind == KindFull {
		s.LastFullSync = &stamp
	} else {
		kind = KindIncremental
		s.LastIncrementalSync = &stamp
	}
	s.TotalPages = len(s.Pages)

	rec := Record{
		Timestamp: stamp,
		Type:      kind,
		Added:     len(c.Added),
		Modified:  len(c.Modified),
		Deleted:   len(c.Deleted),
		Skipped:   c.Skipped,
		Failed:    c.Failed,
	}
	s.AppendHistory(rec)
	return rec
}

// AppendHistory appends rec, evicting the oldest records beyond MaxHistory.
func (s *State) AppendHistory(rec Record) {
	s.SyncHistory = append(s.SyncHistory, rec)
	if n := len(s.SyncHistory); n > MaxHistory {
		kept := make([]Record, MaxHistory)
		copy(kept, s.SyncHistory[n-MaxHistory:])
		s.SyncHistory = kept
	}
}

// LastSyncTime returns the most recent full or incremental sync time.
// The zero time is returned when no sync has completed yet.
func (s *State) LastSyncTime() time.Time {
	full := parseTime(s.LastFullSync)
	incr := parseTime(s.LastIncrementalSync)
	if incr.After(full) {
		return incr
	}
	return full
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// parseTime accepts RFC3339 and zone-less ISO timestamps.
func parseTime(v *string) time.Time {
	if v == nil || *v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, *v); err == nil {
			return t
		}
	}
	return time.Time{}
}
