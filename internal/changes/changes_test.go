package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/confluence-sync/internal/syncstate"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

func TestModified(t *testing.T) {
	tests := []struct {
		name string
		prev syncstate.TrackedPage
		page models.Page
		want bool
	}{
		{
			name: "version bump wins over equal last_modified",
			prev: syncstate.TrackedPage{Version: 4, LastModified: "2025-02-01"},
			page: models.Page{Version: 5, LastModified: "2025-02-01"},
			want: true,
		},
		{
			name: "same non-zero version ignores last_modified",
			prev: syncstate.TrackedPage{Version: 4, LastModified: "2025-02-01"},
			page: models.Page{Version: 4, LastModified: "2025-03-01"},
			want: false,
		},
		{
			name: "unknown version falls back to last_modified",
			prev: syncstate.TrackedPage{Version: 0, LastModified: "2025-02-01"},
			page: models.Page{Version: 7, LastModified: "2025-03-01"},
			want: true,
		},
		{
			name: "equal last_modified without versions",
			prev: syncstate.TrackedPage{LastModified: "2025-02-01"},
			page: models.Page{LastModified: "2025-02-01"},
			want: false,
		},
		{
			name: "one side missing last_modified",
			prev: syncstate.TrackedPage{LastModified: "2025-02-01"},
			page: models.Page{},
			want: false,
		},
		{
			name: "no signal on either side",
			prev: syncstate.TrackedPage{},
			page: models.Page{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Modified(tt.prev, tt.page))
		})
	}
}

func TestDetect_Buckets(t *testing.T) {
	tracked := map[string]syncstate.TrackedPage{
		"100001": {Version: 1},
		"100002": {Version: 1},
		"100003": {Version: 2},
	}
	snapshot := []models.Page{
		{ID: "100003", Version: 3},
		{ID: "100004", Version: 1},
		{ID: "100001", Version: 1},
	}

	set := Detect(tracked, snapshot, Options{})

	require.Len(t, set.Added, 1)
	assert.Equal(t, "100004", set.Added[0].ID)
	require.Len(t, set.Modified, 1)
	assert.Equal(t, "100003", set.Modified[0].ID)
	assert.Equal(t, []string{"100002"}, set.Deleted)
	assert.Equal(t, 1, set.Unchanged)
	assert.Equal(t, 3, set.Total())
	assert.False(t, set.Empty())
}

func TestDetect_DeletedIsSetDifference(t *testing.T) {
	tracked := map[string]syncstate.TrackedPage{"100001": {}, "100002": {}}

	set := Detect(tracked, []models.Page{{ID: "100001"}}, Options{})

	assert.Equal(t, []string{"100002"}, set.Deleted)
	assert.Empty(t, set.Added)
	assert.Empty(t, set.Modified)
}

func TestDetect_UntrackedIsAlwaysAdded(t *testing.T) {
	set := Detect(nil, []models.Page{{ID: "a"}, {ID: "b", Version: 9}}, Options{Full: true})

	assert.Len(t, set.Added, 2)
	assert.Empty(t, set.Modified)
}

func TestDetect_FullMarksTrackedModifiedAndKeepsDeletion(t *testing.T) {
	tracked := map[string]syncstate.TrackedPage{"1": {Version: 1}, "2": {Version: 1}}

	set := Detect(tracked, []models.Page{{ID: "1", Version: 1}}, Options{Full: true})

	require.Len(t, set.Modified, 1)
	assert.Equal(t, "1", set.Modified[0].ID)
	assert.Equal(t, []string{"2"}, set.Deleted)
	assert.Zero(t, set.Unchanged)
}

func TestDetect_FailedPagesAreNotDeleted(t *testing.T) {
	tracked := map[string]syncstate.TrackedPage{"1": {}, "2": {}}

	set := Detect(tracked, []models.Page{{ID: "1"}}, Options{Failed: []string{"2"}})

	assert.Empty(t, set.Deleted)
	assert.True(t, set.Empty())
}

func TestDetect_DuplicateSnapshotEntriesCountOnce(t *testing.T) {
	set := Detect(nil, []models.Page{{ID: "1"}, {ID: "1"}}, Options{})

	assert.Len(t, set.Added, 1)
}

func TestSet_ReindexAndStale(t *testing.T) {
	set := Set{
		Added:    []models.Page{{ID: "a"}},
		Modified: []models.Page{{ID: "m"}},
		Deleted:  []string{"d"},
	}

	var reindex []string
	for _, p := range set.Reindex() {
		reindex = append(reindex, p.ID)
	}
	assert.Equal(t, []string{"a", "m"}, reindex)
	assert.Equal(t, []string{"m", "d"}, set.Stale())
}
