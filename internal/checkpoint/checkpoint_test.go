package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Absent(t *testing.T) {
	p, ok := Open(filepath.Join(t.TempDir(), ".vectordb_progress.json")).Load()

	assert.False(t, ok)
	assert.Zero(t, p)
}

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".vectordb_progress.json")
	store := Open(path)

	require.NoError(t, store.Save(Progress{Next: 2, Total: 3, Fingerprint: "abc"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_completed_batch": 2, "total_batches": 3, "fingerprint": "abc"}`, string(data))

	p, ok := store.Load()
	assert.True(t, ok)
	assert.Equal(t, Progress{Next: 2, Total: 3, Fingerprint: "abc"}, p)

	require.NoError(t, store.Clear())
	assert.NoFileExists(t, path)
	require.NoError(t, store.Clear(), "clearing twice should be a no-op")
}

func TestLoad_BareBatchKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".vectordb_progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"last_completed_batch": 4}`), 0o644))

	p, ok := Open(path).Load()

	require.True(t, ok)
	assert.Equal(t, 4, p.Next)
	assert.False(t, p.Matches(5, ""), "a checkpoint without fingerprint never matches")
}

func TestProgress_Matches(t *testing.T) {
	p := Progress{Next: 2, Total: 3, Fingerprint: "abc"}

	assert.True(t, p.Matches(3, "abc"))
	assert.False(t, p.Matches(3, "abd"), "different chunk list")
	assert.False(t, p.Matches(4, "abc"), "different batch count")
	assert.False(t, Progress{Next: 7, Total: 3, Fingerprint: "abc"}.Matches(3, "abc"), "beyond batch count")
}

func TestLoad_CorruptIsIgnored(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"wrong type", `{"last_completed_batch": "two"}`},
		{"negative", `{"last_completed_batch": -1}`},
		{"negative total", `{"last_completed_batch": 1, "total_batches": -2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cp.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			p, ok := Open(path).Load()

			assert.False(t, ok)
			assert.Zero(t, p)
		})
	}
}
