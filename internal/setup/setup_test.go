package setup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/confluence-sync/internal/syncstate"
	"github.com/mfenderov/confluence-sync/internal/vectorstore"
)

func static(c Check) Probe {
	return func(context.Context) Check { return c }
}

func TestChecker_RunKeepsOrder(t *testing.T) {
	var running, peak atomic.Int32
	slow := func(name string) Probe {
		return func(context.Context) Check {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return Check{Name: name, Status: Pass}
		}
	}

	report := New(slow("a"), slow("b"), slow("c")).Run(t.Context())

	require.Len(t, report.Checks, 3)
	assert.Equal(t, "a", report.Checks[0].Name)
	assert.Equal(t, "c", report.Checks[2].Name)
	assert.Greater(t, peak.Load(), int32(1), "probes should run concurrently")
}

func TestReport(t *testing.T) {
	report := New(
		static(Check{Name: "ok", Status: Pass}),
		static(Check{Name: "meh", Status: Warn}),
		static(Check{Name: "embedder", Status: Fail, Detail: "connection refused"}),
	).Run(t.Context())

	assert.Equal(t, 1, report.Count(Pass))
	assert.Equal(t, 1, report.Count(Warn))
	assert.False(t, report.OK())
	assert.EqualError(t, report.Err(), "embedder: connection refused")

	warnOnly := New(static(Check{Name: "meh", Status: Warn})).Run(t.Context())
	assert.True(t, warnOnly.OK())
	assert.NoError(t, New(static(Check{Status: Warn})).Check(t.Context()))
}

func TestRequired(t *testing.T) {
	assert.Equal(t, Fail, Required("confluence.root_urls", " ", "set it")(t.Context()).Status)
	assert.Equal(t, Pass, Required("confluence.root_urls", "https://wiki", "")(t.Context()).Status)
}

func TestDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Equal(t, Pass, Directory("data", root, false)(t.Context()).Status)
	assert.Equal(t, Fail, Directory("data", file, false)(t.Context()).Status)
	assert.Equal(t, Warn, Directory("logs", filepath.Join(root, "logs"), false)(t.Context()).Status)

	created := filepath.Join(root, "backups")
	assert.Equal(t, Pass, Directory("backups", created, true)(t.Context()).Status)
	assert.DirExists(t, created)
}

func TestSyncState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_sync.json")
	assert.Equal(t, Warn, SyncState(path)(t.Context()).Status)

	st := syncstate.New()
	st.Pages["1"] = syncstate.TrackedPage{Title: "a"}
	require.NoError(t, syncstate.Open(path).Save(st))

	c := SyncState(path)(t.Context())
	assert.Equal(t, Pass, c.Status)
	assert.Equal(t, "1 pages tracked", c.Detail)
}

type fakeProber struct{ err error }

func (f fakeProber) Probe(context.Context) (int, error) { return 1024, f.err }
func (f fakeProber) Model() string                     { return "ai/bge-m3" }

func TestEmbedder(t *testing.T) {
	c := Embedder(fakeProber{})(t.Context())
	assert.Equal(t, Pass, c.Status)
	assert.Equal(t, "ai/bge-m3 (1024 dims)", c.Detail)

	c = Embedder(fakeProber{err: errors.New("dial unix: no such file")})(t.Context())
	assert.Equal(t, Fail, c.Status)
	assert.Contains(t, c.Fix, "ai/bge-m3")
}

func TestReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if user, token, ok := r.BasicAuth(); !ok || user != "bot" || token != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
			}
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name  string
		path  string
		user  string
		token string
		want  Status
	}{
		{"authorized", "/ok", "bot", "secret", Pass},
		{"bad token", "/ok", "bot", "wrong", Fail},
		{"server error", "/down", "", "", Fail},
		{"not found", "/missing", "", "", Warn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Reachable("confluence", srv.URL+tt.path, tt.user, tt.token, srv.Client())(t.Context())
			assert.Equal(t, tt.want, c.Status, c.Detail)
		})
	}

	c := Reachable("confluence", "http://127.0.0.1:1/", "", "", nil)(t.Context())
	assert.Equal(t, Fail, c.Status)
}

func TestVectorStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vectordb")
	assert.Equal(t, Warn, VectorStore(dir, false)(t.Context()).Status)
	assert.Equal(t, Fail, VectorStore(dir, true)(t.Context()).Status)

	store, err := vectorstore.Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.Equal(t, Pass, VectorStore(dir, true)(t.Context()).Status)
}

type fakePinger bool

func (f fakePinger) Ping(context.Context) bool { return bool(f) }

type fakeBucket struct{ err error }

func (f fakeBucket) EnsureBucket(context.Context) error { return f.err }
func (f fakeBucket) Bucket() string                     { return "confluence-sync" }

func TestServiceAndBucket(t *testing.T) {
	assert.Equal(t, Pass, Service("elasticsearch", fakePinger(true))(t.Context()).Status)
	assert.Equal(t, Fail, Service("elasticsearch", fakePinger(false))(t.Context()).Status)

	assert.Equal(t, Pass, Bucket(fakeBucket{})(t.Context()).Status)
	assert.Equal(t, Warn, Bucket(fakeBucket{err: errors.New("refused")})(t.Context()).Status, "archiving is optional")
}
