package setup

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/mfenderov/confluence-sync/internal/syncstate"
	"github.com/mfenderov/confluence-sync/internal/vectorstore"
)

// Required fails when a configuration value is empty.
func Required(name, value, fix string) Probe {
	return func(context.Context) Check {
		if strings.TrimSpace(value) == "" {
			return Check{Name: name, Status: Fail, Detail: "not set", Fix: fix}
		}
		return Check{Name: name, Status: Pass}
	}
}

// Directory checks that path is a directory, creating it when create is set.
func Directory(name, path string, create bool) Probe {
	return func(context.Context) Check {
		info, err := os.Stat(path)
		switch {
		case err == nil && info.IsDir():
			return Check{Name: name, Status: Pass, Detail: path}
		case err == nil:
			return Check{Name: name, Status: Fail, Detail: path + " is not a directory"}
		case create:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return Check{Name: name, Status: Fail, Detail: err.Error()}
			}
			return Check{Name: name, Status: Pass, Detail: "created " + path}
		default:
			return Check{Name: name, Status: Warn, Detail: path + " does not exist", Fix: "mkdir -p " + path}
		}
	}
}

// SyncState reports how many pages the sync state tracks.
func SyncState(path string) Probe {
	return func(context.Context) Check {
		const name = "sync state"
		if _, err := os.Stat(path); err != nil {
			return Check{Name: name, Status: Warn, Detail: "no sync state yet", Fix: "the first sync will index every page"}
		}
		st := syncstate.Open(path).Load()
		return Check{Name: name, Status: Pass, Detail: fmt.Sprintf("%d pages tracked", len(st.Pages))}
	}
}

// EmbedProber is an embedder that can report its vector size.
type EmbedProber interface {
	Probe(ctx context.Context) (int, error)
	Model() string
}

// Embedder checks that the embedding model answers.
func Embedder(e EmbedProber) Probe {
	return func(ctx context.Context) Check {
		const name = "embedder"
		dims, err := e.Probe(ctx)
		if err != nil {
			return Check{Name: name, Status: Fail, Detail: err.Error(), Fix: "start the model runner and pull " + e.Model()}
		}
		return Check{Name: name, Status: Pass, Detail: fmt.Sprintf("%s (%d dims)", e.Model(), dims)}
	}
}

// Reachable checks that rawURL answers without a server error. When user is
// set the request carries basic auth and a 401/403 fails.
func Reachable(name, rawURL, user, token string, client *http.Client) Probe {
	return func(ctx context.Context) Check {
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return Check{Name: name, Status: Fail, Detail: err.Error()}
		}
		if user != "" {
			req.SetBasicAuth(user, token)
		}
		resp, err := client.Do(req)
		if err != nil {
			return Check{Name: name, Status: Fail, Detail: err.Error(), Fix: "check the URL and network access"}
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return Check{Name: name, Status: Fail, Detail: resp.Status, Fix: "check the username and API token"}
		case resp.StatusCode >= http.StatusInternalServerError:
			return Check{Name: name, Status: Fail, Detail: resp.Status}
		case resp.StatusCode >= http.StatusBadRequest:
			return Check{Name: name, Status: Warn, Detail: resp.Status}
		}
		return Check{Name: name, Status: Pass, Detail: rawURL}
	}
}

// VectorStore checks for a local vector store. A missing store fails only
// when required.
func VectorStore(dir string, required bool) Probe {
	return func(context.Context) Check {
		const name = "vector store"
		if vectorstore.Exists(dir) {
			return Check{Name: name, Status: Pass, Detail: dir}
		}
		c := Check{Name: name, Status: Warn, Detail: "no store in " + dir, Fix: "run confluence-sync build"}
		if required {
			c.Status = Fail
		}
		return c
	}
}

// Pinger is a remote service with a health check.
type Pinger interface {
	Ping(ctx context.Context) bool
}

// Service fails when a required remote service does not answer its ping.
func Service(name string, p Pinger) Probe {
	return func(ctx context.Context) Check {
		if !p.Ping(ctx) {
			return Check{Name: name, Status: Fail, Detail: "not reachable"}
		}
		return Check{Name: name, Status: Pass}
	}
}

// BucketEnsurer creates its bucket on demand.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
	Bucket() string
}

// Bucket warns when the archive bucket is unavailable. Archiving is
// optional so this never fails.
func Bucket(b BucketEnsurer) Probe {
	return func(ctx context.Context) Check {
		const name = "object storage"
		if err := b.EnsureBucket(ctx); err != nil {
			return Check{Name: name, Status: Warn, Detail: err.Error(), Fix: "rollback snapshots stay local only"}
		}
		return Check{Name: name, Status: Pass, Detail: b.Bucket()}
	}
}
