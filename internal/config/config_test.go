package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "last_sync.json", cfg.Paths.SyncState)
	assert.Equal(t, "confluence_backup.json", cfg.Paths.Snapshot)
	assert.Equal(t, BackendSQLite, cfg.VectorStore.Backend)
	assert.Equal(t, 100, cfg.Indexer.BatchSize)
	assert.Equal(t, 3, cfg.Crawler.Retries)
	assert.False(t, cfg.Storage.Enabled)
}

func TestPaths_CheckpointFile(t *testing.T) {
	p := Paths{VectorDir: filepath.Join("data", "vectordb")}
	assert.Equal(t, filepath.Join("data", "vectordb", ".vectordb_progress.json"), p.CheckpointFile())
}

func TestUnmarshalOverDefaults(t *testing.T) {
	yaml := `
confluence:
  base_url: https://wiki.example.com
  root_urls:
    - https://wiki.example.com/pages/viewpage.action?pageId=100
crawler:
  delay: 2s
  max_pages: 50
vector_store:
  backend: elasticsearch
embeddings:
  fallback_model: ai/bge-m3-cpu
`
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, []string{"https://wiki.example.com/pages/viewpage.action?pageId=100"}, cfg.Confluence.RootURLs)
	assert.Equal(t, 2*time.Second, cfg.Crawler.Delay)
	assert.Equal(t, 50, cfg.Crawler.MaxPages)
	assert.Equal(t, BackendElasticsearch, cfg.VectorStore.Backend)
	assert.Equal(t, "ai/bge-m3-cpu", cfg.Embeddings.FallbackModel)

	// untouched keys keep their defaults
	assert.Equal(t, "ai/bge-m3", cfg.Embeddings.Model)
	assert.Equal(t, 30*time.Second, cfg.Crawler.Timeout)
	assert.Equal(t, "vectordb", cfg.Paths.VectorDir)
}
