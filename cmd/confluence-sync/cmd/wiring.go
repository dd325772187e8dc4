package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mfenderov/confluence-sync/internal/checkpoint"
	"github.com/mfenderov/confluence-sync/internal/chunker"
	"github.com/mfenderov/confluence-sync/internal/config"
	"github.com/mfenderov/confluence-sync/internal/crawler"
	"github.com/mfenderov/confluence-sync/internal/elasticsearch"
	"github.com/mfenderov/confluence-sync/internal/embeddings"
	"github.com/mfenderov/confluence-sync/internal/indexer"
	"github.com/mfenderov/confluence-sync/internal/pipeline"
	"github.com/mfenderov/confluence-sync/internal/setup"
	"github.com/mfenderov/confluence-sync/internal/storage"
	"github.com/mfenderov/confluence-sync/internal/updater"
	"github.com/mfenderov/confluence-sync/internal/vectorstore"
)

func newEmbedder(cfg config.Config) (*embeddings.Client, error) {
	client, err := embeddings.New(embeddings.Config{
		SocketPath:         cfg.Embeddings.SocketPath,
		BaseURL:            cfg.Embeddings.BaseURL,
		Model:              cfg.Embeddings.Model,
		Timeout:            cfg.Embeddings.Timeout,
		FallbackModel:      cfg.Embeddings.FallbackModel,
		FallbackSocketPath: cfg.Embeddings.FallbackSocketPath,
		FallbackBaseURL:    cfg.Embeddings.FallbackBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings client: %w", err)
	}
	return client, nil
}

func newChunker(cfg config.Config) *chunker.Chunker {
	return chunker.New(
		chunker.WithChunkSize(cfg.Chunker.ChunkSize),
		chunker.WithOverlap(cfg.Chunker.Overlap),
	)
}

func newCrawler(cfg config.Config, full bool) (*crawler.Crawler, error) {
	c, err := crawler.New(crawler.Config{
		RootURLs:   cfg.Confluence.RootURLs,
		Username:   cfg.Confluence.Username,
		APIToken:   cfg.Confluence.APIToken,
		Full:       full,
		MaxDepth:   cfg.Crawler.MaxDepth,
		MaxPages:   cfg.Crawler.MaxPages,
		Delay:      cfg.Crawler.Delay,
		Timeout:    cfg.Crawler.Timeout,
		Retries:    cfg.Crawler.Retries,
		RetryDelay: cfg.Crawler.RetryDelay,
		UserAgent:  cfg.Crawler.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create crawler: %w", err)
	}
	return c, nil
}

// newStorage returns nil when object storage is disabled.
func newStorage(cfg config.Config) (*storage.Client, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	client, err := storage.New(storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UseSSL:          cfg.Storage.UseSSL,
		Prefix:          cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

func newElasticsearch(cfg config.Config) (*elasticsearch.Client, error) {
	client, err := elasticsearch.New(elasticsearch.Config{
		Addresses: cfg.Elasticsearch.Addresses,
		Index:     cfg.Elasticsearch.Index,
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
		Dims:      embeddings.Dimensions(cfg.Embeddings.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}
	return client, nil
}

// openStore opens the configured backend. With existing set, a missing
// store is an error instead of being created.
func openStore(ctx context.Context, cfg config.Config, existing bool) (vectorstore.Store, error) {
	switch cfg.VectorStore.Backend {
	case config.BackendSQLite, "":
		open := vectorstore.Open
		if existing {
			open = vectorstore.OpenExisting
		}
		store, err := open(cfg.Paths.VectorDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendElasticsearch:
		client, err := newElasticsearch(cfg)
		if err != nil {
			return nil, err
		}
		ok, err := client.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			if existing {
				return nil, fmt.Errorf("%w: index %s", vectorstore.ErrStoreMissing, cfg.Elasticsearch.Index)
			}
			if err := client.CreateIndex(ctx); err != nil {
				return nil, err
			}
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.VectorStore.Backend)
	}
}

func newIndexer(cfg config.Config, store vectorstore.Store, embedder *embeddings.Client, batchSize int) (*indexer.Indexer, error) {
	if batchSize <= 0 {
		batchSize = cfg.Indexer.BatchSize
	}
	return indexer.New(indexer.Config{BatchSize: batchSize}, indexer.Deps{
		Chunker:     newChunker(cfg),
		Embedder:    embedder,
		Store:       store,
		Checkpoints: checkpoint.Open(cfg.Paths.CheckpointFile()),
		Logger:      slog.Default(),
	})
}

// updaterOpener opens the store only when the pipeline has work for it.
func updaterOpener(cfg config.Config, embedder *embeddings.Client, batchSize int) pipeline.UpdaterOpener {
	return func(ctx context.Context) (pipeline.Updater, func() error, error) {
		store, err := openStore(ctx, cfg, false)
		if err != nil {
			return nil, nil, err
		}
		ix, err := newIndexer(cfg, store, embedder, batchSize)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		up, err := updater.New(store, ix, slog.Default())
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return up, store.Close, nil
	}
}

type probeNeeds struct {
	crawl bool
	embed bool
	store bool // an existing store is required
}

// newChecker builds the environment checks a command depends on.
func newChecker(cfg config.Config, embedder *embeddings.Client, needs probeNeeds) (*setup.Checker, error) {
	var probes []setup.Probe
	if needs.crawl {
		probes = append(probes, setup.Required("confluence.root_urls", strings.Join(cfg.Confluence.RootURLs, ","), "set CONFSYNC_CONFLUENCE_ROOT_URLS"))
		if cfg.Confluence.BaseURL != "" {
			probes = append(probes, setup.Reachable("confluence", cfg.Confluence.BaseURL,
				cfg.Confluence.Username, cfg.Confluence.APIToken, &http.Client{Timeout: cfg.Crawler.Timeout}))
		}
	}
	if needs.embed && embedder != nil {
		probes = append(probes, setup.Embedder(embedder))
	}
	switch cfg.VectorStore.Backend {
	case config.BackendElasticsearch:
		es, err := newElasticsearch(cfg)
		if err != nil {
			return nil, err
		}
		probes = append(probes, setup.Service("elasticsearch", es))
	default:
		if needs.store {
			probes = append(probes, setup.VectorStore(cfg.Paths.VectorDir, true))
		}
	}
	return setup.New(probes...), nil
}
