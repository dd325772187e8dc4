package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mfenderov/confluence-sync/internal/checkpoint"
	"github.com/mfenderov/confluence-sync/internal/config"
	"github.com/mfenderov/confluence-sync/internal/indexer"
	"github.com/mfenderov/confluence-sync/internal/snapshot"
	"github.com/mfenderov/confluence-sync/pkg/models"
	"github.com/spf13/cobra"
)

var (
	buildRebuild   bool
	buildBatchSize int
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the vector store from the crawl snapshot",
	Long: `Embed every chunk of the crawl snapshot into the vector store.

Progress is checkpointed after every batch, so an interrupted build resumes
where it stopped. Without a crawl snapshot the processed chunks file is used.

Examples:
  confluence-sync build
  confluence-sync build --rebuild
  confluence-sync build --batch-size 50`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildRebuild, "rebuild", false, "Delete the existing store and checkpoint first")
	buildCmd.Flags().IntVar(&buildBatchSize, "batch-size", 0, "Chunks per embedding batch (default from config)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if buildRebuild {
		if err := dropStore(ctx, cfg); err != nil {
			return err
		}
	}

	chunks, err := loadChunks(cfg)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Println("No chunks to index.")
		return nil
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, false)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer store.Close()

	ix, err := newIndexer(cfg, store, embedder, buildBatchSize)
	if err != nil {
		return err
	}
	res, err := ix.IndexChunks(ctx, chunks)
	if err != nil {
		return fmt.Errorf("build failed, rerun to resume: %w", err)
	}
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d chunks in %v\n", res.Chunks, res.Duration.Round(time.Millisecond))
	if res.StartBatch > 0 {
		fmt.Printf("  Resumed at batch %d of %d\n", res.StartBatch+1, res.TotalBatches)
	}
	fmt.Printf("  Vectors: %d\n", total)
	if cfg.VectorStore.Backend != config.BackendElasticsearch {
		fmt.Printf("  Size: %s (%s)\n", humanBytes(dirSize(cfg.Paths.VectorDir)), cfg.Paths.VectorDir)
	}
	if res.Degraded {
		fmt.Println("  Warning: embeddings ran in degraded mode")
	}
	return nil
}

// loadChunks chunks every page of the crawl snapshot. Without a snapshot it
// falls back to the processed chunks file.
func loadChunks(cfg config.Config) ([]models.Chunk, error) {
	snap, err := snapshot.NewFile(cfg.Paths.Snapshot).Read()
	if err == nil {
		return indexer.Prepare(newChunker(cfg), snap.Pages), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	chunks, err := snapshot.ReadChunks(cfg.Paths.ChunksFile)
	if err != nil {
		return nil, fmt.Errorf("no crawl snapshot and no chunks file, run crawl first: %w", err)
	}
	return chunks, nil
}

func dropStore(ctx context.Context, cfg config.Config) error {
	if cfg.VectorStore.Backend == config.BackendElasticsearch {
		es, err := newElasticsearch(cfg)
		if err != nil {
			return err
		}
		if err := es.DeleteIndex(ctx); err != nil {
			return err
		}
		return checkpoint.Open(cfg.Paths.CheckpointFile()).Clear()
	}
	if err := os.RemoveAll(cfg.Paths.VectorDir); err != nil {
		return fmt.Errorf("failed to remove vector store: %w", err)
	}
	return nil
}

func dirSize(dir string) int64 {
	var size int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
}
