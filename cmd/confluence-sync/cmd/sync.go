package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfenderov/confluence-sync/internal/embeddings"
	"github.com/mfenderov/confluence-sync/internal/events"
	"github.com/mfenderov/confluence-sync/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	syncFull      bool
	syncForce     bool
	syncSkipCrawl bool
	syncSkipIndex bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one recoverable sync",
	Long: `Crawl Confluence, detect changed pages and update the vector store.

A rollback snapshot of the sync state, crawl snapshot and vector store is
taken before anything changes. If any step fails the snapshot is restored.
A log of the run is written under the configured log directory.

Examples:
  # Weekly incremental update
  confluence-sync sync

  # Re-index every page
  confluence-sync sync --full

  # Re-run indexing from the last crawl
  confluence-sync sync --skip-crawl --force`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Treat every crawled page as changed")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "Run the index step even when nothing changed")
	syncCmd.Flags().BoolVar(&syncSkipCrawl, "skip-crawl", false, "Reuse the existing crawl snapshot")
	syncCmd.Flags().BoolVar(&syncSkipIndex, "skip-index", false, "Stop after preprocessing")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()

	logPath, closeLog, err := openRunLog(cfg.Paths.LogDir, "sync", time.Now())
	if err != nil {
		return err
	}
	defer closeLog()
	slog.Info("sync starting", "full", syncFull, "force", syncForce,
		"skip_crawl", syncSkipCrawl, "skip_index", syncSkipIndex, "log", logPath)

	deps := pipeline.Deps{
		Chunker:  newChunker(cfg),
		Observer: events.Log(slog.Default()),
		Logger:   slog.Default(),
	}

	var embedder *embeddings.Client
	if !syncSkipIndex {
		if embedder, err = newEmbedder(cfg); err != nil {
			return err
		}
		deps.OpenUpdater = updaterOpener(cfg, embedder, 0)
	}
	if !syncSkipCrawl {
		c, err := newCrawler(cfg, syncFull)
		if err != nil {
			return err
		}
		deps.Fetcher = c
	}

	checker, err := newChecker(cfg, embedder, probeNeeds{crawl: !syncSkipCrawl, embed: !syncSkipIndex})
	if err != nil {
		return err
	}
	deps.Checker = checker

	store, err := newStorage(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.EnsureBucket(ctx); err != nil {
			slog.Warn("object storage unavailable, snapshots stay local", "error", err)
			store = nil
		} else {
			deps.Archiver = store
		}
	}

	p, err := pipeline.New(pipeline.Config{
		SyncStatePath:  cfg.Paths.SyncState,
		SnapshotPath:   cfg.Paths.Snapshot,
		ChunksPath:     cfg.Paths.ChunksFile,
		PagesDir:       cfg.Paths.PagesDir,
		VectorStoreDir: cfg.Paths.VectorDir,
		BackupDir:      cfg.Paths.BackupDir,
		KeepBackups:    cfg.Backup.Keep,
		Full:           syncFull,
		Force:          syncForce,
		SkipFetch:      syncSkipCrawl,
		SkipIndex:      syncSkipIndex,
	}, deps)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	res, err := p.Run(ctx)
	printRunResult(res)
	if err != nil {
		return err
	}

	if store != nil && !syncSkipCrawl {
		key, err := store.PutSnapshot(ctx, cfg.Paths.Snapshot, time.Now())
		if err != nil {
			slog.Warn("failed to upload crawl snapshot", "error", err)
		} else {
			slog.Info("crawl snapshot uploaded", "key", key)
		}
	}
	fmt.Printf("\nLog written to %s\n", logPath)
	return nil
}

func printRunResult(res *pipeline.Result) {
	if res == nil {
		return
	}
	fmt.Printf("Run %s: %s in %v\n", res.RunID, res.State, res.Duration.Round(time.Millisecond))
	fmt.Printf("  Pages added: %d, modified: %d, deleted: %d, unchanged: %d, failed: %d\n",
		res.PagesAdded, res.PagesModified, res.PagesDeleted, res.PagesSkipped, res.PagesFailed)
	if res.PagesDeferred > 0 {
		fmt.Printf("  Deletion deferred for %d pages until a crawl without failures\n", res.PagesDeferred)
	}
	if res.Chunks > 0 {
		fmt.Printf("  Chunks: %d\n", res.Chunks)
	}
	if res.State == pipeline.Done && (res.VectorsAdded > 0 || res.VectorsDeleted > 0) {
		fmt.Printf("  Vectors added: %d, deleted: %d, total: %d\n", res.VectorsAdded, res.VectorsDeleted, res.FinalTotal)
	}
	if res.Degraded {
		fmt.Println("  Warning: embeddings ran in degraded mode")
	}
	if res.State == pipeline.RolledBack {
		fmt.Printf("  Restored from %s\n", res.SnapshotDir)
	}
}
