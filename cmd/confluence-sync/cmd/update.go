package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/mfenderov/confluence-sync/internal/config"
	"github.com/mfenderov/confluence-sync/internal/events"
	"github.com/mfenderov/confluence-sync/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	updateFull      bool
	updateForce     bool
	updateBatchSize int
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply changes from the existing crawl snapshot",
	Long: `Compare the crawl snapshot on disk with the sync state, delete vectors of
removed and changed pages, index added and changed pages, then commit the
sync state. The vector store must already exist; run build first.

Examples:
  confluence-sync update
  confluence-sync update --force --batch-size 50`,
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().BoolVar(&updateFull, "full", false, "Treat every page as changed")
	updateCmd.Flags().BoolVar(&updateForce, "force", false, "Run even when nothing changed")
	updateCmd.Flags().IntVar(&updateBatchSize, "batch-size", 0, "Chunks per embedding batch (default from config)")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	checker, err := newChecker(cfg, embedder, probeNeeds{embed: true})
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Config{
		SyncStatePath:  cfg.Paths.SyncState,
		SnapshotPath:   cfg.Paths.Snapshot,
		VectorStoreDir: cfg.Paths.VectorDir,
		BackupDir:      cfg.Paths.BackupDir,
		KeepBackups:    cfg.Backup.Keep,
		Full:           updateFull,
		Force:          updateForce,
		RequireStore:   cfg.VectorStore.Backend != config.BackendElasticsearch,
		SkipFetch:      true,
	}, pipeline.Deps{
		Checker:     checker,
		Chunker:     newChunker(cfg),
		OpenUpdater: updaterOpener(cfg, embedder, updateBatchSize),
		Observer:    events.Log(slog.Default()),
		Logger:      slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	res, err := p.Run(ctx)
	printRunResult(res)
	return err
}
