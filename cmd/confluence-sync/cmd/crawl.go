package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfenderov/confluence-sync/internal/snapshot"
	"github.com/spf13/cobra"
)

var crawlFull bool

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl Confluence into the snapshot file",
	Long: `Crawl the configured root pages and write the crawl snapshot and the
markdown export. Neither the sync state nor the index is touched.

Examples:
  confluence-sync crawl
  confluence-sync crawl --full`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().BoolVar(&crawlFull, "full", false, "Mark the snapshot as a full crawl")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	c, err := newCrawler(cfg, crawlFull)
	if err != nil {
		return err
	}

	start := time.Now()
	snap, err := c.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	if err := snapshot.NewFile(cfg.Paths.Snapshot).Write(snap); err != nil {
		return err
	}
	exported, err := snapshot.ExportMarkdown(cfg.Paths.PagesDir, snap.Pages)
	if err != nil {
		return fmt.Errorf("failed to export markdown: %w", err)
	}

	fmt.Printf("Crawled %d pages in %v\n", len(snap.Pages), time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Snapshot: %s\n", cfg.Paths.Snapshot)
	fmt.Printf("  Markdown: %d files in %s\n", exported, cfg.Paths.PagesDir)
	for _, f := range snap.Failed {
		fmt.Printf("  Failed: %s (%s)\n", f.URL, f.Reason)
	}

	store, err := newStorage(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.EnsureBucket(ctx); err != nil {
			slog.Warn("object storage unavailable", "error", err)
			return nil
		}
		key, err := store.PutSnapshot(ctx, cfg.Paths.Snapshot, time.Now())
		if err != nil {
			slog.Warn("failed to upload crawl snapshot", "error", err)
		} else {
			fmt.Printf("  Uploaded: s3://%s/%s\n", store.Bucket(), key)
		}
	}
	return nil
}
