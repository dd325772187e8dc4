package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mfenderov/confluence-sync/internal/backup"
	"github.com/spf13/cobra"
)

var (
	rollbackList   bool
	rollbackRemote bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [snapshot]",
	Short: "Restore a rollback snapshot",
	Long: `Restore the sync state, crawl snapshot and vector store from a rollback
snapshot taken before an earlier sync.

The snapshot is a directory name under the backup directory, or with
--remote an archive name in object storage.

Examples:
  confluence-sync rollback --list
  confluence-sync rollback rollback_20260105_030000
  confluence-sync rollback --remote rollback_20260105_030000.tar.zst`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)

	rollbackCmd.Flags().BoolVar(&rollbackList, "list", false, "List available snapshots")
	rollbackCmd.Flags().BoolVar(&rollbackRemote, "remote", false, "Fetch the snapshot from object storage")
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()

	if rollbackList {
		return listSnapshots(ctx)
	}
	if len(args) == 0 {
		return fmt.Errorf("snapshot name is required, see --list")
	}

	var snap *backup.Snapshot
	if rollbackRemote {
		store, err := newStorage(cfg)
		if err != nil {
			return err
		}
		if store == nil {
			return fmt.Errorf("object storage is not enabled")
		}
		snap, err = store.FetchArchive(ctx, args[0], cfg.Paths.BackupDir)
		if err != nil {
			return err
		}
	} else {
		dir := args[0]
		if !strings.ContainsRune(dir, filepath.Separator) {
			dir = filepath.Join(cfg.Paths.BackupDir, dir)
		}
		var err error
		if snap, err = backup.Open(dir); err != nil {
			return err
		}
	}

	if err := snap.Restore(); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	fmt.Printf("Restored %s (taken %s)\n", snap.Dir, snap.CreatedAt())
	return nil
}

func listSnapshots(ctx context.Context) error {
	cfg := GetConfig()
	dirs, err := backup.List(cfg.Paths.BackupDir)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Local snapshots"))
	if len(dirs) == 0 {
		fmt.Println(mutedStyle.Render("  none"))
	}
	for _, d := range dirs {
		fmt.Printf("  %s\n", filepath.Base(d))
	}

	store, err := newStorage(cfg)
	if err != nil || store == nil {
		return err
	}
	names, err := store.ListArchives(ctx)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Archived snapshots"))
	for _, n := range names {
		fmt.Printf("  %s\n", n)
	}
	return nil
}
