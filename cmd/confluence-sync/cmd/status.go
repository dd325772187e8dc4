package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mfenderov/confluence-sync/internal/config"
	"github.com/mfenderov/confluence-sync/internal/syncstate"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state, history and index size",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

type statusReport struct {
	LastFullSync        *string            `json:"last_full_sync"`
	LastIncrementalSync *string            `json:"last_incremental_sync"`
	LastSync            *time.Time         `json:"last_sync,omitempty"`
	TrackedPages        int                `json:"tracked_pages"`
	Vectors             int                `json:"vectors"`
	VectorBytes         int64              `json:"vector_bytes,omitempty"`
	History             []syncstate.Record `json:"history"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	st := syncstate.Open(cfg.Paths.SyncState).Load()

	report := statusReport{
		LastFullSync:        st.LastFullSync,
		LastIncrementalSync: st.LastIncrementalSync,
		TrackedPages:        len(st.Pages),
		History:             st.SyncHistory,
	}
	if last := st.LastSyncTime(); !last.IsZero() {
		report.LastSync = &last
	}
	if store, err := openStore(ctx, cfg, true); err != nil {
		slog.Debug("vector store unavailable", "error", err)
	} else {
		if report.Vectors, err = store.Count(ctx); err != nil {
			slog.Warn("failed to count vectors", "error", err)
		}
		store.Close()
	}
	if cfg.VectorStore.Backend != config.BackendElasticsearch {
		report.VectorBytes = dirSize(cfg.Paths.VectorDir)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Println(titleStyle.Render("Sync status"))
	fmt.Printf("  Last full sync:        %s\n", orNever(report.LastFullSync))
	fmt.Printf("  Last incremental sync: %s\n", orNever(report.LastIncrementalSync))
	if report.LastSync != nil {
		fmt.Printf("  Since last sync:       %s\n", time.Since(*report.LastSync).Round(time.Second))
	}
	fmt.Printf("  Tracked pages:         %d\n", report.TrackedPages)
	fmt.Printf("  Vectors:               %d\n", report.Vectors)
	if report.VectorBytes > 0 {
		fmt.Printf("  Store size:            %s\n", humanBytes(report.VectorBytes))
	}

	if len(report.History) == 0 {
		fmt.Println(mutedStyle.Render("\nNo syncs recorded yet."))
		return nil
	}
	t := newTable("Time", "Type", "Added", "Modified", "Deleted", "Unchanged", "Failed")
	for i := len(report.History) - 1; i >= 0; i-- {
		r := report.History[i]
		t.Row(r.Timestamp, r.Type, strconv.Itoa(r.Added), strconv.Itoa(r.Modified),
			strconv.Itoa(r.Deleted), strconv.Itoa(r.Skipped), strconv.Itoa(r.Failed))
	}
	fmt.Println()
	fmt.Println(t.Render())
	return nil
}

func orNever(ts *string) string {
	if ts == nil || *ts == "" {
		return "never"
	}
	return *ts
}
