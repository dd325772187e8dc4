package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mfenderov/confluence-sync/internal/config"
	"github.com/mfenderov/confluence-sync/internal/search"
	"github.com/spf13/cobra"
)

var (
	searchLimit  int
	searchFormat string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the indexed pages",
	Long: `Search the indexed Confluence pages.

Examples:
  # Basic search
  confluence-sync search "deployment checklist"

  # Limit results
  confluence-sync search "on-call rotation" -k 3

  # JSON output for scripting
  confluence-sync search "release process" --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "k", search.DefaultK, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchFormat, "format", "text", "Output format: text or json")
}

// newEngine builds and opens a search engine over the existing store.
func newEngine(ctx context.Context, cfg config.Config) (*search.Engine, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := search.New(embedder, func() (search.Store, error) {
		return openStore(ctx, cfg, true)
	})
	if err != nil {
		return nil, err
	}
	if err := engine.Open(); err != nil {
		return nil, err
	}
	return engine, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := newEngine(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer engine.Close()

	resp, err := engine.Search(ctx, args[0], searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(resp.Hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	if searchFormat == "json" {
		output, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Found %d results in %v:\n\n", len(resp.Hits), resp.Elapsed)
	for i, hit := range resp.Hits {
		fmt.Printf("─── Result %d (%.3f) ───\n", i+1, hit.Score)
		fmt.Printf("Title:   %s\n", hit.Metadata.Title)
		fmt.Printf("URL:     %s\n", hit.Metadata.URL)
		fmt.Printf("Chunk:   %d/%d\n", hit.Metadata.ChunkIndex+1, hit.Metadata.TotalChunks)

		// Truncate content for display
		content := strings.TrimSpace(hit.Text)
		if r := []rune(content); len(r) > 500 {
			content = string(r[:500]) + "..."
		}
		fmt.Printf("Content:\n%s\n\n", content)
	}
	return nil
}
