package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mfenderov/confluence-sync/internal/mcp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server for page retrieval.

The server communicates via stdio and provides two tools:
  - search_pages: Search indexed pages by query
  - sync_status: Report the last syncs and index size

Example:
  confluence-sync serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	engine, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	server, err := mcp.NewServer(mcp.Config{
		Name:          cfg.MCP.Name,
		Version:       cfg.MCP.Version,
		SyncStatePath: cfg.Paths.SyncState,
	}, engine)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting MCP server...")

	return server.ServeStdio()
}
