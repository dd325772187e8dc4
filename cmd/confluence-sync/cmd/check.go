package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mfenderov/confluence-sync/internal/config"
	"github.com/mfenderov/confluence-sync/internal/setup"
	"github.com/spf13/cobra"
)

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the environment",
	Long: `Run every environment check concurrently: configuration, data
directories, sync state, embedder, Confluence, vector store and object
storage. Exits non-zero when any check fails; warnings are allowed.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output the report as JSON")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	probes, err := allProbes(cfg)
	if err != nil {
		return err
	}
	report := setup.New(probes...).Run(ctx)

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if !report.OK() {
		return fmt.Errorf("%d checks failed", report.Count(setup.Fail))
	}
	return nil
}

func allProbes(cfg config.Config) ([]setup.Probe, error) {
	probes := []setup.Probe{
		setup.Required("confluence.root_urls", strings.Join(cfg.Confluence.RootURLs, ","), "set CONFSYNC_CONFLUENCE_ROOT_URLS"),
		setup.Required("confluence.api_token", cfg.Confluence.APIToken, "set CONFSYNC_CONFLUENCE_API_TOKEN"),
		setup.Directory("pages dir", cfg.Paths.PagesDir, false),
		setup.Directory("backup dir", cfg.Paths.BackupDir, true),
		setup.Directory("log dir", cfg.Paths.LogDir, true),
		setup.SyncState(cfg.Paths.SyncState),
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		detail := err.Error()
		probes = append(probes, func(context.Context) setup.Check {
			return setup.Check{Name: "embedder", Status: setup.Fail, Detail: detail, Fix: "set CONFSYNC_EMBEDDINGS_SOCKET_PATH or CONFSYNC_EMBEDDINGS_BASE_URL"}
		})
	} else {
		probes = append(probes, setup.Embedder(embedder))
	}

	if cfg.Confluence.BaseURL != "" {
		probes = append(probes, setup.Reachable("confluence", cfg.Confluence.BaseURL,
			cfg.Confluence.Username, cfg.Confluence.APIToken, nil))
	}

	if cfg.VectorStore.Backend == config.BackendElasticsearch {
		es, err := newElasticsearch(cfg)
		if err != nil {
			return nil, err
		}
		probes = append(probes, setup.Service("elasticsearch", es))
	} else {
		probes = append(probes, setup.VectorStore(cfg.Paths.VectorDir, false))
	}

	store, err := newStorage(cfg)
	if err != nil {
		return nil, err
	}
	if store != nil {
		probes = append(probes, setup.Bucket(store))
	}
	return probes, nil
}

func printReport(report setup.Report) {
	t := newTable("Check", "Status", "Detail")
	for _, c := range report.Checks {
		detail := c.Detail
		if c.Fix != "" && c.Status != setup.Pass {
			detail += mutedStyle.Render(" (" + c.Fix + ")")
		}
		t.Row(c.Name, statusStyle(c.Status).Render(string(c.Status)), detail)
	}
	fmt.Println(titleStyle.Render("Environment check"))
	fmt.Println(t.Render())
	fmt.Printf("  Pass: %d, Warn: %d, Fail: %d\n",
		report.Count(setup.Pass), report.Count(setup.Warn), report.Count(setup.Fail))
}
