package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/mfenderov/confluence-sync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
)

// GetConfig returns the loaded configuration.
func GetConfig() config.Config {
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "confluence-sync",
	Short: "Incremental Confluence to vector store synchronization",
	Long: `confluence-sync crawls Confluence pages, detects what changed since the
last run and keeps a vector store in line with the wiki. Every sync takes a
rollback snapshot first and restores it if any step fails.

Commands:
  sync      Crawl, detect changes and update the index in one recoverable run
  crawl     Crawl pages into the snapshot file and markdown export
  update    Apply changes from the existing crawl snapshot
  build     Build the index from the crawl snapshot with resumable batches
  status    Show sync state, history and index size
  check     Verify the environment
  rollback  Restore a rollback snapshot
  search    Query the index
  serve     Start the MCP server`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

func initLogger() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})
	slog.SetDefault(slog.New(handler))
}

func initConfig() {
	// Start with defaults
	cfg = config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/confluence-sync")
		viper.AddConfigPath(".")
	}

	// CONFSYNC_CONFLUENCE_API_TOKEN -> confluence.api_token
	viper.SetEnvPrefix("CONFSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicitly bind nested env vars
	for _, key := range []string{
		"confluence.base_url",
		"confluence.root_urls",
		"confluence.username",
		"confluence.api_token",
		"crawler.max_depth",
		"crawler.max_pages",
		"crawler.delay",
		"paths.sync_state",
		"paths.snapshot",
		"paths.vector_dir",
		"paths.backup_dir",
		"paths.log_dir",
		"embeddings.socket_path",
		"embeddings.base_url",
		"embeddings.model",
		"embeddings.fallback_model",
		"embeddings.fallback_base_url",
		"indexer.batch_size",
		"vector_store.backend",
		"elasticsearch.addresses",
		"elasticsearch.index",
		"elasticsearch.username",
		"elasticsearch.password",
		"storage.enabled",
		"storage.endpoint",
		"storage.bucket",
		"storage.access_key_id",
		"storage.secret_access_key",
		"backup.keep",
	} {
		viper.BindEnv(key, "CONFSYNC_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("config file error", "error", err)
		}
		// No config file - use defaults + env vars
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Warn("failed to parse config", "error", err)
	}

	// Lists arrive from env as comma-separated strings
	if urls := os.Getenv("CONFSYNC_CONFLUENCE_ROOT_URLS"); urls != "" {
		cfg.Confluence.RootURLs = strings.Split(urls, ",")
	}
	if addrs := os.Getenv("CONFSYNC_ELASTICSEARCH_ADDRESSES"); addrs != "" {
		cfg.Elasticsearch.Addresses = strings.Split(addrs, ",")
	}
}
