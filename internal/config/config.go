package config

import (
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Confluence    Confluence    `mapstructure:"confluence"`
	Crawler       Crawler       `mapstructure:"crawler"`
	Paths         Paths         `mapstructure:"paths"`
	Chunker       Chunker       `mapstructure:"chunker"`
	Embeddings    Embeddings    `mapstructure:"embeddings"`
	Indexer       Indexer       `mapstructure:"indexer"`
	VectorStore   VectorStore   `mapstructure:"vector_store"`
	Elasticsearch Elasticsearch `mapstructure:"elasticsearch"`
	Storage       Storage       `mapstructure:"storage"`
	Backup        Backup        `mapstructure:"backup"`
	MCP           MCP           `mapstructure:"mcp"`
}

// Confluence holds the wiki location and credentials.
type Confluence struct {
	BaseURL  string   `mapstructure:"base_url"`
	RootURLs []string `mapstructure:"root_urls"`
	Username string   `mapstructure:"username"`
	APIToken string   `mapstructure:"api_token"`
}

// Crawler holds traversal limits and HTTP behaviour.
type Crawler struct {
	MaxDepth   int           `mapstructure:"max_depth"`
	MaxPages   int           `mapstructure:"max_pages"`
	Delay      time.Duration `mapstructure:"delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// Paths holds every file and directory the tool reads or writes.
type Paths struct {
	SyncState  string `mapstructure:"sync_state"`
	Snapshot   string `mapstructure:"snapshot"`
	PagesDir   string `mapstructure:"pages_dir"`
	ChunksFile string `mapstructure:"chunks_file"`
	VectorDir  string `mapstructure:"vector_dir"`
	BackupDir  string `mapstructure:"backup_dir"`
	LogDir     string `mapstructure:"log_dir"`
}

// Chunker holds text splitting settings, in characters.
type Chunker struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

// Embeddings holds embeddings generation configuration.
type Embeddings struct {
	SocketPath string        `mapstructure:"socket_path"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// Unset fallback fields reuse the primary endpoint and model.
	FallbackModel      string `mapstructure:"fallback_model"`
	FallbackSocketPath string `mapstructure:"fallback_socket_path"`
	FallbackBaseURL    string `mapstructure:"fallback_base_url"`
}

// Indexer holds batch indexing settings.
type Indexer struct {
	BatchSize int `mapstructure:"batch_size"`
}

// Vector store backends.
const (
	BackendSQLite        = "sqlite"
	BackendElasticsearch = "elasticsearch"
)

// VectorStore selects the vector store backend.
type VectorStore struct {
	Backend string `mapstructure:"backend"`
}

// Elasticsearch holds ES connection configuration.
type Elasticsearch struct {
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// Storage holds S3/MinIO storage configuration.
type Storage struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Prefix          string `mapstructure:"prefix"`
}

// Backup holds rollback snapshot retention.
type Backup struct {
	Keep int `mapstructure:"keep"`
}

// MCP holds MCP server configuration.
type MCP struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// CheckpointFile lives inside the vector directory so a rollback of the
// directory restores the checkpoint with the vectors it describes.
func (p Paths) CheckpointFile() string {
	return filepath.Join(p.VectorDir, ".vectordb_progress.json")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Crawler: Crawler{
			MaxDepth:   10,
			Delay:      500 * time.Millisecond,
			Timeout:    30 * time.Second,
			Retries:    3,
			RetryDelay: 2 * time.Second,
			UserAgent:  "confluence-sync/1.0",
		},
		Paths: Paths{
			SyncState:  "last_sync.json",
			Snapshot:   "confluence_backup.json",
			PagesDir:   "confluence_pages",
			ChunksFile: "processed_chunks.json",
			VectorDir:  "vectordb",
			BackupDir:  "backups",
			LogDir:     "logs",
		},
		Chunker: Chunker{
			ChunkSize: 1000,
			Overlap:   200,
		},
		Embeddings: Embeddings{
			SocketPath: "", // User must provide their Docker socket path
			Model:      "ai/bge-m3",
			Timeout:    2 * time.Minute,
		},
		Indexer: Indexer{
			BatchSize: 100,
		},
		VectorStore: VectorStore{
			Backend: BackendSQLite,
		},
		Elasticsearch: Elasticsearch{
			Addresses: []string{"http://localhost:9200"},
			Index:     "confluence-chunks",
		},
		Storage: Storage{
			Enabled:         false,
			Endpoint:        "localhost:9002",
			Bucket:          "confluence-sync",
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			UseSSL:          false,
		},
		Backup: Backup{
			Keep: 5,
		},
		MCP: MCP{
			Name:    "confluence-sync",
			Version: "1.0.0",
		},
	}
}
