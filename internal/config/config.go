// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quarry/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive data (the PostgreSQL password) is never logged; MarshalJSON
// masks it. Validation lives in validation.go and uses sentinel errors
// checkable with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidChunkSize indicates the chunk size is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidOverlap indicates the chunk overlap is out of range.
	ErrInvalidOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidMetric indicates the distance metric is not supported.
	ErrInvalidMetric = errors.New("invalid distance metric")

	// ErrInvalidHistoryWindow indicates the reformulation window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidTimeout indicates a timeout setting is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidCrawler indicates a crawler setting is out of range.
	ErrInvalidCrawler = errors.New("invalid crawler setting")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
)

// DefaultEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 outputs 3072 dimensions by default; our pgvector
// schema truncates to 768 via OutputDimensionality, see
// genai.EmbeddingDimension.
const DefaultEmbedderModel = "gemini-embedding-001"

// ChunkingConfig controls how documents are split before indexing.
type ChunkingConfig struct {
	ChunkSize int `mapstructure:"chunk_size" json:"chunk_size"` // budget per chunk, in bytes
	Overlap   int `mapstructure:"overlap" json:"overlap"`       // verbatim carry-over between adjacent chunks
}

// RetrievalConfig controls query-time behavior.
type RetrievalConfig struct {
	TopK                int    `mapstructure:"top_k" json:"top_k"`
	Metric              string `mapstructure:"metric" json:"metric"` // "cosine" or "euclidean"
	HistoryWindow       int    `mapstructure:"history_window" json:"history_window"`
	GenerationTimeoutMs int    `mapstructure:"generation_timeout_ms" json:"generation_timeout_ms"`
	SourcesOnFailure    bool   `mapstructure:"sources_on_failure" json:"sources_on_failure"`
}

// CrawlerConfig controls web ingestion politeness and bounds.
type CrawlerConfig struct {
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	DelayMs     int `mapstructure:"delay_ms" json:"delay_ms"`
	TimeoutMs   int `mapstructure:"timeout_ms" json:"timeout_ms"`
	MaxDepth    int `mapstructure:"max_depth" json:"max_depth"`
	MaxPages    int `mapstructure:"max_pages" json:"max_pages"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`

	// Pipeline configuration
	Chunking  ChunkingConfig  `mapstructure:"chunking" json:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" json:"retrieval"`
	Crawler   CrawlerConfig   `mapstructure:"crawler" json:"crawler"`

	// Snapshot path for the on-disk index (empty disables snapshots)
	SnapshotPath string `mapstructure:"snapshot_path" json:"snapshot_path"`

	// HTTP server address for serve mode
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quarry")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults carry it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)

	viper.SetDefault("chunking.chunk_size", 500)
	viper.SetDefault("chunking.overlap", 100)

	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.metric", "cosine")
	viper.SetDefault("retrieval.history_window", 6)
	viper.SetDefault("retrieval.generation_timeout_ms", 60000)
	viper.SetDefault("retrieval.sources_on_failure", false)

	viper.SetDefault("crawler.parallelism", 2)
	viper.SetDefault("crawler.delay_ms", 1000)
	viper.SetDefault("crawler.timeout_ms", 30000)
	viper.SetDefault("crawler.max_depth", 2)
	viper.SetDefault("crawler.max_pages", 50)

	viper.SetDefault("snapshot_path", "")
	viper.SetDefault("listen_addr", ":8080")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "quarry")
	viper.SetDefault("postgres_password", "quarry_dev_password")
	viper.SetDefault("postgres_db_name", "quarry")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper; Validate
// only checks its presence.
func bindEnvVariables() {
	// Hardcoded keys can't fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "QUARRY_PROVIDER")
	mustBind("model_name", "QUARRY_MODEL_NAME")
	mustBind("embedder_model", "QUARRY_EMBEDDER_MODEL")
	mustBind("retrieval.top_k", "QUARRY_TOP_K")
	mustBind("retrieval.metric", "QUARRY_METRIC")
	mustBind("snapshot_path", "QUARRY_SNAPSHOT_PATH")
	mustBind("listen_addr", "QUARRY_LISTEN_ADDR")
}

// maskedValue uses full-width blocks so a masked secret can never be a
// substring of the original.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters
// or fewer are fully masked; longer ones keep the first and last two
// characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit,
// e.g. "googleai/gemini-2.5-flash". A ModelName already containing "/"
// is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
