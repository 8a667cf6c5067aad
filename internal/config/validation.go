package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/quarry0/quarry/internal/index"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// API key is required for embedding and generation.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.Provider != ProviderGemini && c.Provider != ProviderGoogleAI {
		return fmt.Errorf("%w: provider %q is not supported", ErrInvalidModelName, c.Provider)
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// Chunking invariants: positive budget, overlap strictly smaller.
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunkSize, c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("%w: overlap must be in [0, chunk_size), got %d with chunk_size %d",
			ErrInvalidOverlap, c.Chunking.Overlap, c.Chunking.ChunkSize)
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidTopK, c.Retrieval.TopK)
	}
	if _, err := index.ParseMetric(c.Retrieval.Metric); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMetric, c.Retrieval.Metric)
	}
	if c.Retrieval.HistoryWindow < 1 || c.Retrieval.HistoryWindow > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidHistoryWindow, c.Retrieval.HistoryWindow)
	}
	if c.Retrieval.GenerationTimeoutMs < 0 {
		return fmt.Errorf("%w: generation_timeout_ms cannot be negative, got %d",
			ErrInvalidTimeout, c.Retrieval.GenerationTimeoutMs)
	}

	if c.Crawler.Parallelism < 1 || c.Crawler.Parallelism > 16 {
		return fmt.Errorf("%w: parallelism must be between 1 and 16, got %d", ErrInvalidCrawler, c.Crawler.Parallelism)
	}
	if c.Crawler.DelayMs < 0 {
		return fmt.Errorf("%w: delay_ms cannot be negative, got %d", ErrInvalidCrawler, c.Crawler.DelayMs)
	}
	if c.Crawler.TimeoutMs < 1 {
		return fmt.Errorf("%w: timeout_ms must be positive, got %d", ErrInvalidCrawler, c.Crawler.TimeoutMs)
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth cannot be negative, got %d", ErrInvalidCrawler, c.Crawler.MaxDepth)
	}
	if c.Crawler.MaxPages < 1 {
		return fmt.Errorf("%w: max_pages must be positive, got %d", ErrInvalidCrawler, c.Crawler.MaxPages)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "quarry_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are MITM vulnerable.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
