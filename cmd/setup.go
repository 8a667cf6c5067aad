package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/quarry0/quarry/db"
	"github.com/quarry0/quarry/internal/config"
	"github.com/quarry0/quarry/internal/genai"
	"github.com/quarry0/quarry/internal/index"
	"github.com/quarry0/quarry/internal/retriever"
	"github.com/quarry0/quarry/internal/store"
)

// openStore runs pending migrations and connects to Postgres. Every
// store connection goes through here so a fresh database gets its
// schema before the first query.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store.New(ctx, cfg.PostgresConnectionString(), logger)
}

// resolveSnapshotPath picks the snapshot location: explicit override,
// then configuration, then ~/.quarry/index.gob.
func resolveSnapshotPath(cfg *config.Config, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if cfg.SnapshotPath != "" {
		return cfg.SnapshotPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".quarry", "index.gob"), nil
}

// openIndex loads the searchable index. A snapshot file wins when it
// exists; otherwise chunks are loaded back from Postgres and the index
// is rebuilt in memory without re-embedding anything.
func openIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*index.Index, error) {
	path, err := resolveSnapshotPath(cfg, "")
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(path); statErr == nil {
		ix, err := index.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
		logger.Info("index loaded from snapshot", "path", path, "entries", ix.Len())
		return ix, nil
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("no snapshot at %s and Postgres unavailable (run `quarry index` first): %w", path, err)
	}
	defer st.Close()

	entries, err := st.LoadEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading chunks from store: %w", err)
	}

	metric, err := index.ParseMetric(cfg.Retrieval.Metric)
	if err != nil {
		return nil, err
	}
	ix, err := index.FromEntries(metric, entries)
	if err != nil {
		return nil, fmt.Errorf("rebuilding index from store: %w", err)
	}
	logger.Info("index loaded from store", "entries", ix.Len())
	return ix, nil
}

// newRetriever wires the embedder, generator, and index into a ready
// retriever using the loaded configuration.
func newRetriever(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*retriever.Retriever, error) {
	g, err := genai.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing Genkit: %w", err)
	}

	embedder, err := genai.Embedder(g, cfg.EmbedderModel)
	if err != nil {
		return nil, fmt.Errorf("resolving embedder %q: %w", cfg.EmbedderModel, err)
	}

	ix, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gen := genai.NewModelGenerator(g, cfg.FullModelName())

	opts := []retriever.Option{
		retriever.WithTopK(cfg.Retrieval.TopK),
		retriever.WithHistoryWindow(cfg.Retrieval.HistoryWindow),
		retriever.WithLogger(logger),
	}
	if cfg.Retrieval.GenerationTimeoutMs > 0 {
		opts = append(opts, retriever.WithGenerationTimeout(time.Duration(cfg.Retrieval.GenerationTimeoutMs)*time.Millisecond))
	}
	if cfg.Retrieval.SourcesOnFailure {
		opts = append(opts, retriever.WithSourcesOnFailure())
	}

	return retriever.New(ix, genai.NewEmbedFunc(embedder), gen, opts...), nil
}
