package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/quarry0/quarry/internal/chunker"
	"github.com/quarry0/quarry/internal/config"
	"github.com/quarry0/quarry/internal/genai"
	"github.com/quarry0/quarry/internal/index"
	"github.com/quarry0/quarry/internal/ingest"
	"github.com/quarry0/quarry/internal/pipeline"
)

// parseEmbedRPS reads QUARRY_EMBED_RPS from the environment.
// Returns 0 (unlimited) if unset or invalid.
func parseEmbedRPS() int {
	v := os.Getenv("QUARRY_EMBED_RPS")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// runIndex ingests the given sources, chunks and embeds them, and
// persists the result as a snapshot and optionally to Postgres.
func runIndex() error {
	indexFlags := flag.NewFlagSet("index", flag.ContinueOnError)
	indexFlags.SetOutput(os.Stderr)
	useStore := indexFlags.Bool("store", false, "Persist chunks to Postgres as well")
	snapshotOverride := indexFlags.String("snapshot", "", "Snapshot file path")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := indexFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing index flags: %w", err)
	}

	sources := indexFlags.Args()
	if len(sources) == 0 {
		return fmt.Errorf("no sources given: quarry index <path|url>...")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()

	g, err := genai.Init(ctx)
	if err != nil {
		return fmt.Errorf("initializing Genkit: %w", err)
	}
	embedder, err := genai.Embedder(g, cfg.EmbedderModel)
	if err != nil {
		return fmt.Errorf("resolving embedder %q: %w", cfg.EmbedderModel, err)
	}

	metric, err := index.ParseMetric(cfg.Retrieval.Metric)
	if err != nil {
		return err
	}

	buildOpts := []index.Option{
		index.WithMetric(metric),
		index.WithLogger(logger.With("component", "index")),
	}
	if rps := parseEmbedRPS(); rps > 0 {
		buildOpts = append(buildOpts, index.WithRateLimiter(rate.NewLimiter(rate.Limit(rps), rps)))
	}

	snapshot, err := resolveSnapshotPath(cfg, *snapshotOverride)
	if err != nil {
		return err
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithBuildOptions(buildOpts...),
		pipeline.WithSnapshotPath(snapshot),
		pipeline.WithLogger(logger.With("component", "pipeline")),
	}

	if *useStore {
		st, err := openStore(ctx, cfg, logger.With("component", "store"))
		if err != nil {
			return fmt.Errorf("connecting to Postgres: %w", err)
		}
		defer st.Close()
		pipeOpts = append(pipeOpts, pipeline.WithStore(st))
	}

	chunkOpts := chunker.Options{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
	}
	builder := pipeline.NewBuilder(genai.NewEmbedFunc(embedder), chunkOpts, pipeOpts...)

	fetchers := make([]ingest.Fetcher, 0, len(sources))
	for _, src := range sources {
		fetchers = append(fetchers, newFetcher(src, cfg, logger))
	}

	ix, stats, err := builder.Run(ctx, fetchers...)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	fmt.Printf("Indexed %d documents into %d chunks (%d dimensions) in %s\n",
		stats.Documents, stats.Chunks, ix.Dimension(), stats.Duration.Round(time.Millisecond))
	if stats.SourcesFailed > 0 {
		fmt.Printf("Warning: %d source(s) failed to fetch, see log for details\n", stats.SourcesFailed)
	}
	fmt.Printf("Snapshot written to %s\n", snapshot)
	return nil
}

// isWebSource reports whether a source argument names an HTTP URL
// rather than a file path.
func isWebSource(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// newFetcher maps a source argument to the right fetcher. Anything that
// looks like an HTTP URL is crawled; everything else is a file path.
func newFetcher(src string, cfg *config.Config, logger *slog.Logger) ingest.Fetcher {
	if isWebSource(src) {
		return ingest.NewWebFetcher(src, ingest.WebOptions{
			Parallelism: cfg.Crawler.Parallelism,
			Delay:       time.Duration(cfg.Crawler.DelayMs) * time.Millisecond,
			Timeout:     time.Duration(cfg.Crawler.TimeoutMs) * time.Millisecond,
			MaxDepth:    cfg.Crawler.MaxDepth,
			MaxPages:    cfg.Crawler.MaxPages,
			Logger:      logger.With("component", "crawler"),
		})
	}
	return ingest.NewDirFetcher(src, ingest.WithDirLogger(logger.With("component", "ingest")))
}
