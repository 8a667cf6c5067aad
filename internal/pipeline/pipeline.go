// Package pipeline runs the full indexing flow: fetch documents, split
// them into chunks, embed and build the in-memory index, then
// optionally persist the result to PostgreSQL and an on-disk snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quarry0/quarry/internal/chunker"
	"github.com/quarry0/quarry/internal/document"
	"github.com/quarry0/quarry/internal/index"
	"github.com/quarry0/quarry/internal/ingest"
	"github.com/quarry0/quarry/internal/log"
)

// ChunkStore persists built entries. *store.Store satisfies this.
type ChunkStore interface {
	UpsertEntries(ctx context.Context, entries []index.Entry) error
}

// Stats summarizes one indexing run.
type Stats struct {
	Documents     int
	Chunks        int
	SourcesFailed int
	Duration      time.Duration
}

// Option configures a Builder.
type Option func(*Builder)

// WithStore persists every built entry to the chunk store.
func WithStore(s ChunkStore) Option {
	return func(b *Builder) { b.store = s }
}

// WithSnapshotPath saves the built index to disk.
func WithSnapshotPath(path string) Option {
	return func(b *Builder) { b.snapshotPath = path }
}

// WithBuildOptions forwards options to the index build (metric,
// workers, rate limiter).
func WithBuildOptions(opts ...index.Option) Option {
	return func(b *Builder) { b.buildOpts = opts }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// Builder assembles an index from document fetchers.
type Builder struct {
	chunkOpts    chunker.Options
	embed        index.EmbedFunc
	buildOpts    []index.Option
	store        ChunkStore
	snapshotPath string
	logger       log.Logger
}

// NewBuilder creates a Builder. The chunk options are validated at Run
// time by the chunker itself.
func NewBuilder(embed index.EmbedFunc, chunkOpts chunker.Options, opts ...Option) *Builder {
	b := &Builder{
		embed:     embed,
		chunkOpts: chunkOpts,
		logger:    log.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run fetches from every source, chunks, embeds, and builds the index.
// A source that fails to fetch is logged and skipped; the run only
// fails when every source fails or a later stage errors.
func (b *Builder) Run(ctx context.Context, fetchers ...ingest.Fetcher) (*index.Index, Stats, error) {
	start := time.Now()
	stats := Stats{}

	var docs []document.Document
	var lastFetchErr error
	for _, f := range fetchers {
		fetched, err := f.Fetch(ctx)
		if err != nil {
			if errors.Is(err, ingest.ErrFetch) {
				b.logger.Warn("skipping unfetchable source", "error", err)
				stats.SourcesFailed++
				lastFetchErr = err
				continue
			}
			return nil, stats, err
		}
		docs = append(docs, fetched...)
	}
	if len(docs) == 0 {
		if lastFetchErr != nil {
			return nil, stats, fmt.Errorf("no sources could be fetched: %w", lastFetchErr)
		}
		return nil, stats, errors.New("no documents to index")
	}
	stats.Documents = len(docs)

	var chunks []document.Chunk
	for _, doc := range docs {
		split, err := chunker.Split(doc, b.chunkOpts)
		if err != nil {
			return nil, stats, fmt.Errorf("chunking %s: %w", doc.Source, err)
		}
		chunks = append(chunks, split...)
	}
	stats.Chunks = len(chunks)
	b.logger.Info("chunked corpus", "documents", stats.Documents, "chunks", stats.Chunks)

	ix, err := index.Build(ctx, chunks, b.embed, b.buildOpts...)
	if err != nil {
		return nil, stats, fmt.Errorf("building index: %w", err)
	}

	if b.store != nil {
		if err := b.store.UpsertEntries(ctx, ix.Entries()); err != nil {
			return nil, stats, fmt.Errorf("persisting entries: %w", err)
		}
	}
	if b.snapshotPath != "" {
		if err := ix.Save(b.snapshotPath); err != nil {
			return nil, stats, fmt.Errorf("saving snapshot: %w", err)
		}
	}

	stats.Duration = time.Since(start)
	b.logger.Info("index built",
		"entries", ix.Len(),
		"dimension", ix.Dimension(),
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return ix, stats, nil
}
