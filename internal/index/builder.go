package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/quarry0/quarry/internal/document"
)

// EmbedFunc turns chunk text into a fixed-dimension embedding vector.
// It must be deterministic for identical input; the pipeline relies on
// that for rebuild idempotence.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Option configures Build using the functional options pattern.
type Option func(*buildConfig)

type buildConfig struct {
	metric  Metric
	workers int
	limiter *rate.Limiter
	logger  *slog.Logger
}

// WithMetric selects the distance metric. Default: cosine.
func WithMetric(m Metric) Option {
	return func(c *buildConfig) { c.metric = m }
}

// WithWorkers sets the number of concurrent embedding workers.
// Default: GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *buildConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRateLimiter throttles calls to the embedding function. Useful when
// the embedder is a remote API with request quotas. Nil means unlimited.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *buildConfig) { c.limiter = l }
}

// WithLogger sets the build logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *buildConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Build embeds every chunk and assembles the index. Chunk embeddings are
// independent, so they run on a worker pool with no ordering requirement;
// completion order does not affect the result because entries are sorted
// canonically afterwards and Seq already encodes document order.
//
// The first embedding error cancels outstanding work and fails the build.
// A vector whose length disagrees with the first completed vector fails
// with ErrDimensionMismatch.
func Build(ctx context.Context, chunks []document.Chunk, embed EmbedFunc, opts ...Option) (*Index, error) {
	cfg := &buildConfig{
		metric:  MetricCosine,
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(chunks) == 0 {
		return &Index{metric: cfg.metric}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float32, len(chunks))
	jobs := make(chan int)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		buildErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			buildErr = err
			cancel()
		})
	}

	workers := cfg.workers
	if workers > len(chunks) {
		workers = len(chunks)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if cfg.limiter != nil {
					if err := cfg.limiter.Wait(ctx); err != nil {
						fail(err)
						return
					}
				}
				vec, err := embed(ctx, chunks[i].Text)
				if err != nil {
					fail(fmt.Errorf("embedding chunk %s: %w", chunks[i].ID, err))
					return
				}
				if len(vec) == 0 {
					fail(fmt.Errorf("empty embedding for chunk %s", chunks[i].ID))
					return
				}
				vectors[i] = vec
			}
		}()
	}

	for i := range chunks {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	if buildErr != nil {
		return nil, buildErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) != dim {
			return nil, fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
				ErrDimensionMismatch, c.ID, len(vectors[i]), dim)
		}
		entries[i] = Entry{Chunk: c, Vector: vectors[i]}
	}

	// Canonical entry order keeps snapshots and iteration deterministic
	// regardless of input order.
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Chunk, entries[j].Chunk
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Seq < b.Seq
	})

	ix := &Index{
		metric:  cfg.metric,
		dim:     dim,
		entries: entries,
		norms:   make([]float64, len(entries)),
	}
	for i := range entries {
		ix.norms[i] = norm(entries[i].Vector)
	}

	cfg.logger.Debug("index built",
		"entries", ix.Len(),
		"dimension", ix.dim,
		"metric", ix.metric)

	return ix, nil
}
