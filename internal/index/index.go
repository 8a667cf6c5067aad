// Package index provides the in-memory nearest-neighbor index at the
// center of the pipeline. An Index is built once from a chunk sequence
// and an embedding function, is immutable afterwards, and is safe for
// concurrent Search calls.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/quarry0/quarry/internal/document"
)

// Sentinel errors for index misuse. These are surfaced immediately and
// never recovered silently.
var (
	// ErrEmptyIndex indicates Search was called on an index with no entries.
	ErrEmptyIndex = errors.New("index is empty")

	// ErrDimensionMismatch indicates a vector length disagrees with the
	// index's fixed dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUnknownMetric indicates an unsupported distance metric name.
	ErrUnknownMetric = errors.New("unknown distance metric")
)

// Metric selects the distance function used for both build and query.
type Metric string

const (
	// MetricCosine ranks by cosine similarity. Default.
	MetricCosine Metric = "cosine"

	// MetricEuclidean ranks by negated Euclidean distance.
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric validates a metric name from configuration.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricEuclidean:
		return Metric(s), nil
	case "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Entry is one indexed (chunk, vector) pair.
type Entry struct {
	Chunk  document.Chunk
	Vector []float32
}

// Index is a brute-force nearest-neighbor index over chunk embeddings.
// All entries share one dimensionality; the metric is fixed at build time
// and used consistently for every query.
type Index struct {
	metric  Metric
	dim     int
	entries []Entry
	norms   []float64 // cached vector norms, aligned with entries
}

// FromEntries assembles an index from previously embedded entries, such
// as rows loaded back from persistent storage. All entries must share one
// dimensionality. Entries are sorted canonically by source then sequence.
func FromEntries(metric Metric, entries []Entry) (*Index, error) {
	m, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &Index{metric: m}, nil
	}

	dim := len(entries[0].Vector)
	for _, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("%w: entry %s has %d dimensions, expected %d",
				ErrDimensionMismatch, e.Chunk.ID, len(e.Vector), dim)
		}
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Chunk, sorted[j].Chunk
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Seq < b.Seq
	})

	ix := &Index{
		metric:  m,
		dim:     dim,
		entries: sorted,
		norms:   make([]float64, len(sorted)),
	}
	for i := range ix.entries {
		ix.norms[i] = norm(ix.entries[i].Vector)
	}
	return ix, nil
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Dimension returns the fixed embedding dimensionality, or 0 when empty.
func (ix *Index) Dimension() int { return ix.dim }

// Entries returns a copy of the indexed entries in canonical order, for
// persisting a built index elsewhere.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, len(ix.entries))
	copy(out, ix.entries)
	return out
}

// Metric returns the distance metric the index was built with.
func (ix *Index) Metric() Metric { return ix.metric }

// Search returns the k entries most similar to the query vector, ordered
// by non-increasing score. Ties are broken by ascending chunk sequence
// index, then ascending source, so identical inputs always produce
// identical output. Returns min(k, Len()) results.
func (ix *Index) Search(vector []float32, k int) ([]document.Result, error) {
	if ix.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	if len(vector) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			ErrDimensionMismatch, len(vector), ix.dim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("top-k must be positive, got %d", k)
	}

	queryNorm := norm(vector)

	scored := make([]document.Result, len(ix.entries))
	for i, e := range ix.entries {
		scored[i] = document.Result{
			Chunk: e.Chunk,
			Score: ix.score(vector, queryNorm, i),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Seq != b.Chunk.Seq {
			return a.Chunk.Seq < b.Chunk.Seq
		}
		return a.Chunk.Source < b.Chunk.Source
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// score computes similarity between the query and entry i. Higher is
// closer under both metrics.
func (ix *Index) score(query []float32, queryNorm float64, i int) float64 {
	switch ix.metric {
	case MetricEuclidean:
		var sum float64
		for d, q := range query {
			diff := float64(q) - float64(ix.entries[i].Vector[d])
			sum += diff * diff
		}
		return -math.Sqrt(sum)
	default: // cosine
		denom := queryNorm * ix.norms[i]
		if denom == 0 {
			return 0
		}
		return dot(query, ix.entries[i].Vector) / denom
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
