package index

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/quarry0/quarry/internal/document"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func manyChunks(n int) []document.Chunk {
	chunks := make([]document.Chunk, n)
	for i := range chunks {
		chunks[i] = chunk("bulk.txt", i, fmt.Sprintf("chunk number %d", i))
	}
	return chunks
}

// TestBuildConcurrent runs the worker pool over enough chunks to exercise
// unordered completion, then verifies entries landed deterministically.
func TestBuildConcurrent(t *testing.T) {
	chunks := manyChunks(100)

	var calls atomic.Int64
	embed := func(_ context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return []float32{float32(len(text)), 1}, nil
	}

	ix, err := Build(context.Background(), chunks, embed, WithWorkers(8))
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	if ix.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", ix.Len())
	}
	if got := calls.Load(); got != 100 {
		t.Errorf("embedder called %d times, want 100", got)
	}

	// Entries are canonically ordered regardless of completion order.
	for i := 1; i < len(ix.entries); i++ {
		if ix.entries[i-1].Chunk.Seq >= ix.entries[i].Chunk.Seq {
			t.Fatalf("entries out of canonical order at %d", i)
		}
	}
}

// TestBuildEmbedErrorCancels verifies the first embedding failure stops
// the pool without leaking goroutines and surfaces the error.
func TestBuildEmbedErrorCancels(t *testing.T) {
	chunks := manyChunks(50)
	wantErr := errors.New("quota exceeded")

	var calls atomic.Int64
	embed := func(ctx context.Context, _ string) ([]float32, error) {
		if calls.Add(1) == 5 {
			return nil, wantErr
		}
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []float32{1}, nil
	}

	_, err := Build(context.Background(), chunks, embed, WithWorkers(4))
	if err == nil {
		t.Fatal("Build() succeeded despite embedding failure")
	}
	if !errors.Is(err, wantErr) && !errors.Is(err, context.Canceled) {
		t.Errorf("Build() error = %v, want wrapped embed error or cancellation", err)
	}
}

func TestBuildContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	embed := func(ctx context.Context, _ string) ([]float32, error) {
		return nil, ctx.Err()
	}
	_, err := Build(ctx, manyChunks(10), embed, WithWorkers(2))
	if err == nil {
		t.Fatal("Build() succeeded with cancelled context")
	}
}

// TestBuildRateLimited verifies the limiter throttles embedding calls.
func TestBuildRateLimited(t *testing.T) {
	chunks := manyChunks(5)
	embed := func(_ context.Context, _ string) ([]float32, error) {
		return []float32{1, 2}, nil
	}

	// 5 calls at 100/s with burst 1 needs at least ~40ms.
	limiter := rate.NewLimiter(rate.Limit(100), 1)
	start := time.Now()
	ix, err := Build(context.Background(), chunks, embed,
		WithWorkers(4), WithRateLimiter(limiter))
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	if ix.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", ix.Len())
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("build finished in %v, limiter apparently not applied", elapsed)
	}
}

func TestBuildEmptyEmbedding(t *testing.T) {
	embed := func(_ context.Context, _ string) ([]float32, error) {
		return []float32{}, nil
	}
	_, err := Build(context.Background(), manyChunks(1), embed)
	if err == nil {
		t.Fatal("Build() accepted an empty embedding")
	}
}
