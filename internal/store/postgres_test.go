package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarry0/quarry/internal/document"
	"github.com/quarry0/quarry/internal/index"
	"github.com/quarry0/quarry/internal/log"
	"github.com/quarry0/quarry/internal/testutil"
)

// storeDim matches the vector(768) column in the schema.
const storeDim = 768

// unitVec returns a 768-dim unit vector pointing along the given axis.
func unitVec(axis int) []float32 {
	v := make([]float32, storeDim)
	v[axis] = 1
	return v
}

// blendVec returns a unit-ish vector mostly along primary with a small
// component along secondary, for controlled similarity ordering.
func blendVec(primary, secondary int) []float32 {
	v := make([]float32, storeDim)
	v[primary] = 0.9
	v[secondary] = 0.1
	return v
}

func entry(source string, seq, axis int) index.Entry {
	return index.Entry{
		Chunk: document.Chunk{
			ID:         fmt.Sprintf("%s#%d", source, seq),
			DocumentID: source,
			Source:     source,
			Text:       fmt.Sprintf("chunk %d of %s", seq, source),
			Start:      seq * 100,
			End:        seq*100 + 100,
			Seq:        seq,
		},
		Vector: unitVec(axis),
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	testDB := testutil.SetupTestDB(t)
	s, err := New(context.Background(), testDB.ConnStr, log.NewNop())
	require.NoError(t, err, "connecting to test database")
	t.Cleanup(s.Close)
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []index.Entry{
		entry("notes.md", 0, 0),
		entry("notes.md", 1, 1),
		entry("guide.md", 0, 2),
	}
	require.NoError(t, s.UpsertEntries(ctx, entries))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Query closest to axis 1, with axis 0 as runner-up.
	results, err := s.Search(ctx, blendVec(1, 0), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "notes.md#1", results[0].Chunk.ID)
	assert.Equal(t, "notes.md#0", results[1].Chunk.ID)
	assert.Greater(t, results[0].Score, results[1].Score, "scores should be descending")
}

func TestStoreUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := entry("notes.md", 0, 0)
	require.NoError(t, s.UpsertEntries(ctx, []index.Entry{e}))

	// Replace the same chunk with new content and a new vector.
	e.Chunk.Text = "rewritten chunk"
	e.Vector = unitVec(5)
	require.NoError(t, s.UpsertEntries(ctx, []index.Entry{e}))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := s.Search(ctx, unitVec(5), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "rewritten chunk", results[0].Chunk.Text)
}

func TestStoreLoadEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []index.Entry{
		entry("b.md", 0, 0),
		entry("a.md", 1, 1),
		entry("a.md", 0, 2),
	}
	require.NoError(t, s.UpsertEntries(ctx, entries))

	loaded, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	// Canonical (source, seq) order so the index can be rebuilt
	// deterministically without re-embedding.
	wantOrder := []string{"a.md#0", "a.md#1", "b.md#0"}
	for i, want := range wantOrder {
		assert.Equal(t, want, loaded[i].Chunk.ID, "loaded[%d]", i)
	}
	assert.Len(t, loaded[0].Vector, storeDim)
}

func TestStoreDeleteDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []index.Entry{
		entry("keep.md", 0, 0),
		entry("drop.md", 0, 1),
		entry("drop.md", 1, 2),
	}
	require.NoError(t, s.UpsertEntries(ctx, entries))

	require.NoError(t, s.DeleteDocument(ctx, "drop.md"))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := s.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "keep.md", loaded[0].Chunk.Source)
}
