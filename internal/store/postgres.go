// Package store persists chunk embeddings in PostgreSQL with pgvector.
// It is the durable complement to the in-memory index: the pipeline
// writes chunks here at index time and can rebuild the in-memory index
// from it on startup instead of re-embedding the corpus.
//
// Store is safe for concurrent use.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/quarry0/quarry/internal/document"
	"github.com/quarry0/quarry/internal/index"
	"github.com/quarry0/quarry/internal/log"
)

// searchTimeout bounds vector search queries so a slow scan cannot
// block a request indefinitely.
const searchTimeout = 10 * time.Second

type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, dsn string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertEntries writes indexed chunks with their embeddings. Existing
// rows with the same ID are replaced, so re-indexing a source is
// idempotent.
func (s *Store) UpsertEntries(ctx context.Context, entries []index.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		vec := pgvector.NewVector(e.Vector)
		batch.Queue(`
			INSERT INTO chunks (id, document_id, source, seq, start_offset, end_offset, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				source = EXCLUDED.source,
				seq = EXCLUDED.seq,
				start_offset = EXCLUDED.start_offset,
				end_offset = EXCLUDED.end_offset,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding`,
			e.Chunk.ID, e.Chunk.DocumentID, e.Chunk.Source, e.Chunk.Seq,
			e.Chunk.Start, e.Chunk.End, e.Chunk.Text, vec)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			s.logger.Warn("closing upsert batch", "error", err)
		}
	}()

	for i := range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting chunk %q: %w", entries[i].Chunk.ID, err)
		}
	}

	s.logger.Debug("upserted chunks", "count", len(entries))
	return nil
}

// Search returns the k chunks closest to vector by cosine distance.
// Results are ordered by descending similarity with the same tie-break
// as the in-memory index: ascending seq, then ascending source.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]document.Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec := pgvector.NewVector(vector)
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, source, seq, start_offset, end_offset, content,
		       1 - (embedding <=> $1) AS similarity
		FROM chunks
		ORDER BY similarity DESC, seq ASC, source ASC
		LIMIT $2`, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []document.Result
	for rows.Next() {
		var r document.Result
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Source,
			&r.Chunk.Seq, &r.Chunk.Start, &r.Chunk.End, &r.Chunk.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return results, nil
}

// LoadEntries reads every stored chunk with its embedding, in canonical
// (source, seq) order, for rebuilding the in-memory index without
// re-embedding.
func (s *Store) LoadEntries(ctx context.Context) ([]index.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, source, seq, start_offset, end_offset, content, embedding
		FROM chunks
		ORDER BY source ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	defer rows.Close()

	var entries []index.Entry
	for rows.Next() {
		var e index.Entry
		var vec pgvector.Vector
		if err := rows.Scan(&e.Chunk.ID, &e.Chunk.DocumentID, &e.Chunk.Source,
			&e.Chunk.Seq, &e.Chunk.Start, &e.Chunk.End, &e.Chunk.Text, &vec); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		e.Vector = vec.Slice()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return int(count), nil
}

// DeleteDocument removes every chunk belonging to a document.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("deleting chunks for document %q: %w", documentID, err)
	}
	s.logger.Debug("deleted document chunks", "document_id", documentID, "rows", tag.RowsAffected())
	return nil
}
