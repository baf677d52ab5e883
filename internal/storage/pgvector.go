package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kalambet/vidsift/internal/domain"
)

// VectorMatch is a transcript segment paired with its similarity score.
type VectorMatch struct {
	Segment domain.TranscriptSegment
	Score   float64
}

// PgVectorIndex mirrors segment embeddings into Postgres with the pgvector
// extension so search can use index-assisted cosine distance instead of the
// in-process brute-force scan. SQLite remains the source of truth; the index
// is rebuildable from stored results.
type PgVectorIndex struct {
	pool *pgxpool.Pool
	dim  int
}

// OpenPgVector connects to Postgres and ensures the pgvector schema exists.
// dim is the fixed embedding dimensionality produced by the engine.
func OpenPgVector(ctx context.Context, url string, dim int) (*PgVectorIndex, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	x := &PgVectorIndex{pool: pool, dim: dim}
	if err := x.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return x, nil
}

// Close releases the connection pool.
func (x *PgVectorIndex) Close() {
	x.pool.Close()
}

func (x *PgVectorIndex) ensureSchema(ctx context.Context) error {
	if _, err := x.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS segment_vectors (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			result_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			text TEXT NOT NULL,
			speaker TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			UNIQUE (job_id, tag)
		)`, x.dim)
	if _, err := x.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("creating segment_vectors table: %w", err)
	}
	return nil
}

// IndexResult upserts a job's segment embeddings. Embeddings whose tag does
// not resolve to a transcript position are skipped, matching the SQLite
// persistence rules.
func (x *PgVectorIndex) IndexResult(ctx context.Context, jobID, resultID string, transcript []domain.TranscriptSegment, embeddings []domain.Embedding) error {
	for _, emb := range embeddings {
		pos, ok := domain.ParseSegmentTag(emb.SegmentID)
		if !ok || pos < 0 || pos >= len(transcript) {
			continue
		}
		seg := transcript[pos]
		_, err := x.pool.Exec(ctx, `
			INSERT INTO segment_vectors (job_id, result_id, tag, start_time, end_time, text, speaker, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (job_id, tag) DO UPDATE SET
				result_id = EXCLUDED.result_id,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				text = EXCLUDED.text,
				speaker = EXCLUDED.speaker,
				embedding = EXCLUDED.embedding`,
			jobID, resultID, emb.SegmentID, seg.StartTime, seg.EndTime, seg.Text, seg.Speaker,
			pgvector.NewVector(emb.Vector),
		)
		if err != nil {
			return fmt.Errorf("upserting vector %s: %w", emb.SegmentID, err)
		}
	}
	return nil
}

// Search returns the topK segments of one job ranked by cosine similarity to
// the query vector.
func (x *PgVectorIndex) Search(ctx context.Context, jobID string, vector []float32, topK int) ([]VectorMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	vec := pgvector.NewVector(vector)
	rows, err := x.pool.Query(ctx, `
		SELECT start_time, end_time, text, speaker, 1 - (embedding <=> $1) AS similarity
		FROM segment_vectors
		WHERE job_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`, vec, jobID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("querying segment vectors: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.Segment.StartTime, &m.Segment.EndTime, &m.Segment.Text, &m.Segment.Speaker, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
