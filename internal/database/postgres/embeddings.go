package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/facetrack/internal/database"
)

// hnswEfSearch is the pgvector candidate list size for index-backed
// similarity queries.
const hnswEfSearch = 40

// nearestCandidates is how many rows the nearest-neighbor query fetches
// before the deterministic re-rank.
const nearestCandidates = 8

// EmbeddingRepository provides PostgreSQL-backed embedding reads for the
// matchers.
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository.
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// All returns every stored embedding ordered by id.
func (r *EmbeddingRepository) All(ctx context.Context) ([]database.StoredEmbedding, error) {
	query := `
		SELECT id, student_id, embedding, created_at
		FROM embeddings
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	return scanEmbeddings(rows)
}

// NearestL2 returns the stored embedding closest to probe by Euclidean
// distance, together with that distance. The HNSW index supplies a small
// candidate set; the final pick re-ranks by (distance, id) so exact ties
// resolve to the lowest embedding id.
func (r *EmbeddingRepository) NearestL2(ctx context.Context, probe []float32) (*database.StoredEmbedding, float64, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", hnswEfSearch)); err != nil {
		return nil, 0, fmt.Errorf("set ef_search: %w", err)
	}

	query := `
		SELECT id, student_id, embedding, created_at,
		       embedding <-> $1::vector AS distance
		FROM embeddings
		ORDER BY embedding <-> $1::vector
		LIMIT $2
	`

	rows, err := tx.QueryContext(ctx, query, pgvector.NewVector(probe), nearestCandidates)
	if err != nil {
		return nil, 0, fmt.Errorf("query nearest embedding: %w", err)
	}
	defer rows.Close()

	var best *database.StoredEmbedding
	var bestDist float64
	for rows.Next() {
		var emb database.StoredEmbedding
		var vec pgvector.Vector
		var dist float64
		if err := rows.Scan(&emb.ID, &emb.StudentID, &vec, &emb.CreatedAt, &dist); err != nil {
			return nil, 0, fmt.Errorf("scan embedding: %w", err)
		}
		emb.Embedding = vec.Slice()
		if best == nil || dist < bestDist || (dist == bestDist && emb.ID < best.ID) {
			e := emb
			best = &e
			bestDist = dist
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate embeddings: %w", err)
	}
	if best == nil {
		return nil, 0, nil
	}
	return best, bestDist, nil
}

// Count returns the total number of stored embeddings.
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

func scanEmbeddings(rows *sql.Rows) ([]database.StoredEmbedding, error) {
	var embeddings []database.StoredEmbedding

	for rows.Next() {
		var emb database.StoredEmbedding
		var vec pgvector.Vector

		if err := rows.Scan(&emb.ID, &emb.StudentID, &vec, &emb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}

		emb.Embedding = vec.Slice()
		embeddings = append(embeddings, emb)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	return embeddings, nil
}

// Verify interface compliance
var _ database.EmbeddingStore = (*EmbeddingRepository)(nil)
