package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/facetrack/internal/database"
)

// DetectionRepository provides PostgreSQL-backed storage for per-frame match
// evidence. Rows are append-only; the window queries drive the consistency
// rule.
type DetectionRepository struct {
	pool *Pool
}

// NewDetectionRepository creates a new PostgreSQL detection repository.
func NewDetectionRepository(pool *Pool) *DetectionRepository {
	return &DetectionRepository{pool: pool}
}

// Append stores one raw detection and fills in its assigned id.
func (r *DetectionRepository) Append(ctx context.Context, d *database.RawDetection) error {
	var embedding any
	if d.Embedding != nil {
		embedding = pgvector.NewVector(d.Embedding)
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO raw_detections (session_id, student_id, frame_number, distance, embedding, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, d.SessionID, d.StudentID, d.FrameNumber, d.Distance, embedding, d.DetectedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// WindowStats returns the count and mean distance of detections for
// (session, student) recorded at or after since.
func (r *DetectionRepository) WindowStats(ctx context.Context, sessionID, studentID int64, since time.Time) (*database.WindowStats, error) {
	var stats database.WindowStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(distance), 0)
		FROM raw_detections
		WHERE session_id = $1 AND student_id = $2 AND detected_at >= $3
	`, sessionID, studentID, since).Scan(&stats.Count, &stats.MeanDistance)
	if err != nil {
		return nil, fmt.Errorf("query window stats: %w", err)
	}
	return &stats, nil
}

// WindowEmbeddings returns the probe embeddings of the detections in the
// window, oldest first. Detections stored without a probe vector are skipped.
func (r *DetectionRepository) WindowEmbeddings(ctx context.Context, sessionID, studentID int64, since time.Time) ([][]float32, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT embedding
		FROM raw_detections
		WHERE session_id = $1 AND student_id = $2 AND detected_at >= $3 AND embedding IS NOT NULL
		ORDER BY detected_at, id
	`, sessionID, studentID, since)
	if err != nil {
		return nil, fmt.Errorf("query window embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings [][]float32
	for rows.Next() {
		var vec pgvector.Vector
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		embeddings = append(embeddings, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return embeddings, nil
}

// Count returns the total number of raw detections.
func (r *DetectionRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM raw_detections").Scan(&count); err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return count, nil
}

// Verify interface compliance
var _ database.DetectionStore = (*DetectionRepository)(nil)
