package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/roster"
)

// StudentRepository provides PostgreSQL-backed student storage.
type StudentRepository struct {
	pool *Pool
}

// NewStudentRepository creates a new PostgreSQL student repository.
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// Enroll creates a student together with its initial embeddings in a single
// transaction. A student number that exists as an identity-only row (roster
// import) is completed in place; one that already has embeddings yields
// ErrStudentExists.
func (r *StudentRepository) Enroll(ctx context.Context, studentNo, fullName string, embeddings [][]float32) (*database.Student, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("enroll %s: no embeddings", studentNo)
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	student := database.Student{
		StudentNo:      studentNo,
		FullName:       fullName,
		NormalizedName: roster.NormalizeName(fullName),
		EmbeddingCount: len(embeddings),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO students (student_no, full_name, normalized_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_no) DO NOTHING
		RETURNING id, created_at
	`, studentNo, fullName, student.NormalizedName).Scan(&student.ID, &student.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// The row exists already. Complete it only if no embeddings were
		// ever enrolled for it.
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT s.id, s.created_at,
			       (SELECT COUNT(*) FROM embeddings e WHERE e.student_id = s.id)
			FROM students s
			WHERE s.student_no = $1
		`, studentNo).Scan(&student.ID, &student.CreatedAt, &count)
		if err != nil {
			return nil, fmt.Errorf("query existing student: %w", err)
		}
		if count > 0 {
			return nil, database.ErrStudentExists
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE students SET full_name = $2, normalized_name = $3 WHERE id = $1
		`, student.ID, fullName, student.NormalizedName); err != nil {
			return nil, fmt.Errorf("update student identity: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("insert student: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (student_id, embedding) VALUES ($1, $2::vector)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare embedding insert: %w", err)
	}
	defer stmt.Close()

	for i, vector := range embeddings {
		if _, err := stmt.ExecContext(ctx, student.ID, pgvector.NewVector(vector)); err != nil {
			return nil, fmt.Errorf("insert embedding %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}
	return &student, nil
}

// AddEmbedding stores one additional embedding for an existing student. The
// insert and the existence check are a single statement, so there is no
// window for the student to disappear in between.
func (r *StudentRepository) AddEmbedding(ctx context.Context, studentNo string, vector []float32) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO embeddings (student_id, embedding)
		SELECT id, $2::vector FROM students WHERE student_no = $1
		RETURNING id
	`, studentNo, pgvector.NewVector(vector)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, database.ErrStudentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("insert embedding: %w", err)
	}
	return id, nil
}

// GetByNo retrieves a student by external number, nil if not found.
func (r *StudentRepository) GetByNo(ctx context.Context, studentNo string) (*database.Student, error) {
	return r.get(ctx, "s.student_no = $1", studentNo)
}

// GetByID retrieves a student by internal id, nil if not found.
func (r *StudentRepository) GetByID(ctx context.Context, id int64) (*database.Student, error) {
	return r.get(ctx, "s.id = $1", id)
}

func (r *StudentRepository) get(ctx context.Context, where string, arg any) (*database.Student, error) {
	query := fmt.Sprintf(`
		SELECT s.id, s.student_no, s.full_name, s.normalized_name, s.created_at,
		       (SELECT COUNT(*) FROM embeddings e WHERE e.student_id = s.id)
		FROM students s
		WHERE %s
	`, where)

	var s database.Student
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&s.ID,
		&s.StudentNo,
		&s.FullName,
		&s.NormalizedName,
		&s.CreatedAt,
		&s.EmbeddingCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query student: %w", err)
	}
	return &s, nil
}

// List returns all students ordered by id, with embedding counts.
func (r *StudentRepository) List(ctx context.Context) ([]database.Student, error) {
	query := `
		SELECT s.id, s.student_no, s.full_name, s.normalized_name, s.created_at,
		       COUNT(e.id)
		FROM students s
		LEFT JOIN embeddings e ON e.student_id = s.id
		GROUP BY s.id
		ORDER BY s.id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var students []database.Student
	for rows.Next() {
		var s database.Student
		if err := rows.Scan(
			&s.ID,
			&s.StudentNo,
			&s.FullName,
			&s.NormalizedName,
			&s.CreatedAt,
			&s.EmbeddingCount,
		); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// Delete removes a student; embeddings, detections and attendance records
// follow by cascade. Returns false if no such student existed.
func (r *StudentRepository) Delete(ctx context.Context, studentNo string) (bool, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM students WHERE student_no = $1", studentNo)
	if err != nil {
		return false, fmt.Errorf("delete student: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return count > 0, nil
}

// Count returns the number of enrolled students.
func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM students").Scan(&count); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return count, nil
}

// CreateIdentity inserts a student row without embeddings, used by the
// roster import. An existing student number is left untouched; the return
// value reports whether a row was created.
func (r *StudentRepository) CreateIdentity(ctx context.Context, studentNo, fullName string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO students (student_no, full_name, normalized_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_no) DO NOTHING
	`, studentNo, fullName, roster.NormalizeName(fullName))
	if err != nil {
		return false, fmt.Errorf("insert student identity: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return count > 0, nil
}

// ExistingNos returns which of the given student numbers are already present.
func (r *StudentRepository) ExistingNos(ctx context.Context, nos []string) (map[string]bool, error) {
	if len(nos) == 0 {
		return map[string]bool{}, nil
	}

	rows, err := r.pool.Query(ctx, "SELECT student_no FROM students WHERE student_no = ANY($1)", pq.Array(nos))
	if err != nil {
		return nil, fmt.Errorf("query student numbers: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, fmt.Errorf("scan student number: %w", err)
		}
		existing[no] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate student numbers: %w", err)
	}
	return existing, nil
}

// Verify interface compliance
var _ database.StudentStore = (*StudentRepository)(nil)
