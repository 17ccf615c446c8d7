package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/facetrack/internal/database"
)

// AttendanceRepository is the PostgreSQL attendance ledger. The
// UNIQUE(session_id, student_id) constraint makes the at-most-one-record
// invariant hold no matter how many workers race a mark.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// Exists reports whether an attendance record exists for the pair.
func (r *AttendanceRepository) Exists(ctx context.Context, sessionID, studentID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM attendance_logs WHERE session_id = $1 AND student_id = $2)",
		sessionID, studentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check attendance exists: %w", err)
	}
	return exists, nil
}

// MarkPresent inserts an attendance record for the pair. The conditional
// insert returns no row when a record already exists, which is how a losing
// writer in a race learns the student was marked by someone else.
func (r *AttendanceRepository) MarkPresent(ctx context.Context, rec *database.AttendanceRecord) (bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO attendance_logs (session_id, student_id, status, confidence, marked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING id
	`, rec.SessionID, rec.StudentID, rec.Status, rec.Confidence, rec.MarkedAt).Scan(&rec.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert attendance record: %w", err)
	}
	return true, nil
}

// CountPresent returns the number of PRESENT records for a session.
func (r *AttendanceRepository) CountPresent(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM attendance_logs WHERE session_id = $1 AND status = $2",
		sessionID, database.StatusPresent).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count present: %w", err)
	}
	return count, nil
}

// Report returns the session's attendance records joined with student
// identity, ordered by mark time.
func (r *AttendanceRepository) Report(ctx context.Context, sessionID int64) ([]database.ReportRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.student_no, s.full_name, a.status, a.confidence, a.marked_at
		FROM attendance_logs a
		JOIN students s ON s.id = a.student_id
		WHERE a.session_id = $1
		ORDER BY a.marked_at, a.id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	defer rows.Close()

	var report []database.ReportRow
	for rows.Next() {
		var row database.ReportRow
		if err := rows.Scan(&row.StudentNo, &row.FullName, &row.Status, &row.Confidence, &row.MarkedAt); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}
	return report, nil
}

// Count returns the total number of attendance records.
func (r *AttendanceRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_logs").Scan(&count); err != nil {
		return 0, fmt.Errorf("count attendance records: %w", err)
	}
	return count, nil
}

// Verify interface compliance
var _ database.AttendanceStore = (*AttendanceRepository)(nil)
