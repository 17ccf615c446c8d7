package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/facetrack/internal/database"
)

// sessionColumns is the column list shared by every session query.
const sessionColumns = "id, public_id, teacher_id, course_name, started_at, ended_at, is_active, frame_counter, last_frame_at"

// SessionRepository provides PostgreSQL-backed session storage. The frame
// counter and the ACTIVE flag live on the session row, so increments and the
// end transition are single atomic statements.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new PostgreSQL session repository.
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Start creates a new ACTIVE session with a zero frame counter.
func (r *SessionRepository) Start(ctx context.Context, teacherID, courseName string) (*database.Session, error) {
	session := database.Session{
		PublicID:   uuid.New(),
		TeacherID:  teacherID,
		CourseName: courseName,
		Active:     true,
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO sessions (public_id, teacher_id, course_name)
		VALUES ($1, $2, $3)
		RETURNING id, started_at
	`, session.PublicID, teacherID, courseName).Scan(&session.ID, &session.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &session, nil
}

// GetByPublicID retrieves a session, nil if not found.
func (r *SessionRepository) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*database.Session, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE public_id = $1", publicID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return session, nil
}

// NextFrame atomically increments the frame counter of an ACTIVE session and
// returns the session's internal id together with the new frame number. The
// WHERE clause keeps ended and missing sessions out, so the counter is never
// advanced for them.
func (r *SessionRepository) NextFrame(ctx context.Context, publicID uuid.UUID, at time.Time) (int64, int64, error) {
	var sessionID, frameNumber int64
	err := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET frame_counter = frame_counter + 1, last_frame_at = $2
		WHERE public_id = $1 AND is_active
		RETURNING id, frame_counter
	`, publicID, at).Scan(&sessionID, &frameNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, database.ErrSessionInactive
	}
	if err != nil {
		return 0, 0, fmt.Errorf("increment frame counter: %w", err)
	}
	return sessionID, frameNumber, nil
}

// End transitions an ACTIVE session to ENDED. The transition happens at most
// once; repeating it, or ending a missing session, yields ErrSessionInactive.
func (r *SessionRepository) End(ctx context.Context, publicID uuid.UUID, at time.Time) (*database.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET is_active = FALSE, ended_at = $2
		WHERE public_id = $1 AND is_active
		RETURNING `+sessionColumns, publicID, at)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrSessionInactive
	}
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	return session, nil
}

// List returns the most recently started sessions.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]database.Session, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM sessions ORDER BY started_at DESC, id DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.Session
	for rows.Next() {
		var s database.Session
		if err := rows.Scan(
			&s.ID,
			&s.PublicID,
			&s.TeacherID,
			&s.CourseName,
			&s.StartedAt,
			&s.EndedAt,
			&s.Active,
			&s.FrameCounter,
			&s.LastFrameAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// EndIdle ends ACTIVE sessions that have seen no frame since the cutoff,
// falling back to the start time for sessions that never received one.
// Returns the number of sessions ended.
func (r *SessionRepository) EndIdle(ctx context.Context, cutoff, at time.Time) (int, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET is_active = FALSE, ended_at = $2
		WHERE is_active AND COALESCE(last_frame_at, started_at) < $1
	`, cutoff, at)
	if err != nil {
		return 0, fmt.Errorf("end idle sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return int(count), nil
}

// Count returns the total number of sessions.
func (r *SessionRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

func scanSession(row *sql.Row) (*database.Session, error) {
	var s database.Session
	err := row.Scan(
		&s.ID,
		&s.PublicID,
		&s.TeacherID,
		&s.CourseName,
		&s.StartedAt,
		&s.EndedAt,
		&s.Active,
		&s.FrameCounter,
		&s.LastFrameAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Verify interface compliance
var _ database.SessionStore = (*SessionRepository)(nil)
