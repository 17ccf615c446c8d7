package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by store implementations.
var (
	// ErrSessionInactive is returned for operations that require an ACTIVE
	// session when the session is missing or already ended.
	ErrSessionInactive = errors.New("session missing or already ended")

	// ErrStudentExists is returned when enrolling a student number that is
	// already taken.
	ErrStudentExists = errors.New("student number already enrolled")

	// ErrStudentNotFound is returned by writes that target a missing student.
	ErrStudentNotFound = errors.New("student not found")

	// ErrDimensionMismatch is returned when a vector does not match the
	// configured embedding dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimensionality mismatch")
)

// StudentStore provides access to students and their embeddings.
type StudentStore interface {
	// Enroll creates a student together with its initial embeddings in a
	// single transaction. An identity-only row left by a roster import is
	// completed in place. Returns ErrStudentExists if the student number
	// already has embeddings. Never leaves a student behind without
	// embeddings.
	Enroll(ctx context.Context, studentNo, fullName string, embeddings [][]float32) (*Student, error)

	// AddEmbedding stores one additional embedding for an existing student
	// and returns its id. Returns ErrStudentNotFound for unknown students.
	AddEmbedding(ctx context.Context, studentNo string, vector []float32) (int64, error)

	// GetByNo retrieves a student by external number, nil if not found.
	GetByNo(ctx context.Context, studentNo string) (*Student, error)

	// GetByID retrieves a student by internal id, nil if not found.
	GetByID(ctx context.Context, id int64) (*Student, error)

	// List returns all students with their embedding counts.
	List(ctx context.Context) ([]Student, error)

	// Delete removes a student and, by cascade, its embeddings. Returns
	// false if no such student existed.
	Delete(ctx context.Context, studentNo string) (bool, error)

	// Count returns the number of enrolled students.
	Count(ctx context.Context) (int, error)
}

// EmbeddingStore provides read access to stored embeddings for matching.
// Reads are safe for unlimited concurrency; a concurrent enrollment only has
// to become visible eventually.
type EmbeddingStore interface {
	// All returns every stored embedding ordered by id.
	All(ctx context.Context) ([]StoredEmbedding, error)

	// NearestL2 returns the stored embedding closest to probe by Euclidean
	// distance, together with that distance. Returns nil when the store is
	// empty. Ties resolve to the lowest embedding id.
	NearestL2(ctx context.Context, probe []float32) (*StoredEmbedding, float64, error)

	// Count returns the total number of stored embeddings.
	Count(ctx context.Context) (int, error)
}

// SessionStore owns the session lifecycle and the per-session frame counter.
type SessionStore interface {
	// Start creates a new ACTIVE session with a zero frame counter.
	Start(ctx context.Context, teacherID, courseName string) (*Session, error)

	// GetByPublicID retrieves a session, nil if not found.
	GetByPublicID(ctx context.Context, publicID uuid.UUID) (*Session, error)

	// NextFrame atomically increments the frame counter of an ACTIVE session
	// and returns the session's internal id and the new frame number. Two
	// concurrent calls never observe the same number. Returns
	// ErrSessionInactive without incrementing when the session is missing or
	// ended.
	NextFrame(ctx context.Context, publicID uuid.UUID, at time.Time) (sessionID, frameNumber int64, err error)

	// End transitions an ACTIVE session to ENDED, recording the end time.
	// The transition happens at most once; a second call returns
	// ErrSessionInactive. Existing detections and attendance records are
	// not touched.
	End(ctx context.Context, publicID uuid.UUID, at time.Time) (*Session, error)

	// List returns the most recently started sessions.
	List(ctx context.Context, limit int) ([]Session, error)

	// EndIdle ends ACTIVE sessions that have seen no frame since the cutoff
	// (falling back to the start time for sessions that never received one).
	// Returns the number of sessions ended.
	EndIdle(ctx context.Context, cutoff, at time.Time) (int, error)

	// Count returns the total number of sessions.
	Count(ctx context.Context) (int, error)
}

// DetectionStore records per-frame match evidence.
type DetectionStore interface {
	// Append stores one raw detection. Rows are never updated.
	Append(ctx context.Context, d *RawDetection) error

	// WindowStats returns the count and mean distance of detections for
	// (session, student) recorded at or after since.
	WindowStats(ctx context.Context, sessionID, studentID int64, since time.Time) (*WindowStats, error)

	// WindowEmbeddings returns the probe embeddings of the detections in the
	// window, oldest first, for the liveness predicate.
	WindowEmbeddings(ctx context.Context, sessionID, studentID int64, since time.Time) ([][]float32, error)

	// Count returns the total number of raw detections.
	Count(ctx context.Context) (int, error)
}

// AttendanceStore is the deduplicated attendance ledger.
type AttendanceStore interface {
	// Exists reports whether an attendance record exists for the pair.
	Exists(ctx context.Context, sessionID, studentID int64) (bool, error)

	// MarkPresent inserts a PRESENT record for the pair. Returns false when
	// a record already exists (the insert is a conditional no-op, so two
	// concurrent callers cannot both succeed).
	MarkPresent(ctx context.Context, rec *AttendanceRecord) (bool, error)

	// CountPresent returns the number of PRESENT records for a session.
	CountPresent(ctx context.Context, sessionID int64) (int, error)

	// Report returns the session's attendance records joined with student
	// identity, ordered by mark time.
	Report(ctx context.Context, sessionID int64) ([]ReportRow, error)

	// Count returns the total number of attendance records.
	Count(ctx context.Context) (int, error)
}
