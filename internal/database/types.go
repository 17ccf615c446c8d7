package database

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Student represents an enrolled student.
type Student struct {
	ID             int64
	StudentNo      string // stable external identifier, caller-supplied
	FullName       string
	NormalizedName string // lowercase, diacritics stripped, for roster matching
	CreatedAt      time.Time
	EmbeddingCount int // populated by list queries
}

// StoredEmbedding represents a face embedding stored for a student.
// Embeddings are immutable once stored and are removed only when the owning
// student is deleted.
type StoredEmbedding struct {
	ID        int64
	StudentID int64
	Embedding []float32
	CreatedAt time.Time
}

// Session represents one bounded attendance-taking event.
// The frame counter lives on the row itself so it survives restarts and is
// shared correctly between concurrent workers.
type Session struct {
	ID           int64
	PublicID     uuid.UUID
	TeacherID    string
	CourseName   string
	StartedAt    time.Time
	EndedAt      *time.Time
	Active       bool
	FrameCounter int64
	LastFrameAt  *time.Time
}

// RawDetection is one frame's matched-but-unconfirmed evidence for a student
// in a session. Rows are append-only; the probe embedding is kept so the
// liveness predicate can inspect the window's embedding sequence.
type RawDetection struct {
	ID          int64
	SessionID   int64
	StudentID   int64
	FrameNumber int64
	Distance    float64
	Embedding   []float32
	DetectedAt  time.Time
}

// AttendanceStatus is the outcome recorded for a student in a session.
type AttendanceStatus string

// Attendance statuses.
const (
	StatusPresent AttendanceStatus = "PRESENT"
	StatusAbsent  AttendanceStatus = "ABSENT"
	StatusLate    AttendanceStatus = "LATE"
)

// AttendanceRecord is the authoritative per-session outcome for a student.
// At most one record may exist per (session, student), enforced by a unique
// constraint.
type AttendanceRecord struct {
	ID         int64
	SessionID  int64
	StudentID  int64
	Status     AttendanceStatus
	Confidence float64
	MarkedAt   time.Time
}

// ReportRow is one line of a session report: the attendance record joined
// with student identity.
type ReportRow struct {
	StudentNo  string           `json:"student_id"`
	FullName   string           `json:"name"`
	Status     AttendanceStatus `json:"status"`
	Confidence float64          `json:"confidence"`
	MarkedAt   time.Time        `json:"timestamp"`
}

// WindowStats summarizes the raw detections for a (session, student) pair
// inside one trailing consistency window.
type WindowStats struct {
	Count        int
	MeanDistance float64
}

// vectorHeaderSize is the size of the length prefix in the binary vector encoding.
const vectorHeaderSize = 4

// EncodeVector serializes an embedding as a big-endian uint32 element count
// followed by that many big-endian IEEE 754 float32 values. This is the only
// supported binary form for embeddings that leave the database (export files,
// external stores); opaque object serialization is deliberately not used.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, vectorHeaderSize+4*len(v))
	binary.BigEndian.PutUint32(buf, uint32(len(v)))
	for i, f := range v {
		binary.BigEndian.PutUint32(buf[vectorHeaderSize+4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector parses a vector encoded by EncodeVector. The declared element
// count must match dim and the blob length must match the declared count;
// anything else is rejected rather than silently truncated or padded.
func DecodeVector(buf []byte, dim int) ([]float32, error) {
	if len(buf) < vectorHeaderSize {
		return nil, fmt.Errorf("vector blob too short: %d bytes", len(buf))
	}
	count := int(binary.BigEndian.Uint32(buf))
	if count != dim {
		return nil, fmt.Errorf("vector dimensionality mismatch: blob declares %d, expected %d", count, dim)
	}
	if want := vectorHeaderSize + 4*count; len(buf) != want {
		return nil, fmt.Errorf("vector blob length mismatch: got %d bytes, expected %d", len(buf), want)
	}
	v := make([]float32, count)
	for i := range v {
		v[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[vectorHeaderSize+4*i:]))
	}
	return v, nil
}
