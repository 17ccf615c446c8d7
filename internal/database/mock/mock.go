// Package mock provides in-memory implementations of the database store
// interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/roster"
)

// MockEmbeddingStore is an in-memory implementation of database.EmbeddingStore.
type MockEmbeddingStore struct {
	mu         sync.RWMutex
	embeddings map[int64]*database.StoredEmbedding
	nextID     int64

	// Error injection
	AllError     error
	NearestError error
	CountError   error
}

// NewMockEmbeddingStore creates a new mock embedding store.
func NewMockEmbeddingStore() *MockEmbeddingStore {
	return &MockEmbeddingStore{
		embeddings: make(map[int64]*database.StoredEmbedding),
	}
}

// Put seeds one stored embedding and returns its id. A zero emb.ID gets the
// next free id; a nonzero one is kept, so tests can pin ids for tie-breaking.
func (m *MockEmbeddingStore) Put(emb database.StoredEmbedding) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(emb)
}

// put stores an embedding; callers must hold mu.
func (m *MockEmbeddingStore) put(emb database.StoredEmbedding) int64 {
	if emb.ID == 0 {
		m.nextID++
		emb.ID = m.nextID
	} else if emb.ID > m.nextID {
		m.nextID = emb.ID
	}
	m.embeddings[emb.ID] = &emb
	return emb.ID
}

// All returns every stored embedding ordered by id.
func (m *MockEmbeddingStore) All(ctx context.Context) ([]database.StoredEmbedding, error) {
	if m.AllError != nil {
		return nil, m.AllError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []database.StoredEmbedding
	for _, emb := range m.embeddings {
		results = append(results, *emb)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// NearestL2 returns the stored embedding closest to probe by Euclidean
// distance. Ties resolve to the lowest id, matching the SQL ordering of the
// real store.
func (m *MockEmbeddingStore) NearestL2(ctx context.Context, probe []float32) (*database.StoredEmbedding, float64, error) {
	if m.NearestError != nil {
		return nil, 0, m.NearestError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.embeddings))
	for id := range m.embeddings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var best *database.StoredEmbedding
	bestDist := math.Inf(1)
	for _, id := range ids {
		emb := m.embeddings[id]
		d := euclidean(probe, emb.Embedding)
		if d < bestDist {
			best = emb
			bestDist = d
		}
	}
	if best == nil {
		return nil, 0, nil
	}
	result := *best
	return &result, bestDist, nil
}

// Count returns the total number of stored embeddings.
func (m *MockEmbeddingStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings), nil
}

// countFor returns the number of embeddings owned by a student; callers must
// hold mu.
func (m *MockEmbeddingStore) countFor(studentID int64) int {
	count := 0
	for _, emb := range m.embeddings {
		if emb.StudentID == studentID {
			count++
		}
	}
	return count
}

// deleteFor removes all embeddings owned by a student; callers must hold mu.
func (m *MockEmbeddingStore) deleteFor(studentID int64) {
	for id, emb := range m.embeddings {
		if emb.StudentID == studentID {
			delete(m.embeddings, id)
		}
	}
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// MockStudentStore is an in-memory implementation of database.StudentStore.
// Enrolled embeddings land in the Embeddings store so a matcher wired against
// it sees them, mirroring the shared tables of the real database.
type MockStudentStore struct {
	Embeddings *MockEmbeddingStore

	mu            sync.RWMutex
	students      map[string]*database.Student
	nextStudentID int64

	// Error injection
	EnrollError       error
	AddEmbeddingError error
	GetError          error
	ListError         error
	DeleteError       error
	CountError        error
}

// NewMockStudentStore creates a new mock student store with its own embedding
// store attached.
func NewMockStudentStore() *MockStudentStore {
	return &MockStudentStore{
		Embeddings: NewMockEmbeddingStore(),
		students:   make(map[string]*database.Student),
	}
}

// AddStudent seeds a student without embeddings, bypassing the Enroll
// invariant. Returns the assigned id.
func (m *MockStudentStore) AddStudent(s database.Student) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextStudentID++
		s.ID = m.nextStudentID
	} else if s.ID > m.nextStudentID {
		m.nextStudentID = s.ID
	}
	if s.NormalizedName == "" {
		s.NormalizedName = roster.NormalizeName(s.FullName)
	}
	m.students[s.StudentNo] = &s
	return s.ID
}

// Enroll creates a student together with its initial embeddings. An
// identity-only row left by a roster import is completed in place, matching
// the SQL store.
func (m *MockStudentStore) Enroll(ctx context.Context, studentNo, fullName string, embeddings [][]float32) (*database.Student, error) {
	if m.EnrollError != nil {
		return nil, m.EnrollError
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("enroll %s: no embeddings", studentNo)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Embeddings.mu.Lock()
	defer m.Embeddings.mu.Unlock()

	now := time.Now()
	student, ok := m.students[studentNo]
	if ok {
		if m.Embeddings.countFor(student.ID) > 0 {
			return nil, database.ErrStudentExists
		}
		student.FullName = fullName
		student.NormalizedName = roster.NormalizeName(fullName)
	} else {
		m.nextStudentID++
		student = &database.Student{
			ID:             m.nextStudentID,
			StudentNo:      studentNo,
			FullName:       fullName,
			NormalizedName: roster.NormalizeName(fullName),
			CreatedAt:      now,
		}
		m.students[studentNo] = student
	}

	for _, vector := range embeddings {
		m.Embeddings.put(database.StoredEmbedding{
			StudentID: student.ID,
			Embedding: vector,
			CreatedAt: now,
		})
	}

	result := *student
	result.EmbeddingCount = len(embeddings)
	return &result, nil
}

// AddEmbedding stores one additional embedding for an existing student.
func (m *MockStudentStore) AddEmbedding(ctx context.Context, studentNo string, vector []float32) (int64, error) {
	if m.AddEmbeddingError != nil {
		return 0, m.AddEmbeddingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	student, ok := m.students[studentNo]
	if !ok {
		return 0, database.ErrStudentNotFound
	}
	id := m.Embeddings.Put(database.StoredEmbedding{
		StudentID: student.ID,
		Embedding: vector,
		CreatedAt: time.Now(),
	})
	return id, nil
}

// GetByNo retrieves a student by external number, nil if not found.
func (m *MockStudentStore) GetByNo(ctx context.Context, studentNo string) (*database.Student, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	student, ok := m.students[studentNo]
	if !ok {
		return nil, nil
	}
	result := *student
	m.Embeddings.mu.RLock()
	result.EmbeddingCount = m.Embeddings.countFor(student.ID)
	m.Embeddings.mu.RUnlock()
	return &result, nil
}

// GetByID retrieves a student by internal id, nil if not found.
func (m *MockStudentStore) GetByID(ctx context.Context, id int64) (*database.Student, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, student := range m.students {
		if student.ID == id {
			result := *student
			return &result, nil
		}
	}
	return nil, nil
}

// List returns all students ordered by id, with embedding counts.
func (m *MockStudentStore) List(ctx context.Context) ([]database.Student, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []database.Student
	m.Embeddings.mu.RLock()
	for _, student := range m.students {
		s := *student
		s.EmbeddingCount = m.Embeddings.countFor(student.ID)
		results = append(results, s)
	}
	m.Embeddings.mu.RUnlock()
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// Delete removes a student and its embeddings.
func (m *MockStudentStore) Delete(ctx context.Context, studentNo string) (bool, error) {
	if m.DeleteError != nil {
		return false, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	student, ok := m.students[studentNo]
	if !ok {
		return false, nil
	}
	delete(m.students, studentNo)
	m.Embeddings.mu.Lock()
	m.Embeddings.deleteFor(student.ID)
	m.Embeddings.mu.Unlock()
	return true, nil
}

// Count returns the number of enrolled students.
func (m *MockStudentStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.students), nil
}

// MockSessionStore is an in-memory implementation of database.SessionStore.
type MockSessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*database.Session
	nextID   int64

	// Now supplies session start timestamps; defaults to time.Now.
	Now func() time.Time

	// Error injection
	StartError     error
	GetError       error
	NextFrameError error
	EndError       error
	ListError      error
	EndIdleError   error
	CountError     error
}

// NewMockSessionStore creates a new mock session store.
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		sessions: make(map[uuid.UUID]*database.Session),
		Now:      time.Now,
	}
}

// AddSession seeds a session. A zero PublicID gets a fresh one.
func (m *MockSessionStore) AddSession(s database.Session) *database.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextID++
		s.ID = m.nextID
	} else if s.ID > m.nextID {
		m.nextID = s.ID
	}
	if s.PublicID == uuid.Nil {
		s.PublicID = uuid.New()
	}
	m.sessions[s.PublicID] = &s
	result := s
	return &result
}

// Start creates a new ACTIVE session with a zero frame counter.
func (m *MockSessionStore) Start(ctx context.Context, teacherID, courseName string) (*database.Session, error) {
	if m.StartError != nil {
		return nil, m.StartError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	session := &database.Session{
		ID:         m.nextID,
		PublicID:   uuid.New(),
		TeacherID:  teacherID,
		CourseName: courseName,
		StartedAt:  m.Now(),
		Active:     true,
	}
	m.sessions[session.PublicID] = session
	result := *session
	return &result, nil
}

// GetByPublicID retrieves a session, nil if not found.
func (m *MockSessionStore) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*database.Session, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[publicID]
	if !ok {
		return nil, nil
	}
	result := *session
	return &result, nil
}

// NextFrame atomically increments the frame counter of an ACTIVE session.
func (m *MockSessionStore) NextFrame(ctx context.Context, publicID uuid.UUID, at time.Time) (int64, int64, error) {
	if m.NextFrameError != nil {
		return 0, 0, m.NextFrameError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[publicID]
	if !ok || !session.Active {
		return 0, 0, database.ErrSessionInactive
	}
	session.FrameCounter++
	t := at
	session.LastFrameAt = &t
	return session.ID, session.FrameCounter, nil
}

// End transitions an ACTIVE session to ENDED.
func (m *MockSessionStore) End(ctx context.Context, publicID uuid.UUID, at time.Time) (*database.Session, error) {
	if m.EndError != nil {
		return nil, m.EndError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[publicID]
	if !ok || !session.Active {
		return nil, database.ErrSessionInactive
	}
	session.Active = false
	t := at
	session.EndedAt = &t
	result := *session
	return &result, nil
}

// List returns the most recently started sessions.
func (m *MockSessionStore) List(ctx context.Context, limit int) ([]database.Session, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []database.Session
	for _, session := range m.sessions {
		results = append(results, *session)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].StartedAt.Equal(results[j].StartedAt) {
			return results[i].ID > results[j].ID
		}
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// EndIdle ends ACTIVE sessions with no frame activity since the cutoff.
func (m *MockSessionStore) EndIdle(ctx context.Context, cutoff, at time.Time) (int, error) {
	if m.EndIdleError != nil {
		return 0, m.EndIdleError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, session := range m.sessions {
		if !session.Active {
			continue
		}
		last := session.StartedAt
		if session.LastFrameAt != nil {
			last = *session.LastFrameAt
		}
		if last.Before(cutoff) {
			session.Active = false
			t := at
			session.EndedAt = &t
			count++
		}
	}
	return count, nil
}

// Count returns the total number of sessions.
func (m *MockSessionStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// MockDetectionStore is an in-memory implementation of database.DetectionStore.
type MockDetectionStore struct {
	mu         sync.RWMutex
	detections []database.RawDetection
	nextID     int64

	// Error injection
	AppendError     error
	StatsError      error
	EmbeddingsError error
	CountError      error
}

// NewMockDetectionStore creates a new mock detection store.
func NewMockDetectionStore() *MockDetectionStore {
	return &MockDetectionStore{}
}

// Append stores one raw detection.
func (m *MockDetectionStore) Append(ctx context.Context, d *database.RawDetection) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	m.detections = append(m.detections, *d)
	return nil
}

// WindowStats returns count and mean distance of detections recorded at or
// after since.
func (m *MockDetectionStore) WindowStats(ctx context.Context, sessionID, studentID int64, since time.Time) (*database.WindowStats, error) {
	if m.StatsError != nil {
		return nil, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &database.WindowStats{}
	var sum float64
	for i := range m.detections {
		d := &m.detections[i]
		if d.SessionID != sessionID || d.StudentID != studentID || d.DetectedAt.Before(since) {
			continue
		}
		stats.Count++
		sum += d.Distance
	}
	if stats.Count > 0 {
		stats.MeanDistance = sum / float64(stats.Count)
	}
	return stats, nil
}

// WindowEmbeddings returns the probe embeddings in the window, oldest first.
func (m *MockDetectionStore) WindowEmbeddings(ctx context.Context, sessionID, studentID int64, since time.Time) ([][]float32, error) {
	if m.EmbeddingsError != nil {
		return nil, m.EmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var window []database.RawDetection
	for i := range m.detections {
		d := m.detections[i]
		if d.SessionID != sessionID || d.StudentID != studentID || d.DetectedAt.Before(since) {
			continue
		}
		window = append(window, d)
	}
	sort.Slice(window, func(i, j int) bool {
		if window[i].DetectedAt.Equal(window[j].DetectedAt) {
			return window[i].ID < window[j].ID
		}
		return window[i].DetectedAt.Before(window[j].DetectedAt)
	})
	var results [][]float32
	for i := range window {
		results = append(results, window[i].Embedding)
	}
	return results, nil
}

// Count returns the total number of raw detections.
func (m *MockDetectionStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.detections), nil
}

// attendanceKey identifies one (session, student) ledger slot.
type attendanceKey struct {
	sessionID int64
	studentID int64
}

// MockAttendanceStore is an in-memory implementation of
// database.AttendanceStore. Set Students to have Report rows carry student
// identity the way the SQL join does.
type MockAttendanceStore struct {
	Students *MockStudentStore

	mu      sync.RWMutex
	records map[attendanceKey]*database.AttendanceRecord
	nextID  int64

	// Error injection
	ExistsError error
	MarkError   error
	CountError  error
	ReportError error
}

// NewMockAttendanceStore creates a new mock attendance store.
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{
		records: make(map[attendanceKey]*database.AttendanceRecord),
	}
}

// Exists reports whether an attendance record exists for the pair.
func (m *MockAttendanceStore) Exists(ctx context.Context, sessionID, studentID int64) (bool, error) {
	if m.ExistsError != nil {
		return false, m.ExistsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[attendanceKey{sessionID, studentID}]
	return ok, nil
}

// MarkPresent inserts a record for the pair, returning false when one already
// exists.
func (m *MockAttendanceStore) MarkPresent(ctx context.Context, rec *database.AttendanceRecord) (bool, error) {
	if m.MarkError != nil {
		return false, m.MarkError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey{rec.SessionID, rec.StudentID}
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.nextID++
	rec.ID = m.nextID
	stored := *rec
	m.records[key] = &stored
	return true, nil
}

// CountPresent returns the number of PRESENT records for a session.
func (m *MockAttendanceStore) CountPresent(ctx context.Context, sessionID int64) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for key, rec := range m.records {
		if key.sessionID == sessionID && rec.Status == database.StatusPresent {
			count++
		}
	}
	return count, nil
}

// Report returns the session's records ordered by mark time.
func (m *MockAttendanceStore) Report(ctx context.Context, sessionID int64) ([]database.ReportRow, error) {
	if m.ReportError != nil {
		return nil, m.ReportError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []database.AttendanceRecord
	for key, rec := range m.records {
		if key.sessionID == sessionID {
			records = append(records, *rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].MarkedAt.Equal(records[j].MarkedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].MarkedAt.Before(records[j].MarkedAt)
	})

	var rows []database.ReportRow
	for _, rec := range records {
		row := database.ReportRow{
			Status:     rec.Status,
			Confidence: rec.Confidence,
			MarkedAt:   rec.MarkedAt,
		}
		if m.Students != nil {
			if student, _ := m.Students.GetByID(ctx, rec.StudentID); student != nil {
				row.StudentNo = student.StudentNo
				row.FullName = student.FullName
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Count returns the total number of attendance records.
func (m *MockAttendanceStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Verify interface compliance
var _ database.EmbeddingStore = (*MockEmbeddingStore)(nil)
var _ database.StudentStore = (*MockStudentStore)(nil)
var _ database.SessionStore = (*MockSessionStore)(nil)
var _ database.DetectionStore = (*MockDetectionStore)(nil)
var _ database.AttendanceStore = (*MockAttendanceStore)(nil)
