package attendance

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"math"
	"testing"
	"time"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/database/mock"
	"github.com/kozaktomas/facetrack/internal/detector"
	"github.com/kozaktomas/facetrack/internal/recognition"
)

type fakeDetector struct {
	faces []detector.Face   // returned for every call
	queue [][]detector.Face // when set, popped one entry per call instead
	err   error
	calls int
}

func (f *fakeDetector) Embed(ctx context.Context, frame []byte) (*detector.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	faces := f.faces
	if len(f.queue) > 0 {
		faces = f.queue[0]
		f.queue = f.queue[1:]
	}
	return &detector.Result{FacesCount: len(faces), Faces: faces, Model: "buffalo_l"}, nil
}

// encodeTestJPEG returns a small frame that decodes cleanly.
func encodeTestJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test frame: %v", err)
	}
	return buf.Bytes()
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// vec builds a 3-dim embedding at distance v from vec(0).
func vec(v float64) []float32 {
	return []float32{float32(v), 0, 0}
}

// face places a detection at a bbox far from other indexes so dedupe never
// merges test faces.
func face(idx int, emb []float32) detector.Face {
	x := float64(idx * 200)
	return detector.Face{
		FaceIndex: idx,
		Dim:       len(emb),
		Embedding: emb,
		BBox:      detector.BBox{x, 0, x + 80, 100},
		DetScore:  0.9,
	}
}

type pipelineFixture struct {
	t          *testing.T
	pipeline   *Pipeline
	students   *mock.MockStudentStore
	sessions   *mock.MockSessionStore
	detections *mock.MockDetectionStore
	attendance *mock.MockAttendanceStore
	det        *fakeDetector
	clock      *testClock
	session    *database.Session
	frame      []byte
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	students := mock.NewMockStudentStore()
	sessions := mock.NewMockSessionStore()
	detections := mock.NewMockDetectionStore()
	attendance := mock.NewMockAttendanceStore()
	attendance.Students = students

	det := &fakeDetector{}
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	cfg := &config.RecognitionConfig{
		DistanceThreshold: 0.5,
		RequiredFrames:    3,
		WindowSeconds:     30,
		EmbeddingDim:      3,
	}

	matcher := recognition.NewBruteForce(students.Embeddings, cfg.DistanceThreshold, cfg.EmbeddingDim)
	pipeline := NewPipeline(sessions, students, detections, attendance, matcher, recognition.PassThrough{}, det, cfg)
	pipeline.now = clock.Now

	session, err := sessions.Start(context.Background(), "teacher-1", "Math 101")
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	return &pipelineFixture{
		t:          t,
		pipeline:   pipeline,
		students:   students,
		sessions:   sessions,
		detections: detections,
		attendance: attendance,
		det:        det,
		clock:      clock,
		session:    session,
		frame:      encodeTestJPEG(t),
	}
}

func (f *pipelineFixture) enroll(no, name string, emb []float32) *database.Student {
	f.t.Helper()
	student, err := f.students.Enroll(context.Background(), no, name, [][]float32{emb})
	if err != nil {
		f.t.Fatalf("failed to enroll %s: %v", no, err)
	}
	return student
}

func (f *pipelineFixture) ingest(faces ...detector.Face) *FrameResult {
	f.t.Helper()
	f.det.faces = faces
	result, err := f.pipeline.IngestFrame(context.Background(), f.session.PublicID, f.frame)
	if err != nil {
		f.t.Fatalf("IngestFrame failed: %v", err)
	}
	return result
}

func (f *pipelineFixture) soleFace(result *FrameResult) FaceResult {
	f.t.Helper()
	if len(result.Recognized) != 1 {
		f.t.Fatalf("expected 1 recognized face, got %d", len(result.Recognized))
	}
	return result.Recognized[0]
}

func TestIngestFrame_MarksAfterConsistentFrames(t *testing.T) {
	f := newPipelineFixture(t)
	f.enroll("S117", "Jana Nováková", vec(0))

	// Three matches within ten seconds cross the threshold on frame 3.
	first := f.soleFace(f.ingest(face(0, vec(0.1))))
	if first.Status != StatusPending {
		t.Errorf("frame 1: expected pending, got %s", first.Status)
	}
	if first.Count != 1 || first.Required != 3 {
		t.Errorf("frame 1: expected count 1/3, got %d/%d", first.Count, first.Required)
	}
	if first.StudentNo != "S117" || first.FullName != "Jana Nováková" {
		t.Errorf("frame 1: expected student identity, got %+v", first)
	}

	f.clock.Advance(4 * time.Second)
	second := f.soleFace(f.ingest(face(0, vec(0.2))))
	if second.Status != StatusPending || second.Count != 2 {
		t.Errorf("frame 2: expected pending 2/3, got %s %d/%d", second.Status, second.Count, second.Required)
	}

	f.clock.Advance(4 * time.Second)
	result := f.ingest(face(0, vec(0.3)))
	if result.FrameNumber != 3 {
		t.Errorf("expected frame number 3, got %d", result.FrameNumber)
	}
	third := f.soleFace(result)
	if third.Status != StatusMarked {
		t.Fatalf("frame 3: expected marked, got %s", third.Status)
	}
	if math.Abs(third.Confidence-0.8) > 1e-6 {
		t.Errorf("expected confidence 1-mean(0.1,0.2,0.3)=0.8, got %f", third.Confidence)
	}

	// Later frames report already-marked and write no further evidence.
	detectionsBefore, _ := f.detections.Count(context.Background())
	f.clock.Advance(time.Second)
	fourth := f.soleFace(f.ingest(face(0, vec(0.1))))
	if fourth.Status != StatusAlreadyMarked {
		t.Errorf("frame 4: expected already-marked, got %s", fourth.Status)
	}
	detectionsAfter, _ := f.detections.Count(context.Background())
	if detectionsAfter != detectionsBefore {
		t.Errorf("expected no detection writes after marking, got %d -> %d", detectionsBefore, detectionsAfter)
	}

	marked, _ := f.attendance.Count(context.Background())
	if marked != 1 {
		t.Errorf("expected exactly 1 attendance record, got %d", marked)
	}
}

func TestIngestFrame_WindowExpiryKeepsPending(t *testing.T) {
	f := newPipelineFixture(t)
	f.enroll("S117", "Jana Nováková", vec(0))

	f.ingest(face(0, vec(0.1)))

	f.clock.Advance(10 * time.Second)
	f.ingest(face(0, vec(0.1)))

	// Frame 3 lands 35s after frame 1, so frame 1 has expired from the
	// trailing window and the student must not be marked yet.
	f.clock.Advance(25 * time.Second)
	third := f.soleFace(f.ingest(face(0, vec(0.1))))
	if third.Status != StatusPending {
		t.Fatalf("expected pending after window expiry, got %s", third.Status)
	}
	if third.Count != 2 {
		t.Errorf("expected 2 detections left in window, got %d", third.Count)
	}

	// Three detections finally co-occur inside one window.
	f.clock.Advance(3 * time.Second)
	fourth := f.soleFace(f.ingest(face(0, vec(0.1))))
	if fourth.Status != StatusMarked {
		t.Errorf("expected marked once three detections share a window, got %s", fourth.Status)
	}
}

func TestIngestFrame_EmptyStoreReportsUnknown(t *testing.T) {
	f := newPipelineFixture(t)

	got := f.soleFace(f.ingest(face(0, vec(0.1))))
	if got.Status != StatusUnknown {
		t.Errorf("expected unknown on empty store, got %s", got.Status)
	}
	if got.Distance != recognition.UnknownDistance {
		t.Errorf("expected distance %.1f, got %f", recognition.UnknownDistance, got.Distance)
	}

	// Unmatched probes leave no evidence behind.
	count, _ := f.detections.Count(context.Background())
	if count != 0 {
		t.Errorf("expected no raw detections, got %d", count)
	}
}

func TestIngestFrame_EndedSessionRejected(t *testing.T) {
	f := newPipelineFixture(t)
	f.enroll("S117", "Jana Nováková", vec(0))
	f.ingest(face(0, vec(0.1)))

	if _, err := f.pipeline.EndSession(context.Background(), f.session.PublicID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	_, err := f.pipeline.IngestFrame(context.Background(), f.session.PublicID, f.frame)
	if !errors.Is(err, database.ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}

	session, _ := f.sessions.GetByPublicID(context.Background(), f.session.PublicID)
	if session.FrameCounter != 1 {
		t.Errorf("expected frame counter unchanged at 1, got %d", session.FrameCounter)
	}
}

func TestIngestFrame_ThresholdDistanceIsUnknown(t *testing.T) {
	f := newPipelineFixture(t)
	f.enroll("S117", "Jana Nováková", vec(0))

	// Probe at exactly the threshold distance. Strictly less-than means no
	// match.
	got := f.soleFace(f.ingest(face(0, vec(0.5))))
	if got.Status != StatusUnknown {
		t.Errorf("expected unknown at threshold distance, got %s", got.Status)
	}
	if got.Distance != 0.5 {
		t.Errorf("expected reported distance 0.5, got %f", got.Distance)
	}
}

func TestIngestFrame_DecodeFailureConsumesFrame(t *testing.T) {
	f := newPipelineFixture(t)

	result, err := f.pipeline.IngestFrame(context.Background(), f.session.PublicID, []byte("not an image"))
	if err != nil {
		t.Fatalf("expected partial failure, got error: %v", err)
	}
	if result.Error != DecodeFailed {
		t.Errorf("expected error %q, got %q", DecodeFailed, result.Error)
	}
	if result.FrameNumber != 1 {
		t.Errorf("expected frame number 1, got %d", result.FrameNumber)
	}
	if result.FacesDetected != 0 || len(result.Recognized) != 0 {
		t.Errorf("expected no detections, got %+v", result)
	}
	if f.det.calls != 0 {
		t.Errorf("expected detector untouched, got %d calls", f.det.calls)
	}

	// The bad frame consumed its number; the next frame gets 2.
	next := f.ingest()
	if next.FrameNumber != 2 {
		t.Errorf("expected frame number 2, got %d", next.FrameNumber)
	}
}

func TestIngestFrame_DetectorFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.det.err = errors.New("connection refused")

	_, err := f.pipeline.IngestFrame(context.Background(), f.session.PublicID, f.frame)
	if !errors.Is(err, ErrDetectorUnavailable) {
		t.Fatalf("expected ErrDetectorUnavailable, got %v", err)
	}

	// The counter had already advanced when the detector failed.
	session, _ := f.sessions.GetByPublicID(context.Background(), f.session.PublicID)
	if session.FrameCounter != 1 {
		t.Errorf("expected frame counter 1, got %d", session.FrameCounter)
	}
}

func TestIngestFrame_TwoFacesProcessedIndependently(t *testing.T) {
	f := newPipelineFixture(t)
	f.enroll("S117", "Jana Nováková", vec(0))
	f.enroll("S118", "Petr Svoboda", vec(10))

	result := f.ingest(
		face(0, vec(0.1)),  // close to S117
		face(1, vec(10.2)), // close to S118
	)
	if result.FacesDetected != 2 {
		t.Fatalf("expected 2 faces, got %d", result.FacesDetected)
	}
	if len(result.Recognized) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(result.Recognized))
	}

	nos := map[string]bool{}
	for _, r := range result.Recognized {
		if r.Status != StatusPending {
			t.Errorf("expected pending for %s, got %s", r.StudentNo, r.Status)
		}
		nos[r.StudentNo] = true
	}
	if !nos["S117"] || !nos["S118"] {
		t.Errorf("expected both students recognized, got %v", nos)
	}
}

type racingAttendance struct {
	*mock.MockAttendanceStore
	loseNext bool
}

func (r *racingAttendance) MarkPresent(ctx context.Context, rec *database.AttendanceRecord) (bool, error) {
	if r.loseNext {
		r.loseNext = false
		return false, nil
	}
	return r.MockAttendanceStore.MarkPresent(ctx, rec)
}

func TestIngestFrame_RaceLoserReportsAlreadyMarked(t *testing.T) {
	f := newPipelineFixture(t)
	f.enroll("S117", "Jana Nováková", vec(0))
	f.pipeline.attendance = &racingAttendance{MockAttendanceStore: f.attendance, loseNext: true}

	f.ingest(face(0, vec(0.1)))
	f.clock.Advance(time.Second)
	f.ingest(face(0, vec(0.1)))
	f.clock.Advance(time.Second)

	// The threshold crossing loses the insert to a concurrent writer. That
	// must surface as already-marked, never as an error.
	got := f.soleFace(f.ingest(face(0, vec(0.1))))
	if got.Status != StatusAlreadyMarked {
		t.Errorf("expected already-marked for race loser, got %s", got.Status)
	}
}

func TestIngestFrame_LivenessHoldsBackMark(t *testing.T) {
	f := newPipelineFixture(t)
	f.enroll("S117", "Jana Nováková", vec(0))
	f.pipeline.liveness = recognition.MinVariance{Floor: 0.01}

	// Identical embeddings in every frame look like a replayed still image.
	for i := 0; i < 2; i++ {
		f.ingest(face(0, vec(0.1)))
		f.clock.Advance(time.Second)
	}
	third := f.soleFace(f.ingest(face(0, vec(0.1))))
	if third.Status != StatusPending {
		t.Fatalf("expected pending while window fails liveness, got %s", third.Status)
	}
	if third.Count != 3 {
		t.Errorf("expected count 3 reported, got %d", third.Count)
	}
	marked, _ := f.attendance.Count(context.Background())
	if marked != 0 {
		t.Errorf("expected no attendance record, got %d", marked)
	}

	// A frame with normal noise makes the window credible.
	f.clock.Advance(time.Second)
	fourth := f.soleFace(f.ingest(face(0, vec(0.3))))
	if fourth.Status != StatusMarked {
		t.Errorf("expected marked once the window varies, got %s", fourth.Status)
	}
}

func TestEndSession_ReportsTotalPresent(t *testing.T) {
	f := newPipelineFixture(t)
	f.enroll("S117", "Jana Nováková", vec(0))

	for i := 0; i < 3; i++ {
		f.ingest(face(0, vec(0.1)))
		f.clock.Advance(time.Second)
	}

	summary, err := f.pipeline.EndSession(context.Background(), f.session.PublicID)
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if summary.TotalPresent != 1 {
		t.Errorf("expected 1 present, got %d", summary.TotalPresent)
	}
	if summary.Session.Active || summary.Session.EndedAt == nil {
		t.Errorf("expected ended session, got %+v", summary.Session)
	}

	if _, err := f.pipeline.EndSession(context.Background(), f.session.PublicID); !errors.Is(err, database.ErrSessionInactive) {
		t.Errorf("expected ErrSessionInactive on second end, got %v", err)
	}
}
