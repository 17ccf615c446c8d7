package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/database/mock"
	"github.com/kozaktomas/facetrack/internal/detector"
	"github.com/kozaktomas/facetrack/internal/recognition"
	"github.com/kozaktomas/facetrack/internal/web/middleware"
)

// stubDetector returns canned detector responses. Queued results are consumed
// one per call before the fixed result applies.
type stubDetector struct {
	result *detector.Result
	queue  []*detector.Result
	err    error
	calls  int
}

func (d *stubDetector) Embed(ctx context.Context, frame []byte) (*detector.Result, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.calls++
	if len(d.queue) > 0 {
		r := d.queue[0]
		d.queue = d.queue[1:]
		return r, nil
	}
	if d.result != nil {
		return d.result, nil
	}
	return &detector.Result{Model: "stub"}, nil
}

func detectorResult(faces ...detector.Face) *detector.Result {
	return &detector.Result{FacesCount: len(faces), Faces: faces, Model: "buffalo_l"}
}

func testFace(idx int, embedding []float32) detector.Face {
	x := float64(idx * 200)
	return detector.Face{
		FaceIndex: idx,
		Dim:       len(embedding),
		Embedding: embedding,
		BBox:      detector.BBox{x, 0, x + 100, 100},
		DetScore:  0.9,
	}
}

// fixture bundles the handlers under test with their in-memory stores. The
// pipeline needs only one matched frame to mark a student, so a single ingest
// exercises the full path.
type fixture struct {
	students   *mock.MockStudentStore
	sessions   *mock.MockSessionStore
	detections *mock.MockDetectionStore
	ledger     *mock.MockAttendanceStore
	det        *stubDetector
	hub        *EventHub
	captures   *middleware.CaptureTokens

	sessionsHandler *SessionsHandler
	framesHandler   *FramesHandler
	eventsHandler   *EventsHandler
	studentsHandler *StudentsHandler
	statsHandler    *StatsHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	students := mock.NewMockStudentStore()
	sessions := mock.NewMockSessionStore()
	detections := mock.NewMockDetectionStore()
	ledger := mock.NewMockAttendanceStore()
	ledger.Students = students
	det := &stubDetector{}

	cfg := &config.RecognitionConfig{
		DistanceThreshold: 0.5,
		RequiredFrames:    1,
		WindowSeconds:     30,
		EmbeddingDim:      3,
	}
	matcher := recognition.NewBruteForce(students.Embeddings, cfg.DistanceThreshold, cfg.EmbeddingDim)
	pipeline := attendance.NewPipeline(sessions, students, detections, ledger, matcher, recognition.PassThrough{}, det, cfg)
	enroller := attendance.NewEnroller(students, students.Embeddings, det, nil, cfg.EmbeddingDim)

	hub := NewEventHub()
	captures := middleware.NewCaptureTokens("test-capture-secret")
	stats := NewStatsHandler(students, students.Embeddings, sessions, detections, ledger)

	return &fixture{
		students:   students,
		sessions:   sessions,
		detections: detections,
		ledger:     ledger,
		det:        det,
		hub:        hub,
		captures:   captures,

		sessionsHandler: NewSessionsHandler(sessions, ledger, pipeline, captures, hub),
		framesHandler:   NewFramesHandler(pipeline, hub),
		eventsHandler:   NewEventsHandler(sessions, hub),
		studentsHandler: NewStudentsHandler(students, enroller, stats),
		statsHandler:    stats,
	}
}

// startSession seeds an active session through the store.
func (f *fixture) startSession(t *testing.T) *database.Session {
	t.Helper()
	session, err := f.sessions.Start(context.Background(), "T-1", "Algebra II")
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	return session
}

// enrollStudent seeds an enrolled student with one embedding.
func (f *fixture) enrollStudent(t *testing.T, studentNo, fullName string, embedding []float32) *database.Student {
	t.Helper()
	student, err := f.students.Enroll(context.Background(), studentNo, fullName, [][]float32{embedding})
	if err != nil {
		t.Fatalf("failed to enroll student: %v", err)
	}
	return student
}

// testFrameJPEG returns a small valid JPEG for ingest tests.
func testFrameJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 0x40, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// multipartBody builds a multipart form with string fields and files under a
// single file field name.
func multipartBody(t *testing.T, fields map[string]string, fileField string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field %s: %v", key, err)
		}
	}
	for name, data := range files {
		part, err := writer.CreateFormFile(fileField, name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

// parseJSONResponse parses a JSON response body into the target type.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message.
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
