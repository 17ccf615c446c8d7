// Package attendance turns captured classroom frames into attendance records.
// Every matched face is raw evidence; a student becomes PRESENT only after
// the consistency rule sees enough matches inside one trailing time window.
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/detector"
	"github.com/kozaktomas/facetrack/internal/metrics"
	"github.com/kozaktomas/facetrack/internal/recognition"
)

// FaceDetector extracts face embeddings from one image.
type FaceDetector interface {
	Embed(ctx context.Context, frame []byte) (*detector.Result, error)
}

// Pipeline processes frames for running sessions.
type Pipeline struct {
	sessions   database.SessionStore
	students   database.StudentStore
	detections database.DetectionStore
	attendance database.AttendanceStore
	matcher    recognition.Matcher
	liveness   recognition.LivenessCheck
	detector   FaceDetector

	required int
	window   time.Duration
	now      func() time.Time
}

func NewPipeline(
	sessions database.SessionStore,
	students database.StudentStore,
	detections database.DetectionStore,
	attendance database.AttendanceStore,
	matcher recognition.Matcher,
	liveness recognition.LivenessCheck,
	det FaceDetector,
	cfg *config.RecognitionConfig,
) *Pipeline {
	return &Pipeline{
		sessions:   sessions,
		students:   students,
		detections: detections,
		attendance: attendance,
		matcher:    matcher,
		liveness:   liveness,
		detector:   det,
		required:   cfg.RequiredFrames,
		window:     time.Duration(cfg.WindowSeconds) * time.Second,
		now:        time.Now,
	}
}

// IngestFrame runs one captured frame through the pipeline: advance the
// session's frame counter, extract probe vectors, match each face and apply
// the consistency rule. Returns database.ErrSessionInactive without
// consuming a frame number when the session is missing or ended. A frame
// that cannot be decoded is consumed and reported inside the result, not as
// an error.
func (p *Pipeline) IngestFrame(ctx context.Context, publicID uuid.UUID, frame []byte) (*FrameResult, error) {
	start := time.Now()
	defer func() {
		metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	now := p.now()

	sessionID, frameNumber, err := p.sessions.NextFrame(ctx, publicID, now)
	if err != nil {
		return nil, fmt.Errorf("advance frame counter: %w", err)
	}
	metrics.FramesIngested.Inc()

	result := &FrameResult{FrameNumber: frameNumber, Recognized: []FaceResult{}}

	prepared, err := detector.PrepareFrame(frame)
	if err != nil {
		result.Error = DecodeFailed
		return result, nil
	}

	detected, err := p.detector.Embed(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}

	faces := detector.Dedupe(detected.Faces)
	result.FacesDetected = len(faces)
	metrics.FacesDetected.Add(float64(len(faces)))

	for _, face := range faces {
		outcome, err := p.recognizeFace(ctx, sessionID, frameNumber, face, now)
		if err != nil {
			return nil, err
		}
		result.Recognized = append(result.Recognized, *outcome)
	}

	return result, nil
}

// recognizeFace takes one probe vector through match, evidence append and the
// threshold decision.
func (p *Pipeline) recognizeFace(ctx context.Context, sessionID, frameNumber int64, face detector.Face, now time.Time) (*FaceResult, error) {
	match, err := p.matcher.Identify(ctx, face.Embedding)
	if err != nil {
		return nil, fmt.Errorf("match face %d: %w", face.FaceIndex, err)
	}

	outcome := &FaceResult{
		FaceIndex: face.FaceIndex,
		Status:    StatusUnknown,
		Distance:  match.Distance,
	}
	if !match.Matched {
		return outcome, nil
	}

	student, err := p.students.GetByID(ctx, match.StudentID)
	if err != nil {
		return nil, fmt.Errorf("load matched student: %w", err)
	}
	if student == nil {
		// The matched embedding's student was deleted mid-session.
		return outcome, nil
	}
	outcome.StudentNo = student.StudentNo
	outcome.FullName = student.FullName

	// The ledger is checked before anything is written. Once a student is
	// marked, frames stop producing raw detections for them.
	marked, err := p.attendance.Exists(ctx, sessionID, match.StudentID)
	if err != nil {
		return nil, fmt.Errorf("check attendance: %w", err)
	}
	if marked {
		outcome.Status = StatusAlreadyMarked
		return outcome, nil
	}

	err = p.detections.Append(ctx, &database.RawDetection{
		SessionID:   sessionID,
		StudentID:   match.StudentID,
		FrameNumber: frameNumber,
		Distance:    match.Distance,
		Embedding:   face.Embedding,
		DetectedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("append detection: %w", err)
	}

	since := now.Add(-p.window)
	stats, err := p.detections.WindowStats(ctx, sessionID, match.StudentID, since)
	if err != nil {
		return nil, fmt.Errorf("window stats: %w", err)
	}

	if stats.Count < p.required {
		outcome.Status = StatusPending
		outcome.Count = stats.Count
		outcome.Required = p.required
		return outcome, nil
	}

	embeddings, err := p.detections.WindowEmbeddings(ctx, sessionID, match.StudentID, since)
	if err != nil {
		return nil, fmt.Errorf("window embeddings: %w", err)
	}
	if !p.liveness.Live(embeddings) {
		// Not credible yet; keep collecting evidence.
		outcome.Status = StatusPending
		outcome.Count = stats.Count
		outcome.Required = p.required
		return outcome, nil
	}

	confidence := 1 - stats.MeanDistance
	created, err := p.attendance.MarkPresent(ctx, &database.AttendanceRecord{
		SessionID:  sessionID,
		StudentID:  match.StudentID,
		Status:     database.StatusPresent,
		Confidence: confidence,
		MarkedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("mark present: %w", err)
	}
	if !created {
		// A concurrent frame won the insert.
		outcome.Status = StatusAlreadyMarked
		return outcome, nil
	}

	metrics.StudentsMarked.Inc()
	outcome.Status = StatusMarked
	outcome.Confidence = confidence
	return outcome, nil
}

// EndSession transitions the session to ENDED and reports how many students
// made it into the ledger. Raw detections and attendance records stay
// untouched.
func (p *Pipeline) EndSession(ctx context.Context, publicID uuid.UUID) (*SessionSummary, error) {
	session, err := p.sessions.End(ctx, publicID, p.now())
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}

	total, err := p.attendance.CountPresent(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("count present: %w", err)
	}

	return &SessionSummary{Session: session, TotalPresent: total}, nil
}
