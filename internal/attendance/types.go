package attendance

import "github.com/kozaktomas/facetrack/internal/database"

// FaceStatus is the per-face outcome vocabulary of frame ingestion.
type FaceStatus string

const (
	// StatusUnknown means no enrolled embedding matched under the threshold.
	StatusUnknown FaceStatus = "unknown"
	// StatusPending means the student matched but has not yet been seen in
	// enough frames inside the consistency window.
	StatusPending FaceStatus = "pending"
	// StatusMarked means this frame crossed the threshold and wrote the
	// attendance record.
	StatusMarked FaceStatus = "marked"
	// StatusAlreadyMarked means the attendance record existed before this
	// frame.
	StatusAlreadyMarked FaceStatus = "already-marked"
)

// DecodeFailed is the FrameResult error value for undecodable image bytes.
const DecodeFailed = "decode_failed"

// FaceResult is the outcome for one detected face.
type FaceResult struct {
	FaceIndex  int        `json:"face_index"`
	Status     FaceStatus `json:"status"`
	StudentNo  string     `json:"student_no,omitempty"`
	FullName   string     `json:"full_name,omitempty"`
	Distance   float64    `json:"distance"`
	Count      int        `json:"count,omitempty"`
	Required   int        `json:"required,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
}

// FrameResult is the response for one ingested frame. A frame that fails to
// decode still consumes its frame number; Error carries DecodeFailed and the
// face list stays empty.
type FrameResult struct {
	FrameNumber   int64        `json:"frame_number"`
	FacesDetected int          `json:"faces_detected"`
	Recognized    []FaceResult `json:"recognized"`
	Error         string       `json:"error,omitempty"`
}

// SessionSummary is the outcome of ending a session.
type SessionSummary struct {
	Session      *database.Session
	TotalPresent int
}

// SkippedImage names an enrollment image that produced no embedding.
type SkippedImage struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// NamedImage is one enrollment photo with its client-side name, used in skip
// reports.
type NamedImage struct {
	Name string
	Data []byte
}
