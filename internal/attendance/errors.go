package attendance

import "errors"

var (
	// ErrDetectorUnavailable wraps detector transport failures so the HTTP
	// layer can answer 502 instead of 500. The frame counter has already
	// advanced when this is returned.
	ErrDetectorUnavailable = errors.New("detector unavailable")

	// ErrEnrollmentRejected means zero usable embeddings came out of all
	// submitted enrollment images. No student row persists.
	ErrEnrollmentRejected = errors.New("no usable face found in submitted images")
)
