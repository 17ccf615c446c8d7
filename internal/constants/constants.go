// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Detection constants
const (
	// IoUThreshold is the overlap above which two detector boxes in the same
	// frame are treated as duplicate reports of one face
	IoUThreshold = 0.6

	// MaxFrameSize is the maximum dimension (width or height) for images sent
	// to the detector; larger ones are downscaled first
	MaxFrameSize = 1280
)

// Processing constants
const (
	// EnrollWorkerPoolSize is the default number of parallel workers for
	// bulk enrollment
	EnrollWorkerPoolSize = 4
)
