// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// DefaultSessionListLimit bounds the session list endpoint when the
	// request carries no limit parameter
	DefaultSessionListLimit = 20

	// EventChannelBuffer is the per-subscriber channel capacity for live
	// session event feeds
	EventChannelBuffer = 16

	// MaxUploadSize is the maximum upload size in bytes for frames and
	// enrollment images (10MB)
	MaxUploadSize = 10 << 20
)
