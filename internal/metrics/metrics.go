// Package metrics holds the Prometheus instruments for the ingest pipeline,
// exposed through the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesIngested counts frames accepted by an active session, including
	// frames that later fail to decode.
	FramesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facetrack_frames_ingested_total",
		Help: "Frames accepted by an active session.",
	})

	// FacesDetected counts faces reported by the detector after overlap
	// deduplication.
	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facetrack_faces_detected_total",
		Help: "Deduplicated faces reported by the detector.",
	})

	// StudentsMarked counts PRESENT rows written by the consistency rule.
	StudentsMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facetrack_students_marked_total",
		Help: "Attendance records created.",
	})

	// IngestDuration tracks the wall time of one frame's full pipeline pass.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facetrack_ingest_duration_seconds",
		Help:    "Duration of one frame ingest.",
		Buckets: prometheus.DefBuckets,
	})
)
