package detector

import (
	"math"
	"sort"

	"github.com/kozaktomas/facetrack/internal/constants"
)

// BBox is a face bounding box as [x1, y1, x2, y2] in pixel coordinates.
type BBox [4]float64

// Area returns the box area, zero for degenerate boxes.
func (b BBox) Area() float64 {
	w := b[2] - b[0]
	h := b[3] - b[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection-over-union overlap of two boxes.
func IoU(a, b BBox) float64 {
	iw := math.Min(a[2], b[2]) - math.Max(a[0], b[0])
	ih := math.Min(a[3], b[3]) - math.Max(a[1], b[1])
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Dedupe drops detections that overlap an already kept detection above the
// IoU threshold, keeping the higher-scored one. Detectors occasionally report
// the same face twice with slightly shifted boxes. The result is ordered by
// score, best first.
func Dedupe(faces []Face) []Face {
	if len(faces) < 2 {
		return faces
	}

	sorted := make([]Face, len(faces))
	copy(sorted, faces)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DetScore > sorted[j].DetScore
	})

	kept := make([]Face, 0, len(sorted))
	for _, candidate := range sorted {
		duplicate := false
		for _, winner := range kept {
			if IoU(candidate.BBox, winner.BBox) > constants.IoUThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}
