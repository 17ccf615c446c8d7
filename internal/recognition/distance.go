// Package recognition implements face identification over enrolled
// embeddings: distance computation, the matcher interface with its
// brute-force, pgvector and HNSW implementations, and the liveness predicate
// applied to consistency windows.
package recognition

import "math"

// L2Distance computes the Euclidean distance between two vectors.
// Returns +Inf for mismatched or empty inputs so that invalid probes can
// never match anything.
func L2Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
