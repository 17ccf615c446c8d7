package recognition

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facetrack/internal/database"
)

// UnknownDistance is reported when there is nothing to match against, the
// convention being that an empty store behaves like a maximally distant one.
const UnknownDistance = 1.0

// Match is the outcome of identifying one probe vector.
type Match struct {
	// Matched is true when the closest embedding is strictly under the
	// distance threshold. A probe at exactly the threshold does not match.
	Matched bool

	// StudentID is the owner of the winning embedding; zero when unmatched.
	StudentID int64

	// EmbeddingID is the winning embedding; zero when the store is empty.
	EmbeddingID int64

	// Distance is the minimum distance observed, reported even on rejection
	// for diagnostics. UnknownDistance when the store is empty.
	Distance float64
}

// Matcher identifies probe vectors against the enrolled embeddings.
// Implementations must apply the strict less-than threshold rule and resolve
// exact distance ties to the lowest embedding id, so results are
// deterministic. Implementations are safe for concurrent use.
type Matcher interface {
	Identify(ctx context.Context, probe []float32) (Match, error)
}

// BruteForce scans every stored embedding per probe. O(N*D), fine for
// classroom-scale enrollment; swap in the pgvector or HNSW matcher behind the
// same interface when N grows.
type BruteForce struct {
	store     database.EmbeddingStore
	threshold float64
	dim       int
}

// NewBruteForce creates a brute-force matcher.
func NewBruteForce(store database.EmbeddingStore, threshold float64, dim int) *BruteForce {
	return &BruteForce{store: store, threshold: threshold, dim: dim}
}

func (m *BruteForce) Identify(ctx context.Context, probe []float32) (Match, error) {
	if len(probe) != m.dim {
		return Match{}, fmt.Errorf("probe has %d dimensions, expected %d: %w",
			len(probe), m.dim, database.ErrDimensionMismatch)
	}

	embs, err := m.store.All(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("loading embeddings: %w", err)
	}
	if len(embs) == 0 {
		return Match{Distance: UnknownDistance}, nil
	}

	// All returns embeddings ordered by id, and the strict < below keeps the
	// first of any exact tie, so the lowest embedding id wins.
	best := 0
	bestDist := L2Distance(probe, embs[0].Embedding)
	for i := 1; i < len(embs); i++ {
		if d := L2Distance(probe, embs[i].Embedding); d < bestDist {
			best = i
			bestDist = d
		}
	}

	match := Match{
		Distance:    bestDist,
		EmbeddingID: embs[best].ID,
	}
	if bestDist < m.threshold {
		match.Matched = true
		match.StudentID = embs[best].StudentID
	}
	return match, nil
}

// PgVector delegates the nearest-neighbor scan to PostgreSQL's pgvector
// operator and applies the threshold rule on the result.
type PgVector struct {
	store     database.EmbeddingStore
	threshold float64
	dim       int
}

// NewPgVector creates a matcher backed by pgvector similarity queries.
func NewPgVector(store database.EmbeddingStore, threshold float64, dim int) *PgVector {
	return &PgVector{store: store, threshold: threshold, dim: dim}
}

func (m *PgVector) Identify(ctx context.Context, probe []float32) (Match, error) {
	if len(probe) != m.dim {
		return Match{}, fmt.Errorf("probe has %d dimensions, expected %d: %w",
			len(probe), m.dim, database.ErrDimensionMismatch)
	}

	emb, dist, err := m.store.NearestL2(ctx, probe)
	if err != nil {
		return Match{}, fmt.Errorf("nearest embedding query: %w", err)
	}
	if emb == nil {
		return Match{Distance: UnknownDistance}, nil
	}

	match := Match{
		Distance:    dist,
		EmbeddingID: emb.ID,
	}
	if dist < m.threshold {
		match.Matched = true
		match.StudentID = emb.StudentID
	}
	return match, nil
}

// Interface compliance checks.
var (
	_ Matcher = (*BruteForce)(nil)
	_ Matcher = (*PgVector)(nil)
	_ Matcher = (*Index)(nil)
)
