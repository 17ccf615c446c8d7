package recognition

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/facetrack/internal/database"
)

// HNSW graph parameters for 128-dim face embeddings.
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	hnswMaxNeighbors = 16

	// hnswSearchK is the number of candidates requested per lookup. More
	// than one so that entries tombstoned after a student deletion can be
	// skipped.
	hnswSearchK = 8
)

// Index is an in-memory HNSW index over the enrolled embeddings,
// implementing Matcher for deployments where a full scan per probe is too
// slow. The graph is built from the store at startup and updated as
// enrollments happen; candidates are re-checked with the exact distance
// before the threshold rule is applied.
type Index struct {
	mu        sync.RWMutex
	graph     *hnsw.Graph[int64]
	owners    map[int64]int64 // embedding id -> student id
	threshold float64
	dim       int
}

// NewIndex creates an empty HNSW index.
func NewIndex(threshold float64, dim int) *Index {
	return &Index{
		owners:    make(map[int64]int64),
		threshold: threshold,
		dim:       dim,
	}
}

// Build replaces the index contents with every embedding in the store.
func (ix *Index) Build(ctx context.Context, store database.EmbeddingStore) error {
	embs, err := store.All(ctx)
	if err != nil {
		return fmt.Errorf("loading embeddings: %w", err)
	}

	g := newGraph()
	owners := make(map[int64]int64, len(embs))
	for i := range embs {
		if len(embs[i].Embedding) != ix.dim {
			continue
		}
		g.Add(hnsw.MakeNode(embs[i].ID, embs[i].Embedding))
		owners[embs[i].ID] = embs[i].StudentID
	}

	ix.mu.Lock()
	ix.graph = g
	ix.owners = owners
	ix.mu.Unlock()
	return nil
}

// Add inserts a single embedding, typically right after enrollment stored it.
func (ix *Index) Add(emb *database.StoredEmbedding) {
	if len(emb.Embedding) != ix.dim {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.graph == nil {
		ix.graph = newGraph()
	}
	ix.graph.Add(hnsw.MakeNode(emb.ID, emb.Embedding))
	ix.owners[emb.ID] = emb.StudentID
}

// RemoveStudent drops a student's embeddings from lookup results. The graph
// nodes remain (HNSW has no true deletion) but are filtered out of every
// search.
func (ix *Index) RemoveStudent(studentID int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for id, owner := range ix.owners {
		if owner == studentID {
			delete(ix.owners, id)
		}
	}
}

// Count returns the number of live entries in the index.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.owners)
}

func (ix *Index) Identify(ctx context.Context, probe []float32) (Match, error) {
	if len(probe) != ix.dim {
		return Match{}, fmt.Errorf("probe has %d dimensions, expected %d: %w",
			len(probe), ix.dim, database.ErrDimensionMismatch)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.graph == nil || len(ix.owners) == 0 {
		return Match{Distance: UnknownDistance}, nil
	}

	neighbors := ix.graph.Search(probe, hnswSearchK)

	// Re-rank the approximate candidates by exact distance, skipping
	// tombstoned entries, with the lowest embedding id winning ties.
	match := Match{Distance: UnknownDistance}
	found := false
	for _, n := range neighbors {
		owner, ok := ix.owners[n.Key]
		if !ok {
			continue
		}
		d := L2Distance(probe, n.Value)
		if !found || d < match.Distance || (d == match.Distance && n.Key < match.EmbeddingID) {
			match.Distance = d
			match.EmbeddingID = n.Key
			match.StudentID = owner
			found = true
		}
	}
	if !found {
		return Match{Distance: UnknownDistance}, nil
	}

	if match.Distance < ix.threshold {
		match.Matched = true
	} else {
		match.StudentID = 0
	}
	return match, nil
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	return g
}
