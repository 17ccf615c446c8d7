package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/facetrack/internal/database"
)

const statsCacheTTL = time.Minute

// statsCache holds cached stats with expiry.
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles the statistics endpoint.
type StatsHandler struct {
	students   database.StudentStore
	embeddings database.EmbeddingStore
	sessions   database.SessionStore
	detections database.DetectionStore
	ledger     database.AttendanceStore
	cache      statsCache
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(students database.StudentStore, embeddings database.EmbeddingStore, sessions database.SessionStore, detections database.DetectionStore, ledger database.AttendanceStore) *StatsHandler {
	return &StatsHandler{
		students:   students,
		embeddings: embeddings,
		sessions:   sessions,
		detections: detections,
		ledger:     ledger,
	}
}

// InvalidateCache clears the cached stats so the next request fetches fresh
// counts.
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response.
type StatsResponse struct {
	Students          int `json:"students"`
	Embeddings        int `json:"embeddings"`
	Sessions          int `json:"sessions"`
	RawDetections     int `json:"raw_detections"`
	AttendanceRecords int `json:"attendance_records"`
}

// Get returns entity counts across the whole store.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	ctx := r.Context()
	stats := &StatsResponse{}
	var err error
	if stats.Students, err = h.students.Count(ctx); err != nil {
		respondDomainError(w, err)
		return
	}
	if stats.Embeddings, err = h.embeddings.Count(ctx); err != nil {
		respondDomainError(w, err)
		return
	}
	if stats.Sessions, err = h.sessions.Count(ctx); err != nil {
		respondDomainError(w, err)
		return
	}
	if stats.RawDetections, err = h.detections.Count(ctx); err != nil {
		respondDomainError(w, err)
		return
	}
	if stats.AttendanceRecords, err = h.ledger.Count(ctx); err != nil {
		respondDomainError(w, err)
		return
	}

	h.cache.set(stats)
	respondJSON(w, http.StatusOK, stats)
}
