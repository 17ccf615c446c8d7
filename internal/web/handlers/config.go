package handlers

import (
	"net/http"

	"github.com/kozaktomas/facetrack/internal/config"
)

// ConfigHandler handles configuration endpoints.
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse exposes the effective recognition settings so dashboards and
// capture clients can display them. Secrets never appear here.
type ConfigResponse struct {
	DistanceThreshold   float64 `json:"distance_threshold"`
	RequiredFrames      int     `json:"required_frames"`
	WindowSeconds       int     `json:"window_seconds"`
	EmbeddingDim        int     `json:"embedding_dim"`
	Matcher             string  `json:"matcher"`
	LivenessMinVariance float64 `json:"liveness_min_variance"`
	AuthRequired        bool    `json:"auth_required"`
	CaptureTokens       bool    `json:"capture_tokens"`
}

// Get returns the effective configuration.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec := h.config.Recognition
	respondJSON(w, http.StatusOK, ConfigResponse{
		DistanceThreshold:   rec.DistanceThreshold,
		RequiredFrames:      rec.RequiredFrames,
		WindowSeconds:       rec.WindowSeconds,
		EmbeddingDim:        rec.EmbeddingDim,
		Matcher:             rec.Matcher,
		LivenessMinVariance: rec.MinVariance,
		AuthRequired:        h.config.Web.APIToken != "",
		CaptureTokens:       h.config.Web.CaptureSecret != "",
	})
}
