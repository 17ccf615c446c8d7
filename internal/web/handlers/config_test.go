package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/facetrack/internal/config"
)

func TestConfigHandler_Get(t *testing.T) {
	cfg := &config.Config{
		Web: config.WebConfig{
			APIToken:      "secret-token",
			CaptureSecret: "capture-secret",
		},
		Recognition: config.RecognitionConfig{
			DistanceThreshold: 0.6,
			RequiredFrames:    3,
			WindowSeconds:     10,
			EmbeddingDim:      512,
			Matcher:           "brute",
			MinVariance:       0.0001,
		},
	}
	handler := NewConfigHandler(cfg)

	req := httptest.NewRequest("GET", "/api/v1/config", nil)
	recorder := httptest.NewRecorder()

	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp ConfigResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.DistanceThreshold != 0.6 {
		t.Errorf("distance_threshold = %v, want 0.6", resp.DistanceThreshold)
	}
	if resp.RequiredFrames != 3 {
		t.Errorf("required_frames = %d, want 3", resp.RequiredFrames)
	}
	if resp.WindowSeconds != 10 {
		t.Errorf("window_seconds = %d, want 10", resp.WindowSeconds)
	}
	if resp.EmbeddingDim != 512 {
		t.Errorf("embedding_dim = %d, want 512", resp.EmbeddingDim)
	}
	if resp.Matcher != "brute" {
		t.Errorf("matcher = %q, want brute", resp.Matcher)
	}
	if resp.LivenessMinVariance != 0.0001 {
		t.Errorf("liveness_min_variance = %v, want 0.0001", resp.LivenessMinVariance)
	}
	if !resp.AuthRequired {
		t.Error("auth_required should be true when an API token is set")
	}
	if !resp.CaptureTokens {
		t.Error("capture_tokens should be true when a capture secret is set")
	}
}

func TestConfigHandler_Get_AuthDisabled(t *testing.T) {
	handler := NewConfigHandler(&config.Config{})

	req := httptest.NewRequest("GET", "/api/v1/config", nil)
	recorder := httptest.NewRecorder()

	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp ConfigResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.AuthRequired {
		t.Error("auth_required should be false without an API token")
	}
	if resp.CaptureTokens {
		t.Error("capture_tokens should be false without a capture secret")
	}
}
