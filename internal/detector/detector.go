// Package detector is the client for the face embedding service. The service
// accepts one image and returns an embedding vector per detected face; the
// client never retries, callers decide what a failed frame means.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/kozaktomas/facetrack/internal/config"
)

// Face is one detected face in a frame.
type Face struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      BBox      `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

// Result is the detector's response for one frame.
type Result struct {
	FacesCount int    `json:"faces_count"`
	Faces      []Face `json:"faces"`
	Model      string `json:"model"`
}

// Client talks to a single detector instance.
type Client struct {
	url string
}

// NewClient creates a detector client for the configured base URL.
func NewClient(cfg *config.DetectorConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("detector URL is required")
	}
	return &Client{url: strings.TrimRight(cfg.URL, "/")}, nil
}

// Embed sends one image to the detector and returns the detected faces.
// The part content type is sniffed from the image bytes.
func (c *Client) Embed(ctx context.Context, frame []byte) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="frame"`)
	header.Set("Content-Type", http.DetectContentType(frame))

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return nil, fmt.Errorf("could not write frame data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/embed/face", &body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detector failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	return &result, nil
}
