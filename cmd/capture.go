package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/attendance"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a capture client against a facetrack server",
	Long: `Start an attendance session and post camera frames to the server.
Frames are read from a directory in name order, one per interval, the
way a classroom camera would deliver them. Ctrl+C ends the session
early; the session is always ended before the client exits.`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().String("server", "http://localhost:8080", "Facetrack server base URL")
	captureCmd.Flags().String("course", "", "Course name for the session (required)")
	captureCmd.Flags().String("teacher", "", "Teacher identifier")
	captureCmd.Flags().String("dir", "", "Directory with frame images (required)")
	captureCmd.Flags().Duration("interval", time.Second, "Delay between frames")
	_ = captureCmd.MarkFlagRequired("course")
	_ = captureCmd.MarkFlagRequired("dir")
}

// captureClient talks to the server's HTTP API. Session lifecycle calls use
// the teacher token; frame posts prefer the session-bound capture token the
// server hands out.
type captureClient struct {
	server       string
	apiToken     string
	captureToken string
	client       *http.Client
}

func newCaptureClient(server, apiToken string) *captureClient {
	return &captureClient{
		server:   strings.TrimRight(server, "/"),
		apiToken: apiToken,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *captureClient) authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *captureClient) startSession(ctx context.Context, teacherID, courseName string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"teacher_id":  teacherID,
		"course_name": courseName,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.server+"/api/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, c.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("starting session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("starting session: %s", readAPIError(resp))
	}

	var result struct {
		SessionID    string `json:"session_id"`
		CaptureToken string `json:"capture_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parsing session response: %w", err)
	}
	c.captureToken = result.CaptureToken
	return result.SessionID, nil
}

func (c *captureClient) postFrame(ctx context.Context, sessionID, name string, frame []byte) (*attendance.FrameResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("frame", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(frame); err != nil {
		return nil, err
	}
	writer.Close()

	url := fmt.Sprintf("%s/api/v1/sessions/%s/frames", c.server, sessionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	token := c.captureToken
	if token == "" {
		token = c.apiToken
	}
	c.authorize(req, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(readAPIError(resp))
	}

	var result attendance.FrameResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parsing frame response: %w", err)
	}
	return &result, nil
}

func (c *captureClient) endSession(ctx context.Context, sessionID string) (int, error) {
	url := fmt.Sprintf("%s/api/v1/sessions/%s/end", c.server, sessionID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, nil)
	if err != nil {
		return 0, err
	}
	c.authorize(req, c.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ending session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ending session: %s", readAPIError(resp))
	}

	var result struct {
		TotalPresent int `json:"total_present"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("parsing end response: %w", err)
	}
	return result.TotalPresent, nil
}

// readAPIError extracts the error message from a JSON error response.
func readAPIError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Sprintf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// listFrameFiles returns the frame images in a directory, sorted by name.
func listFrameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// describeFrame summarizes one frame result for the console.
func describeFrame(result *attendance.FrameResult) string {
	if result.Error != "" {
		return fmt.Sprintf("Frame %d: %s", result.FrameNumber, result.Error)
	}

	var marked []string
	for _, face := range result.Recognized {
		if face.Status == attendance.StatusMarked {
			marked = append(marked, fmt.Sprintf("%s %s", face.StudentNo, face.FullName))
		}
	}
	if len(marked) > 0 {
		return fmt.Sprintf("Frame %d: %d faces, marked %s",
			result.FrameNumber, result.FacesDetected, strings.Join(marked, ", "))
	}
	return fmt.Sprintf("Frame %d: %d faces", result.FrameNumber, result.FacesDetected)
}

func runCapture(cmd *cobra.Command, args []string) error {
	server := mustGetString(cmd, "server")
	course := mustGetString(cmd, "course")
	teacher := mustGetString(cmd, "teacher")
	dir := mustGetString(cmd, "dir")
	interval := mustGetDuration(cmd, "interval")

	frames, err := listFrameFiles(dir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frame images found in %s", dir)
	}

	client := newCaptureClient(server, os.Getenv("API_TOKEN"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID, err := client.startSession(ctx, teacher, course)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s started for %q\n", sessionID, course)
	fmt.Printf("Posting %d frames every %s. Press Ctrl+C to stop.\n\n", len(frames), interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for i, path := range frames {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("Skipping %s: %v\n", filepath.Base(path), err)
			continue
		}

		result, err := client.postFrame(ctx, sessionID, filepath.Base(path), data)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Printf("Frame %s failed: %v\n", filepath.Base(path), err)
		} else {
			fmt.Println(describeFrame(result))
		}

		if i == len(frames)-1 {
			break
		}
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping capture...")
			break loop
		case <-ticker.C:
		}
	}

	// End the session even after an interrupt; ctx may already be canceled.
	endCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	total, err := client.endSession(endCtx, sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("\nSession ended, %d students present\n", total)
	return nil
}
