// Package facematch is the HTTP client for the external face-match
// service. The service compares a captured frame against the user's stored
// reference and returns a match verdict with a confidence score.
package facematch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Confidence thresholds. Below the floor the capture is too unclear to
// judge either way; the service itself requires MatchThreshold to report
// verified.
const (
	ConfidenceFloor = 0.6
	MatchThreshold  = 0.7
)

// Result is the service's verdict for one frame.
type Result struct {
	Verified     bool    `json:"verified"`
	Confidence   float64 `json:"confidence"`
	FaceDetected bool    `json:"faceDetected"`
	Error        string  `json:"error,omitempty"`
}

// Unclear reports whether the capture was too low-confidence to judge.
// This is recapture guidance, not a rejection.
func (r *Result) Unclear() bool {
	return r.Confidence < ConfidenceFloor
}

// Config holds face-match service configuration.
type Config struct {
	BaseURL string
	Token   string // bearer token for the service
	Timeout time.Duration
}

// Client calls the face-match service.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a new face-match client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

type matchRequest struct {
	UserID    string `json:"user_id"`
	ImageData string `json:"image_data"` // base64 JPEG
}

// Match submits exactly one frame for verification.
func (c *Client) Match(ctx context.Context, userID uuid.UUID, imageJPEG []byte) (*Result, error) {
	body, err := json.Marshal(matchRequest{
		UserID:    userID.String(),
		ImageData: base64.StdEncoding.EncodeToString(imageJPEG),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/match", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face-match request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("face-match service returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode match response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("face-match service error: %s", result.Error)
	}
	return &result, nil
}
