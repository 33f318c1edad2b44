package facematch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestMatch_RequestShape(t *testing.T) {
	userID := uuid.New()
	image := []byte("jpeg-frame-bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/match" {
			t.Errorf("path = %s, want /match", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}

		var req struct {
			UserID    string `json:"user_id"`
			ImageData string `json:"image_data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.UserID != userID.String() {
			t.Errorf("user_id = %q, want %q", req.UserID, userID)
		}
		if req.ImageData != base64.StdEncoding.EncodeToString(image) {
			t.Error("image_data is not the base64 frame")
		}

		json.NewEncoder(w).Encode(Result{Verified: true, Confidence: 0.92, FaceDetected: true})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Token: "test-token"})
	result, err := client.Match(context.Background(), userID, image)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !result.Verified || result.Confidence != 0.92 || !result.FaceDetected {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestMatch_ServiceErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	if _, err := client.Match(context.Background(), uuid.New(), []byte("frame")); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestMatch_ServiceReportedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{Error: "no reference enrolled"})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	if _, err := client.Match(context.Background(), uuid.New(), []byte("frame")); err == nil {
		t.Error("expected error when service reports an error field")
	}
}

func TestResult_Unclear(t *testing.T) {
	tests := []struct {
		confidence float64
		want       bool
	}{
		{0.0, true},
		{0.59, true},
		{0.6, false},
		{0.95, false},
	}
	for _, tt := range tests {
		r := &Result{Confidence: tt.confidence}
		if got := r.Unclear(); got != tt.want {
			t.Errorf("Unclear() with confidence %.2f = %v, want %v", tt.confidence, got, tt.want)
		}
	}
}
