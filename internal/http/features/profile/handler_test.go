package profile

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/internal/http/middleware"
)

func newTestHandler() *Handler {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)
}

func authedRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, uuid.New())
	return req.WithContext(ctx)
}

func TestGetMe_Unauthorized(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	w := httptest.NewRecorder()
	newTestHandler().GetMe(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestUpdateMe_InvalidJSON(t *testing.T) {
	w := httptest.NewRecorder()
	newTestHandler().UpdateMe(w, authedRequest(http.MethodPatch, "/v1/me", "{bad"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpdateMe_MissingName(t *testing.T) {
	w := httptest.NewRecorder()
	newTestHandler().UpdateMe(w, authedRequest(http.MethodPatch, "/v1/me", "{}"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChangePassword_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", "{}"},
		{"missing new", `{"current_password":"old"}`},
		{"missing current", `{"new_password":"New1pass"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newTestHandler().ChangePassword(w, authedRequest(http.MethodPost, "/v1/me/password", tt.body))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}
