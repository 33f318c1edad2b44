package profile

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quillhq/quill-auth/internal/http/middleware"
	"github.com/quillhq/quill-auth/internal/httputil"
	"github.com/quillhq/quill-auth/pkg/auth"
	"github.com/quillhq/quill-auth/pkg/domain"
	"github.com/quillhq/quill-auth/pkg/repository"
)

// Handler handles user profile endpoints.
type Handler struct {
	logger          *slog.Logger
	users           *repository.UsersRepository
	passwordService *auth.PasswordService
}

// NewHandler creates a new profile handler.
func NewHandler(logger *slog.Logger, users *repository.UsersRepository, passwordService *auth.PasswordService) *Handler {
	return &Handler{
		logger:          logger,
		users:           users,
		passwordService: passwordService,
	}
}

// UserResponse represents the user profile response.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UpdateRequest represents a profile update request.
type UpdateRequest struct {
	Name *string `json:"name"`
}

// ChangePasswordRequest carries a password change. The current password
// is always required, even for an already elevated session.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// GetMe returns the current user's profile.
// GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		httputil.Error(w, http.StatusNotFound, "user not found")
		return
	}

	httputil.JSON(w, http.StatusOK, UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
	})
}

// UpdateMe updates the current user's display name.
// PATCH /v1/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == nil {
		httputil.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.users.UpdateName(r.Context(), userID, req.Name); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			httputil.Error(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("failed to update profile", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		httputil.Error(w, http.StatusNotFound, "user not found")
		return
	}

	httputil.JSON(w, http.StatusOK, UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
	})
}

// ChangePassword changes the current user's password.
// POST /v1/me/password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httputil.Error(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		httputil.Error(w, http.StatusNotFound, "user not found")
		return
	}

	authenticatedID, err := h.passwordService.Authenticate(r.Context(), user.Email, req.CurrentPassword)
	if err != nil || authenticatedID != userID {
		httputil.Error(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	if err := h.passwordService.ChangePassword(r.Context(), userID, req.NewPassword); err != nil {
		if errors.Is(err, domain.ErrWeakPassword) {
			httputil.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to change password", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to change password")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
