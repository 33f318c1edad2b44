package mfa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/internal/http/middleware"
	"github.com/quillhq/quill-auth/internal/httputil"
	"github.com/quillhq/quill-auth/pkg/auth"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// EnrollmentRegistry is the slice of *auth.EnrollmentService this handler
// drives.
type EnrollmentRegistry interface {
	CheckStatus(ctx context.Context, userID uuid.UUID) (domain.EnrollmentStatus, error)
	SetupTOTP(ctx context.Context, userID uuid.UUID, accountName string) (*auth.TOTPSetup, error)
	EnableFace(ctx context.Context, userID uuid.UUID, imageJPEG []byte) ([]string, error)
	EnableVoice(ctx context.Context, userID uuid.UUID, passphrase string) ([]string, error)
	DisableFactor(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error
	DisableAll(ctx context.Context, userID uuid.UUID) error
}

// RecoveryCodes is the slice of *auth.RecoveryCodeManager this handler
// drives.
type RecoveryCodes interface {
	CountActive(ctx context.Context, userID uuid.UUID) (int, error)
	Regenerate(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Reauthenticator re-checks the caller's password before destructive
// operations. *auth.PasswordService satisfies it.
type Reauthenticator interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (uuid.UUID, error)
}

// Handler handles factor enrollment and recovery code management.
type Handler struct {
	logger          *slog.Logger
	enrollment      EnrollmentRegistry
	recovery        RecoveryCodes
	passwordService Reauthenticator
	totpVerifier    auth.FactorVerifier
}

// NewHandler creates a new MFA management handler.
func NewHandler(
	logger *slog.Logger,
	enrollment EnrollmentRegistry,
	recovery RecoveryCodes,
	passwordService Reauthenticator,
	totpVerifier auth.FactorVerifier,
) *Handler {
	return &Handler{
		logger:          logger,
		enrollment:      enrollment,
		recovery:        recovery,
		passwordService: passwordService,
		totpVerifier:    totpVerifier,
	}
}

// StatusResponse reports the enrollment state of each factor. MFAEnabled
// is derived from the factor rows on every call, never stored.
type StatusResponse struct {
	TOTP                   bool `json:"totp"`
	Face                   bool `json:"face"`
	Voice                  bool `json:"voice"`
	RecoveryActive         bool `json:"recovery_active"`
	MFAEnabled             bool `json:"mfa_enabled"`
	RecoveryCodesRemaining int  `json:"recovery_codes_remaining"`
}

// EnableRequest carries the kind-specific enrollment material.
type EnableRequest struct {
	ImageData  string `json:"image_data,omitempty"` // face: base64-encoded JPEG
	Passphrase string `json:"passphrase,omitempty"` // voice
}

// EnableResponse returns enrollment results. RecoveryCodes is only set
// when this enrollment generated the user's first batch.
type EnableResponse struct {
	Secret        string   `json:"secret,omitempty"`
	OTPAuthURL    string   `json:"otpauth_url,omitempty"`
	QRCode        string   `json:"qr_code,omitempty"`
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

// ConfirmRequest carries the first TOTP code after setup.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// PasswordRequest re-authenticates the user for destructive operations.
type PasswordRequest struct {
	Password string `json:"password"`
}

// RecoveryCodesResponse returns a freshly generated batch.
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Status handles GET /v1/me/mfa/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status, err := h.enrollment.CheckStatus(ctx, userID)
	if err != nil {
		h.logger.Error("failed to check enrollment status", "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "enrollment status temporarily unavailable")
		return
	}

	remaining, err := h.recovery.CountActive(ctx, userID)
	if err != nil {
		h.logger.Error("failed to count recovery codes", "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "enrollment status temporarily unavailable")
		return
	}

	httputil.JSON(w, http.StatusOK, StatusResponse{
		TOTP:                   status.TOTP,
		Face:                   status.Face,
		Voice:                  status.Voice,
		RecoveryActive:         status.RecoveryActive,
		MFAEnabled:             status.MFAEnabled(),
		RecoveryCodesRemaining: remaining,
	})
}

// Enable handles POST /v1/me/mfa/{kind}/enable
func (h *Handler) Enable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch domain.FactorKind(chi.URLParam(r, "kind")) {
	case domain.FactorTOTP:
		// No enrollment material needed; the secret is generated server side.
		h.enableTOTP(w, r, userID)
	case domain.FactorFace:
		h.enableFace(w, r, userID)
	case domain.FactorVoice:
		h.enableVoice(w, r, userID)
	default:
		httputil.Error(w, http.StatusNotFound, "unknown factor kind")
	}
}

func (h *Handler) enableTOTP(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	user, err := h.passwordService.GetUserByID(r.Context(), userID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	setup, err := h.enrollment.SetupTOTP(r.Context(), userID, user.Email)
	if err != nil {
		h.writeEnrollError(w, err, "failed to set up authenticator app")
		return
	}

	httputil.JSON(w, http.StatusOK, EnableResponse{
		Secret:        setup.Secret,
		OTPAuthURL:    setup.OTPAuthURL,
		QRCode:        setup.QRCodeDataURI,
		RecoveryCodes: setup.RecoveryCodes,
	})
}

func (h *Handler) enableFace(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var req EnableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	img, err := base64.StdEncoding.DecodeString(req.ImageData)
	if err != nil || len(img) == 0 {
		httputil.Error(w, http.StatusBadRequest, "image_data must be base64-encoded")
		return
	}

	codes, err := h.enrollment.EnableFace(r.Context(), userID, img)
	if err != nil {
		h.writeEnrollError(w, err, "failed to enable face verification")
		return
	}

	httputil.JSON(w, http.StatusOK, EnableResponse{RecoveryCodes: codes})
}

func (h *Handler) enableVoice(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var req EnableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	codes, err := h.enrollment.EnableVoice(r.Context(), userID, req.Passphrase)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidFormat) {
			httputil.Error(w, http.StatusBadRequest, "passphrase is required")
			return
		}
		h.writeEnrollError(w, err, "failed to enable voice verification")
		return
	}

	httputil.JSON(w, http.StatusOK, EnableResponse{RecoveryCodes: codes})
}

// ConfirmTOTP handles POST /v1/me/mfa/totp/confirm
//
// Completes TOTP enrollment by checking the first code from the
// authenticator app. The factor stays unverified until a code passes.
func (h *Handler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.totpVerifier.Challenge(ctx, userID, auth.CodeEvidence{Code: req.Code})
	if err != nil {
		if errors.Is(err, domain.ErrFactorNotEnrolled) {
			httputil.Error(w, http.StatusNotFound, "authenticator app is not set up")
			return
		}
		h.logger.Error("totp confirmation failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "confirmation failed")
		return
	}

	if !result.Success {
		httputil.Error(w, http.StatusUnauthorized, "incorrect code. check your authenticator app and try again")
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]bool{"confirmed": true})
}

// Disable handles POST /v1/me/mfa/{kind}/disable
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.reauthenticate(w, r, userID) {
		return
	}

	kind := domain.FactorKind(chi.URLParam(r, "kind"))
	switch kind {
	case domain.FactorTOTP, domain.FactorFace, domain.FactorVoice:
	default:
		httputil.Error(w, http.StatusNotFound, "unknown factor kind")
		return
	}

	if err := h.enrollment.DisableFactor(ctx, userID, kind); err != nil {
		if errors.Is(err, domain.ErrFactorNotEnrolled) {
			httputil.Error(w, http.StatusNotFound, "factor is not enabled")
			return
		}
		h.logger.Error("failed to disable factor", "kind", kind, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to disable factor")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DisableAll handles POST /v1/me/mfa/disable-all
func (h *Handler) DisableAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.reauthenticate(w, r, userID) {
		return
	}

	if err := h.enrollment.DisableAll(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrInconsistentState) {
			// Some factors are already gone. The caller must retry until
			// a clean pass, not treat MFA as still fully enabled.
			h.logger.Error("disable all left partial state", "error", err)
			httputil.Error(w, http.StatusConflict, "MFA is only partially disabled. retry to finish")
			return
		}
		h.logger.Error("failed to disable all factors", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to disable MFA")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegenerateRecoveryCodes handles POST /v1/me/mfa/recovery/regenerate
//
// Replaces all existing codes, used or not, with a fresh batch.
func (h *Handler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.reauthenticate(w, r, userID) {
		return
	}

	codes, err := h.recovery.Regenerate(ctx, userID)
	if err != nil {
		h.logger.Error("failed to regenerate recovery codes", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to regenerate recovery codes")
		return
	}

	httputil.JSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}

// reauthenticate verifies the user's password before a destructive
// operation. Writes the error response itself and reports success.
func (h *Handler) reauthenticate(w http.ResponseWriter, r *http.Request, userID uuid.UUID) bool {
	var req PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "password is required")
		return false
	}

	user, err := h.passwordService.GetUserByID(r.Context(), userID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "failed to get user")
		return false
	}

	authenticatedID, err := h.passwordService.Authenticate(r.Context(), user.Email, req.Password)
	if err != nil || authenticatedID != userID {
		httputil.Error(w, http.StatusUnauthorized, "invalid password")
		return false
	}
	return true
}

func (h *Handler) writeEnrollError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrFactorAlreadyEnrolled):
		httputil.Error(w, http.StatusConflict, "this factor is already enabled")
	case errors.Is(err, domain.ErrStoreUnavailable):
		httputil.Error(w, http.StatusServiceUnavailable, "enrollment temporarily unavailable")
	default:
		h.logger.Error(fallback, "error", err)
		httputil.Error(w, http.StatusInternalServerError, fallback)
	}
}
