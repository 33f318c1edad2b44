package login

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quillhq/quill-auth/internal/httputil"
	"github.com/quillhq/quill-auth/pkg/auth"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// Handler handles registration and the challenge-based login flow.
type Handler struct {
	logger          *slog.Logger
	passwordService *auth.PasswordService
	sessionService  *auth.SessionService
	orchestrator    *auth.Orchestrator
	cookieConfig    httputil.CookieConfig
}

// NewHandler creates a new login handler.
func NewHandler(
	logger *slog.Logger,
	passwordService *auth.PasswordService,
	sessionService *auth.SessionService,
	orchestrator *auth.Orchestrator,
) *Handler {
	return &Handler{
		logger:          logger,
		passwordService: passwordService,
		sessionService:  sessionService,
		orchestrator:    orchestrator,
		cookieConfig:    httputil.DefaultCookieConfig(),
	}
}

// RegisterRequest represents a registration request.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChallengeRequest represents one round of challenge evidence.
// Exactly one of Code, ImageData or Transcript should be set,
// matching Kind.
type ChallengeRequest struct {
	AttemptID  string `json:"attempt_id"`
	Kind       string `json:"kind"`
	Code       string `json:"code,omitempty"`
	ImageData  string `json:"image_data,omitempty"` // base64-encoded JPEG
	Transcript string `json:"transcript,omitempty"`
}

// AttemptRequest names an open login attempt.
type AttemptRequest struct {
	AttemptID string `json:"attempt_id"`
}

// SelectRequest picks an alternative factor for an open attempt.
type SelectRequest struct {
	AttemptID string `json:"attempt_id"`
	Kind      string `json:"kind"`
}

// TokenResponse represents a token response (for mobile clients).
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// ChallengeResponse tells the client which factor to answer next.
type ChallengeResponse struct {
	AttemptID string `json:"attempt_id"`
	Challenge string `json:"challenge"`
}

// ChallengeFailureResponse reports a rejected submission. The attempt
// stays open; the client may retry or request alternatives.
type ChallengeFailureResponse struct {
	AttemptID         string `json:"attempt_id"`
	Challenge         string `json:"challenge"`
	Reason            string `json:"reason"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	AttemptsRemaining int    `json:"attempts_remaining,omitempty"`
}

// Register handles user registration.
// POST /v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.passwordService.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserAlreadyExists):
			httputil.Error(w, http.StatusConflict, "an account with this email already exists")
		case errors.Is(err, domain.ErrInvalidEmail):
			httputil.Error(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, domain.ErrWeakPassword):
			httputil.Error(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("registration failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	httputil.JSON(w, http.StatusCreated, map[string]string{
		"id":    user.ID.String(),
		"email": user.Email,
	})
}

// Login verifies the password and either issues a session directly or
// opens an MFA challenge.
// POST /v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.orchestrator.StartLogin(r.Context(), req.Email, req.Password, auth.IssueSessionOpts{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrUserNotFound):
			httputil.Error(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, domain.ErrAccountLocked):
			httputil.Error(w, http.StatusForbidden, "account temporarily locked. please try again later")
		default:
			h.logger.Error("login failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	if outcome.Finalized {
		h.writeTokenResponse(w, r, outcome.Tokens)
		return
	}

	httputil.JSON(w, http.StatusOK, ChallengeResponse{
		AttemptID: outcome.AttemptID,
		Challenge: string(outcome.Challenge),
	})
}

// SubmitChallenge evaluates evidence for the active challenge.
// POST /v1/auth/login/challenge
func (h *Handler) SubmitChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := domain.FactorKind(req.Kind)
	evidence, err := evidenceFromRequest(kind, &req)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.orchestrator.SubmitChallenge(r.Context(), req.AttemptID, kind, evidence)
	if err != nil {
		h.writeChallengeError(w, err)
		return
	}

	if outcome.Finalized {
		h.writeTokenResponse(w, r, outcome.Tokens)
		return
	}

	resp := ChallengeFailureResponse{
		AttemptID: outcome.AttemptID,
		Challenge: string(outcome.Challenge),
		Reason:    string(outcome.Result.Reason),
	}
	if outcome.Result.RetryAfter > 0 {
		resp.RetryAfterSeconds = int(outcome.Result.RetryAfter.Seconds())
	}
	if outcome.Result.AttemptsRemaining > 0 {
		resp.AttemptsRemaining = outcome.Result.AttemptsRemaining
	}
	httputil.JSON(w, http.StatusUnauthorized, resp)
}

// Alternatives lists the factors the user may switch to.
// POST /v1/auth/login/alternatives
func (h *Handler) Alternatives(w http.ResponseWriter, r *http.Request) {
	var req AttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	methods, err := h.orchestrator.RequestAlternatives(r.Context(), req.AttemptID)
	if err != nil {
		h.writeChallengeError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, methods)
}

// SelectAlternative switches the attempt to a different factor.
// POST /v1/auth/login/select
func (h *Handler) SelectAlternative(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.orchestrator.SelectAlternative(r.Context(), req.AttemptID, domain.FactorKind(req.Kind))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidFormat) {
			httputil.Error(w, http.StatusBadRequest, "unknown factor kind")
			return
		}
		h.writeChallengeError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ChallengeResponse{
		AttemptID: outcome.AttemptID,
		Challenge: string(outcome.Challenge),
	})
}

// Cancel abandons an open login attempt.
// POST /v1/auth/login/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req AttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.orchestrator.CancelChallenge(r.Context(), req.AttemptID)
	w.WriteHeader(http.StatusNoContent)
}

func evidenceFromRequest(kind domain.FactorKind, req *ChallengeRequest) (auth.Evidence, error) {
	switch kind {
	case domain.FactorTOTP, domain.FactorRecovery:
		return auth.CodeEvidence{Code: req.Code}, nil
	case domain.FactorFace:
		img, err := base64.StdEncoding.DecodeString(req.ImageData)
		if err != nil {
			return nil, errors.New("image_data must be base64-encoded")
		}
		return auth.ImageEvidence{ImageJPEG: img}, nil
	case domain.FactorVoice:
		return auth.TranscriptEvidence{Transcript: req.Transcript}, nil
	default:
		return nil, errors.New("unknown factor kind")
	}
}

func (h *Handler) writeChallengeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAttemptNotFound):
		httputil.Error(w, http.StatusNotFound, "login attempt not found or expired")
	case errors.Is(err, domain.ErrNoActiveChallenge):
		httputil.Error(w, http.StatusConflict, "no active challenge for this attempt")
	case errors.Is(err, domain.ErrChallengeInFlight):
		httputil.Error(w, http.StatusConflict, "a submission for this challenge is already being verified")
	case errors.Is(err, domain.ErrStoreUnavailable):
		httputil.Error(w, http.StatusServiceUnavailable, "verification temporarily unavailable")
	default:
		h.logger.Error("challenge handling failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "challenge handling failed")
	}
}

// writeTokenResponse writes tokens appropriately for the client type.
// Web clients get HttpOnly cookies; mobile clients get tokens in the body.
func (h *Handler) writeTokenResponse(w http.ResponseWriter, r *http.Request, tokens *domain.TokenPair) {
	if httputil.IsMobileClient(r) {
		httputil.JSON(w, http.StatusOK, TokenResponse{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			TokenType:    tokens.TokenType,
			ExpiresIn:    tokens.ExpiresIn,
		})
		return
	}

	httputil.SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken,
		h.sessionService.AccessTokenTTL(), h.sessionService.RefreshTokenTTL(), h.cookieConfig)
	httputil.JSON(w, http.StatusOK, TokenResponse{
		TokenType: tokens.TokenType,
		ExpiresIn: tokens.ExpiresIn,
	})
}
