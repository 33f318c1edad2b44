package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quillhq/quill-auth/internal/config"
	"github.com/quillhq/quill-auth/internal/http/features/login"
	"github.com/quillhq/quill-auth/internal/http/features/mfa"
	"github.com/quillhq/quill-auth/internal/http/features/profile"
	"github.com/quillhq/quill-auth/internal/http/features/session"
	"github.com/quillhq/quill-auth/internal/http/middleware"
	"github.com/quillhq/quill-auth/internal/httputil"
	"github.com/quillhq/quill-auth/pkg/auth"
	"github.com/quillhq/quill-auth/pkg/repository"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger            *slog.Logger
	PasswordService   *auth.PasswordService
	SessionService    *auth.SessionService
	EnrollmentService *auth.EnrollmentService
	RecoveryCodes     *auth.RecoveryCodeManager
	Orchestrator      *auth.Orchestrator
	TOTPVerifier      auth.FactorVerifier
	UsersRepo         *repository.UsersRepository
	AllowedOrigins    []string
	RateLimitConfig   config.RateLimitConfig
	SecurityHeaders   config.SecurityHeadersConfig
	Validation        config.ValidationConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheus metrics
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Create rate limiters for different endpoint types
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	// Registration and the challenge-based login flow
	loginHandler := login.NewHandler(
		cfg.Logger,
		cfg.PasswordService,
		cfg.SessionService,
		cfg.Orchestrator,
	)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["auth"])
		r.Post("/v1/auth/register", loginHandler.Register)
		r.Post("/v1/auth/login", loginHandler.Login)
	})
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["challenge"])
		r.Post("/v1/auth/login/challenge", loginHandler.SubmitChallenge)
		r.Post("/v1/auth/login/alternatives", loginHandler.Alternatives)
		r.Post("/v1/auth/login/select", loginHandler.SelectAlternative)
		r.Post("/v1/auth/login/cancel", loginHandler.Cancel)
	})

	// Session routes
	sessionHandler := session.NewHandler(cfg.SessionService)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["refresh"])
		r.Post("/v1/auth/refresh", sessionHandler.Refresh)
	})
	r.Post("/v1/auth/logout", sessionHandler.Logout)
	r.With(middleware.Auth(cfg.SessionService)).Post("/v1/auth/logout/all", sessionHandler.LogoutAll)

	// Factor enrollment and recovery code management
	mfaHandler := mfa.NewHandler(
		cfg.Logger,
		cfg.EnrollmentService,
		cfg.RecoveryCodes,
		cfg.PasswordService,
		cfg.TOTPVerifier,
	)
	profileHandler := profile.NewHandler(cfg.Logger, cfg.UsersRepo, cfg.PasswordService)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.SessionService))
		r.Use(rateLimiters["profile"])
		r.Get("/v1/me", profileHandler.GetMe)
		r.Patch("/v1/me", profileHandler.UpdateMe)
		r.Post("/v1/me/password", profileHandler.ChangePassword)

		r.Get("/v1/me/mfa/status", mfaHandler.Status)
		r.Post("/v1/me/mfa/{kind}/enable", mfaHandler.Enable)
		r.Post("/v1/me/mfa/totp/confirm", mfaHandler.ConfirmTOTP)

		// Disabling factors requires a fully elevated session on top of
		// the password re-check in the handler.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireMFA())
			r.Post("/v1/me/mfa/{kind}/disable", mfaHandler.Disable)
			r.Post("/v1/me/mfa/disable-all", mfaHandler.DisableAll)
			r.Post("/v1/me/mfa/recovery/regenerate", mfaHandler.RegenerateRecoveryCodes)
		})
	})

	return r
}
