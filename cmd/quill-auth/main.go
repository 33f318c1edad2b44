package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/quillhq/quill-auth/internal/config"
	"github.com/quillhq/quill-auth/internal/facematch"
	httpserver "github.com/quillhq/quill-auth/internal/http"
	"github.com/quillhq/quill-auth/internal/metrics"
	"github.com/quillhq/quill-auth/internal/storage"
	"github.com/quillhq/quill-auth/pkg/auth"
	"github.com/quillhq/quill-auth/pkg/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.ValidateSchema(db); err != nil {
		logger.Error("schema validation failed", "error", err)
		os.Exit(1)
	}

	logger.Info("connected to database")

	// Initialize repositories
	usersRepo := repository.NewUsersRepository(db)
	credsRepo := repository.NewCredentialsRepository(db)
	sessionsRepo := repository.NewSessionsRepository(db)
	factorsRepo := repository.NewFactorsRepository(db)
	recoveryCodesRepo := repository.NewRecoveryCodesRepository(db)

	// Face reference image storage
	faceImages, err := storage.NewFaceImageStore(cfg.FaceImageDir)
	if err != nil {
		logger.Error("failed to initialize face image storage", "error", err)
		os.Exit(1)
	}

	// Initialize services
	passwordService := auth.NewPasswordService(db, usersRepo, credsRepo, auth.DefaultPasswordPolicy())
	sessionService := auth.NewSessionService(auth.SessionConfig{
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		JWTSecret:       []byte(cfg.JWTSecret),
		Issuer:          cfg.JWTIssuer,
	}, sessionsRepo, usersRepo)

	recoveryCodes := auth.NewRecoveryCodeManager(recoveryCodesRepo)
	enrollment := auth.NewEnrollmentService(logger, cfg.JWTIssuer, factorsRepo, recoveryCodes, faceImages)

	totpVerifier := auth.NewTOTPVerifier(factorsRepo)
	verifiers := []auth.FactorVerifier{
		totpVerifier,
		auth.NewVoiceVerifier(factorsRepo),
	}

	// The face factor only verifies when the match service is configured.
	// Enrollment still works without it; challenges fall back to the
	// other factors.
	if cfg.HasFaceMatch() {
		matcher := facematch.NewClient(facematch.Config{
			BaseURL: cfg.FaceMatchURL,
			Token:   cfg.FaceMatchToken,
			Timeout: cfg.FaceMatchTimeout,
		})
		verifiers = append(verifiers, auth.NewFaceVerifier(factorsRepo, matcher))
		logger.Info("face match service enabled")
	} else {
		logger.Warn("face match service not configured; face challenges disabled")
	}

	orchestrator := auth.NewOrchestrator(
		logger,
		passwordService,
		enrollment,
		verifiers,
		recoveryCodes,
		auth.NewNegotiator(enrollment),
		sessionService,
	)

	metrics.MustRegister()

	// Create router
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:            logger,
		PasswordService:   passwordService,
		SessionService:    sessionService,
		EnrollmentService: enrollment,
		RecoveryCodes:     recoveryCodes,
		Orchestrator:      orchestrator,
		TOTPVerifier:      totpVerifier,
		UsersRepo:         usersRepo,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitConfig:   cfg.RateLimit,
		SecurityHeaders:   cfg.SecurityHeaders,
		Validation:        cfg.Validation,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
