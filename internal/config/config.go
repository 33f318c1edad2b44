package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Face match service
	FaceMatchURL     string
	FaceMatchToken   string
	FaceMatchTimeout time.Duration

	// Face image storage
	FaceImageDir string

	// CORS
	AllowedOrigins []string

	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Validation      ValidationConfig
}

// RateLimitConfig holds per-endpoint rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool

	AuthRequestsPerMinute int
	AuthWindowMinutes     int

	ChallengeRequestsPerWindow int
	ChallengeWindowMinutes     int

	RefreshRequestsPerMinute int
	RefreshWindowMinutes     int

	ProfileRequestsPerMinute int
	ProfileWindowMinutes     int
}

// SecurityHeadersConfig holds security header configuration.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
}

// ValidationConfig holds request validation configuration.
type ValidationConfig struct {
	MaxRequestBodySize int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Database defaults (matches podman setup: make postgres-start)
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 25432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "quill_auth"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// JWT defaults
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTIssuer:       getEnv("JWT_ISSUER", "quill-auth"),
		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		// Face match service (optional, face factor disabled without it)
		FaceMatchURL:     getEnv("FACE_MATCH_URL", ""),
		FaceMatchToken:   getEnv("FACE_MATCH_TOKEN", ""),
		FaceMatchTimeout: getEnvDuration("FACE_MATCH_TIMEOUT", 10*time.Second),

		FaceImageDir: getEnv("FACE_IMAGE_DIR", "data/faces"),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),

		RateLimit: RateLimitConfig{
			Enabled:                    getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:      getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:          getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			ChallengeRequestsPerWindow: getEnvInt("RATE_LIMIT_CHALLENGE_REQUESTS", 15),
			ChallengeWindowMinutes:     getEnvInt("RATE_LIMIT_CHALLENGE_WINDOW_MINUTES", 1),
			RefreshRequestsPerMinute:   getEnvInt("RATE_LIMIT_REFRESH_REQUESTS", 30),
			RefreshWindowMinutes:       getEnvInt("RATE_LIMIT_REFRESH_WINDOW_MINUTES", 1),
			ProfileRequestsPerMinute:   getEnvInt("RATE_LIMIT_PROFILE_REQUESTS", 60),
			ProfileWindowMinutes:       getEnvInt("RATE_LIMIT_PROFILE_WINDOW_MINUTES", 1),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
		},

		Validation: ValidationConfig{
			// Face captures arrive base64-encoded in the challenge body
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 4<<20),
		},
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// HasFaceMatch returns true if the face match service is configured.
func (c *Config) HasFaceMatch() bool {
	return c.FaceMatchURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
