package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/pkg/domain"
	"github.com/quillhq/quill-auth/pkg/repository"
)

const (
	refreshTokenLen = 32

	// Default token lifetimes
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	JWTSecret       []byte
	Issuer          string
}

// SessionService issues and validates sessions. A session is only ever
// issued once a login attempt is fully finalized; the MFA flow holds no
// session of its own.
type SessionService struct {
	config   SessionConfig
	sessions *repository.SessionsRepository
	users    *repository.UsersRepository
}

// NewSessionService creates a new session service.
func NewSessionService(config SessionConfig, sessions *repository.SessionsRepository, users *repository.UsersRepository) *SessionService {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	return &SessionService{
		config:   config,
		sessions: sessions,
		users:    users,
	}
}

// AccessTokenTTL returns the access token TTL.
func (s *SessionService) AccessTokenTTL() time.Duration {
	return s.config.AccessTokenTTL
}

// RefreshTokenTTL returns the configured refresh token lifetime.
func (s *SessionService) RefreshTokenTTL() time.Duration {
	return s.config.RefreshTokenTTL
}

// IssueSessionOpts holds options for session issuance.
type IssueSessionOpts struct {
	// IP address of the client
	IP string
	// User agent of the client
	UserAgent string
	// MFAVerified indicates whether a second factor was verified for this
	// session.
	MFAVerified bool
}

// AccessTokenClaims represents the claims in an access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	MFAVerified bool   `json:"mfa_verified,omitempty"`
}

// IssueSession creates a new session and returns access/refresh tokens.
// This is the single entry point for session creation.
func (s *SessionService) IssueSession(ctx context.Context, userID uuid.UUID, opts IssueSessionOpts) (*domain.TokenPair, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	// Refresh token is opaque and stored hashed.
	refreshToken, err := GenerateToken(refreshTokenLen)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New()
	session := &domain.Session{
		ID:        sessionID,
		UserID:    userID,
		TokenHash: HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.RefreshTokenTTL),
	}

	metadata, _ := json.Marshal(domain.SessionMetadata{
		IP:          opts.IP,
		UserAgent:   opts.UserAgent,
		MFAVerified: opts.MFAVerified,
	})
	session.Metadata = metadata

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.signAccessToken(user, sessionID, opts.MFAVerified, now)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.AccessTokenTTL.Seconds()),
		ExpiresAt:    expiresAt,
	}, nil
}

// RefreshSession exchanges a still-valid refresh token for a fresh access
// token. The MFAVerified claim carries over from session issuance: the
// session metadata records whether a second factor was verified, so a
// refreshed token keeps exactly the elevation the original login earned.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string, opts IssueSessionOpts) (*domain.TokenPair, error) {
	session, err := s.sessions.GetByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		return nil, err
	}

	if !session.IsValid() {
		if session.RevokedAt != nil {
			return nil, domain.ErrSessionRevoked
		}
		return nil, domain.ErrSessionExpired
	}

	_ = s.sessions.UpdateLastSeen(ctx, session.ID)

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	var meta domain.SessionMetadata
	if len(session.Metadata) > 0 {
		_ = json.Unmarshal(session.Metadata, &meta)
	}

	accessToken, expiresAt, err := s.signAccessToken(user, session.ID, meta.MFAVerified, time.Now())
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.config.AccessTokenTTL.Seconds()),
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *SessionService) signAccessToken(user *domain.User, sessionID uuid.UUID, mfaVerified bool, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.config.AccessTokenTTL)
	name := ""
	if user.Name != nil {
		name = *user.Name
	}
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    s.config.Issuer,
			ID:        sessionID.String(),
		},
		Email:       user.Email,
		Name:        name,
		MFAVerified: mfaVerified,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RevokeSession revokes a session by refresh token.
func (s *SessionService) RevokeSession(ctx context.Context, refreshToken string) error {
	return s.sessions.RevokeByTokenHash(ctx, HashToken(refreshToken))
}

// RevokeAllSessions revokes all sessions for a user.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeAllByUserID(ctx, userID)
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *SessionService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	})
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}
