package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/pkg/domain"
	"github.com/quillhq/quill-auth/pkg/repository"
	"golang.org/x/crypto/argon2"
)

// Argon2 parameters (OWASP recommended)
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// PasswordService handles password authentication. It is the credential
// store adapter: the rest of the MFA flow only sees the user ID it returns.
type PasswordService struct {
	db     *sql.DB
	users  *repository.UsersRepository
	creds  *repository.CredentialsRepository
	policy *PasswordPolicy
}

// NewPasswordService creates a new password service.
func NewPasswordService(db *sql.DB, users *repository.UsersRepository, creds *repository.CredentialsRepository, policy *PasswordPolicy) *PasswordService {
	return &PasswordService{
		db:     db,
		users:  users,
		creds:  creds,
		policy: policy,
	}
}

// Register creates a new user with password credentials.
func (s *PasswordService) Register(ctx context.Context, email, password, name string) (*domain.User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)

	if s.policy != nil {
		if err := s.policy.ValidatePassword(password); err != nil {
			return nil, err
		}
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrUserAlreadyExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &domain.User{
		ID:        uuid.New(),
		Email:     email,
		Name:      &name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	cred := &domain.UserPassword{
		UserID:            user.ID,
		PasswordHash:      hash,
		PasswordUpdatedAt: now,
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.users.CreateTx(ctx, tx, user); err != nil {
			return err
		}
		return s.creds.CreateTx(ctx, tx, cred)
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// Authenticate verifies email and password, returning the user ID on
// success. Implements account lockout after 5 failed attempts with a
// 15-minute lockout duration. A wrong password here never counts against
// any MFA lockout.
func (s *PasswordService) Authenticate(ctx context.Context, email, password string) (uuid.UUID, error) {
	const (
		maxFailedAttempts = 5
		lockoutDuration   = 15 * time.Minute
	)

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return uuid.Nil, domain.ErrInvalidCredentials
		}
		return uuid.Nil, err
	}

	if user.IsLocked() {
		return uuid.Nil, domain.ErrAccountLocked
	}

	cred, err := s.creds.GetByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return uuid.Nil, domain.ErrInvalidCredentials
		}
		return uuid.Nil, err
	}

	if !VerifyPassword(password, cred.PasswordHash) {
		_ = s.users.IncrementFailedLoginAttempts(ctx, user.ID, lockoutDuration, maxFailedAttempts)
		return uuid.Nil, domain.ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		_ = s.users.ResetFailedLoginAttempts(ctx, user.ID)
	}

	return user.ID, nil
}

// GetUserByID retrieves a user by ID.
func (s *PasswordService) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// ChangePassword changes a user's password.
func (s *PasswordService) ChangePassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	if s.policy != nil {
		if err := s.policy.ValidatePassword(newPassword); err != nil {
			return err
		}
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	return s.creds.Update(ctx, &domain.UserPassword{
		UserID:       userID,
		PasswordHash: hash,
	})
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// Encoded as: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyPassword verifies a password against an Argon2id hash using a
// constant-time comparison.
func VerifyPassword(password, encodedHash string) bool {
	hash, salt, time, memory, threads, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computed) == 1
}

func decodeArgon2Hash(encoded string) (hash, salt []byte, time, memory uint32, threads uint8, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, fmt.Errorf("invalid argon2 hash format")
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("invalid argon2 version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, 0, 0, 0, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("invalid argon2 parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("invalid argon2 salt: %w", err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("invalid argon2 hash: %w", err)
	}

	return hash, salt, time, memory, threads, nil
}
