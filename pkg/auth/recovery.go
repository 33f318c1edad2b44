package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/pkg/domain"
)

const (
	// RecoveryCodeCount is the fixed batch size.
	RecoveryCodeCount = 5
	// RecoveryCodeDigits is the length of each numeric code.
	RecoveryCodeDigits = 8
)

// RecoveryCodeStore is the persistence surface the manager needs.
// *repository.RecoveryCodesRepository satisfies it.
type RecoveryCodeStore interface {
	CreateBatch(ctx context.Context, codes []*domain.RecoveryCode) error
	ReplaceAll(ctx context.Context, userID uuid.UUID, codes []*domain.RecoveryCode) error
	ListActive(ctx context.Context, userID uuid.UUID) ([]*domain.RecoveryCode, error)
	ExistsAny(ctx context.Context, userID uuid.UUID) (bool, error)
	ExistsActive(ctx context.Context, userID uuid.UUID) (bool, error)
	CountActive(ctx context.Context, userID uuid.UUID) (int, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
	DeleteAllByUserID(ctx context.Context, userID uuid.UUID) error
}

// RecoveryCodeManager generates, validates, consumes and regenerates
// single-use recovery codes. Codes are stored as Argon2id hashes; the plain
// values exist only in the return value of Generate/Regenerate.
type RecoveryCodeManager struct {
	codes RecoveryCodeStore
}

// NewRecoveryCodeManager creates a new recovery code manager.
func NewRecoveryCodeManager(codes RecoveryCodeStore) *RecoveryCodeManager {
	return &RecoveryCodeManager{codes: codes}
}

// Generate produces a fresh batch of codes for a user and returns the plain
// values for one-time display. The caller must only invoke this when the
// user has no recovery codes at all; that precondition is not re-checked
// here.
func (m *RecoveryCodeManager) Generate(ctx context.Context, userID uuid.UUID) ([]string, error) {
	plain, hashed, err := newCodeBatch(userID)
	if err != nil {
		return nil, err
	}
	if err := m.codes.CreateBatch(ctx, hashed); err != nil {
		return nil, err
	}
	return plain, nil
}

// Regenerate discards every existing code for the user, consumed or not,
// and stores a fresh batch. Deletion and insertion happen in one store
// transaction so a failure never leaves two overlapping sets.
func (m *RecoveryCodeManager) Regenerate(ctx context.Context, userID uuid.UUID) ([]string, error) {
	plain, hashed, err := newCodeBatch(userID)
	if err != nil {
		return nil, err
	}
	if err := m.codes.ReplaceAll(ctx, userID, hashed); err != nil {
		return nil, err
	}
	return plain, nil
}

// Verify checks a submitted code against the user's active codes and, on a
// match, consumes it. Consumption is a compare-and-set on the stored row:
// of two concurrent submissions of the same code exactly one succeeds.
// A wrong, exhausted or already-used code returns false with no side effect.
func (m *RecoveryCodeManager) Verify(ctx context.Context, userID uuid.UUID, submitted string) (bool, error) {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return false, domain.ErrInvalidFormat
	}

	active, err := m.codes.ListActive(ctx, userID)
	if err != nil {
		return false, err
	}

	for _, code := range active {
		if !VerifyPassword(submitted, code.CodeHash) {
			continue
		}
		if err := m.codes.MarkUsed(ctx, code.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidRecoveryCode) {
				// Lost the race to a concurrent submission of this code.
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// DeleteAll removes every code for the user regardless of status. Used
// when all MFA is disabled.
func (m *RecoveryCodeManager) DeleteAll(ctx context.Context, userID uuid.UUID) error {
	return m.codes.DeleteAllByUserID(ctx, userID)
}

// HasAny reports whether the user has any codes at all, consumed or not.
func (m *RecoveryCodeManager) HasAny(ctx context.Context, userID uuid.UUID) (bool, error) {
	return m.codes.ExistsAny(ctx, userID)
}

// CountActive returns the number of unconsumed codes.
func (m *RecoveryCodeManager) CountActive(ctx context.Context, userID uuid.UUID) (int, error) {
	return m.codes.CountActive(ctx, userID)
}

func newCodeBatch(userID uuid.UUID) ([]string, []*domain.RecoveryCode, error) {
	now := time.Now()
	plain := make([]string, RecoveryCodeCount)
	hashed := make([]*domain.RecoveryCode, RecoveryCodeCount)
	for i := 0; i < RecoveryCodeCount; i++ {
		code, err := generateRecoveryCode()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		hash, err := HashPassword(code)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
		plain[i] = code
		hashed[i] = &domain.RecoveryCode{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		}
	}
	return plain, hashed, nil
}

var recoveryCodeMax = func() *big.Int {
	limit := big.NewInt(10)
	return limit.Exp(limit, big.NewInt(RecoveryCodeDigits), nil)
}()

// generateRecoveryCode draws a uniform 8-digit numeric code.
func generateRecoveryCode() (string, error) {
	n, err := rand.Int(rand.Reader, recoveryCodeMax)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", RecoveryCodeDigits, n), nil
}
