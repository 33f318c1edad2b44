package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// factorTables maps each enrollable factor kind to its table. One table per
// kind; all three share the same column shape.
var factorTables = map[domain.FactorKind]string{
	domain.FactorTOTP:  "enrolled_totp",
	domain.FactorFace:  "enrolled_face",
	domain.FactorVoice: "enrolled_voice",
}

// FactorsRepository handles enrolled factor persistence across the
// per-kind factor tables.
type FactorsRepository struct {
	db *sql.DB
}

// NewFactorsRepository creates a new factors repository.
func NewFactorsRepository(db *sql.DB) *FactorsRepository {
	return &FactorsRepository{db: db}
}

func factorTable(kind domain.FactorKind) (string, error) {
	table, ok := factorTables[kind]
	if !ok {
		return "", fmt.Errorf("no factor table for kind %q", kind)
	}
	return table, nil
}

// Create inserts an enrolled factor row. At most one row may exist per
// (user, kind); the unique index on user_id enforces it.
func (r *FactorsRepository) Create(ctx context.Context, factor *domain.EnrolledFactor) error {
	table, err := factorTable(factor.Kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, secret, verified, failed_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, table)
	_, err = r.db.ExecContext(ctx, query,
		factor.ID, factor.UserID, factor.Secret, factor.Verified,
		factor.FailedAttempts, factor.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create %s factor: %w", factor.Kind, err)
	}
	return nil
}

// Get retrieves the enrolled factor of the given kind for a user.
func (r *FactorsRepository) Get(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) (*domain.EnrolledFactor, error) {
	table, err := factorTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, user_id, secret, verified, failed_attempts, created_at, last_used_at
		FROM %s
		WHERE user_id = $1
	`, table)

	factor := &domain.EnrolledFactor{Kind: kind}
	err = r.db.QueryRowContext(ctx, query, userID).Scan(
		&factor.ID, &factor.UserID, &factor.Secret, &factor.Verified,
		&factor.FailedAttempts, &factor.CreatedAt, &factor.LastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrFactorNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s factor: %w", kind, err)
	}
	return factor, nil
}

// Exists reports whether a factor of the given kind is enrolled. A missing
// row is a valid false, not an error.
func (r *FactorsRepository) Exists(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) (bool, error) {
	table, err := factorTable(kind)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
		SELECT EXISTS (SELECT 1 FROM %s WHERE user_id = $1)
	`, table)

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s enrollment: %w", kind, err)
	}
	return exists, nil
}

// MarkVerified flips the verified flag. Idempotent if already verified.
func (r *FactorsRepository) MarkVerified(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error {
	table, err := factorTable(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET verified = TRUE
		WHERE user_id = $1
	`, table)
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to mark %s factor verified: %w", kind, err)
	}
	return nil
}

// UpdateFailedAttempts stores the consecutive failed attempt count.
func (r *FactorsRepository) UpdateFailedAttempts(ctx context.Context, userID uuid.UUID, kind domain.FactorKind, attempts int) error {
	table, err := factorTable(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET failed_attempts = $2
		WHERE user_id = $1
	`, table)
	if _, err := r.db.ExecContext(ctx, query, userID, attempts); err != nil {
		return fmt.Errorf("failed to update %s failed attempts: %w", kind, err)
	}
	return nil
}

// UpdateLastUsed updates the last used timestamp.
func (r *FactorsRepository) UpdateLastUsed(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error {
	table, err := factorTable(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET last_used_at = NOW()
		WHERE user_id = $1
	`, table)
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to update %s last used: %w", kind, err)
	}
	return nil
}

// Delete removes the enrolled factor row for a user. Deleting an absent row
// is not an error.
func (r *FactorsRepository) Delete(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error {
	table, err := factorTable(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE user_id = $1
	`, table)
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete %s factor: %w", kind, err)
	}
	return nil
}
