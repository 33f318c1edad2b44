package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// RecoveryCodesRepository handles recovery code persistence.
type RecoveryCodesRepository struct {
	db *sql.DB
}

// NewRecoveryCodesRepository creates a new recovery codes repository.
func NewRecoveryCodesRepository(db *sql.DB) *RecoveryCodesRepository {
	return &RecoveryCodesRepository{db: db}
}

// CreateBatch inserts a batch of recovery codes in a single transaction.
func (r *RecoveryCodesRepository) CreateBatch(ctx context.Context, codes []*domain.RecoveryCode) error {
	if len(codes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.createBatchTx(ctx, tx, codes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *RecoveryCodesRepository) createBatchTx(ctx context.Context, tx *sql.Tx, codes []*domain.RecoveryCode) error {
	query := `
		INSERT INTO recovery_codes (id, user_id, code_hash, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, code := range codes {
		_, err := stmt.ExecContext(ctx,
			code.ID, code.UserID, code.CodeHash, code.UsedAt, code.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert recovery code: %w", err)
		}
	}
	return nil
}

// ReplaceAll deletes every recovery code for the user and inserts the new
// batch in the same transaction, so a failed delete never leaves two sets.
func (r *RecoveryCodesRepository) ReplaceAll(ctx context.Context, userID uuid.UUID, codes []*domain.RecoveryCode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete existing recovery codes: %w", err)
	}

	if err := r.createBatchTx(ctx, tx, codes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListActive retrieves the user's unconsumed recovery codes.
func (r *RecoveryCodesRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]*domain.RecoveryCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM recovery_codes
		WHERE user_id = $1 AND used_at IS NULL
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active recovery codes: %w", err)
	}
	defer rows.Close()

	var codes []*domain.RecoveryCode
	for rows.Next() {
		code := &domain.RecoveryCode{}
		err := rows.Scan(&code.ID, &code.UserID, &code.CodeHash, &code.UsedAt, &code.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// ExistsAny reports whether the user has any recovery codes at all,
// consumed or not. Generation is only legal when this is false.
func (r *RecoveryCodesRepository) ExistsAny(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM recovery_codes WHERE user_id = $1)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recovery codes: %w", err)
	}
	return exists, nil
}

// ExistsActive reports whether the user has at least one unconsumed code.
func (r *RecoveryCodesRepository) ExistsActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM recovery_codes WHERE user_id = $1 AND used_at IS NULL)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active recovery codes: %w", err)
	}
	return exists, nil
}

// CountActive returns the number of unconsumed recovery codes.
func (r *RecoveryCodesRepository) CountActive(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM recovery_codes
		WHERE user_id = $1 AND used_at IS NULL
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active recovery codes: %w", err)
	}
	return count, nil
}

// MarkUsed consumes a recovery code. The update is conditioned on the code
// still being active so two concurrent consumers of the same code resolve
// to exactly one winner.
func (r *RecoveryCodesRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE recovery_codes
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark recovery code as used: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrInvalidRecoveryCode
	}
	return nil
}

// DeleteAllByUserID removes every recovery code for a user regardless of
// status.
func (r *RecoveryCodesRepository) DeleteAllByUserID(ctx context.Context, userID uuid.UUID) error {
	query := `
		DELETE FROM recovery_codes
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete all recovery codes: %w", err)
	}
	return nil
}
