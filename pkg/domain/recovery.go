package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecoveryCode is one single-use fallback credential. Codes are created in
// fixed-size batches when the first factor is enrolled and consumed
// individually; a code moves active -> used exactly once and never back.
type RecoveryCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CodeHash  string // Argon2id hash; the plain code is shown once at generation
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsUsed returns true if the recovery code has been consumed.
func (c *RecoveryCode) IsUsed() bool {
	return c.UsedAt != nil
}
