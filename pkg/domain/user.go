package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents the account. Whether MFA is enabled is never stored on
// the user row; it is derived from factor enrollment (see EnrollmentStatus).
type User struct {
	ID                  uuid.UUID
	Email               string
	Name                *string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// IsLocked returns true if the account is currently locked.
func (u *User) IsLocked() bool {
	if u.LockedUntil == nil {
		return false
	}
	return time.Now().Before(*u.LockedUntil)
}

// UserPassword stores password credentials separately from user profile.
type UserPassword struct {
	UserID            uuid.UUID
	PasswordHash      string
	PasswordUpdatedAt time.Time
}
