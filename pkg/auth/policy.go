package auth

import (
	"fmt"
	"unicode"

	"github.com/quillhq/quill-auth/pkg/domain"
)

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
}

// DefaultPasswordPolicy returns the policy applied when none is configured.
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumber:    true,
	}
}

// ValidatePassword checks if a password meets the policy requirements.
func (p *PasswordPolicy) ValidatePassword(password string) error {
	if p.MinLength > 0 && len(password) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", domain.ErrWeakPassword, p.MinLength)
	}

	var hasUpper, hasLower, hasNumber bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasNumber = true
		}
	}

	if p.RequireUppercase && !hasUpper {
		return fmt.Errorf("%w: must contain an uppercase letter", domain.ErrWeakPassword)
	}
	if p.RequireLowercase && !hasLower {
		return fmt.Errorf("%w: must contain a lowercase letter", domain.ErrWeakPassword)
	}
	if p.RequireNumber && !hasNumber {
		return fmt.Errorf("%w: must contain a number", domain.ErrWeakPassword)
	}
	return nil
}
