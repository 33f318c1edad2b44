package auth

import (
	"net/mail"
	"strings"

	"github.com/quillhq/quill-auth/pkg/domain"
)

const maxEmailLength = 254 // RFC 5321

// ValidateEmail validates an email address for format and length.
func ValidateEmail(email string) error {
	if email == "" || len(email) > maxEmailLength {
		return domain.ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(NormalizeEmail(email))
	if err != nil {
		return domain.ErrInvalidEmail
	}
	// Reject addresses with a display name ("Name <a@b>").
	if addr.Address != NormalizeEmail(email) {
		return domain.ErrInvalidEmail
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
