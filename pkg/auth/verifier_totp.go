package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// TOTP parameters
const (
	totpDigits = 6
	totpPeriod = 30
	totpWindow = 1 // Allow ±30 seconds clock drift
)

// TOTPVerifier validates time-based one-time codes against the enrolled
// shared secret.
type TOTPVerifier struct {
	factors FactorStore
}

// NewTOTPVerifier creates a new TOTP verifier.
func NewTOTPVerifier(factors FactorStore) *TOTPVerifier {
	return &TOTPVerifier{factors: factors}
}

// Kind returns the factor kind this verifier handles.
func (v *TOTPVerifier) Kind() domain.FactorKind {
	return domain.FactorTOTP
}

// Challenge validates a submitted 6-digit code. Malformed codes are
// rejected locally before any store access. A valid code within ±1 time
// step is accepted; the first success ever flips the factor to verified.
func (v *TOTPVerifier) Challenge(ctx context.Context, userID uuid.UUID, evidence Evidence) (*domain.VerificationResult, error) {
	code, ok := evidence.(CodeEvidence)
	if !ok || !isDigits(code.Code, totpDigits) {
		return failure(domain.ReasonInvalidFormat), nil
	}

	factor, err := v.factors.Get(ctx, userID, domain.FactorTOTP)
	if err != nil {
		return nil, err
	}

	valid, err := totp.ValidateCustom(code.Code, factor.Secret, time.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpWindow,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	if !valid {
		return failure(domain.ReasonVerificationFailed), nil
	}

	if !factor.Verified {
		if err := v.factors.MarkVerified(ctx, userID, domain.FactorTOTP); err != nil {
			return nil, err
		}
	}
	if err := v.factors.UpdateLastUsed(ctx, userID, domain.FactorTOTP); err != nil {
		return nil, err
	}

	return &domain.VerificationResult{Success: true}, nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
