package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// Voice challenge limits. Reaching the attempt limit triggers a lockout
// whose countdown the orchestrator owns; the verifier only reports it.
const (
	voiceMaxAttempts     = 3
	voiceLockoutDuration = 30 * time.Second
)

// VoiceVerifier compares a spoken-passphrase transcript against the stored
// Argon2id hash and tracks consecutive failures in the factor row.
type VoiceVerifier struct {
	factors FactorStore
}

// NewVoiceVerifier creates a new voice verifier.
func NewVoiceVerifier(factors FactorStore) *VoiceVerifier {
	return &VoiceVerifier{factors: factors}
}

// Kind returns the factor kind this verifier handles.
func (v *VoiceVerifier) Kind() domain.FactorKind {
	return domain.FactorVoice
}

// Challenge compares the transcript with the enrolled passphrase. The
// comparison runs through the same slow hash as passwords, so a leaked
// factor row does not yield the passphrase. Failures increment a persisted
// counter; the third consecutive failure reports a lockout and any success
// resets the counter to zero.
func (v *VoiceVerifier) Challenge(ctx context.Context, userID uuid.UUID, evidence Evidence) (*domain.VerificationResult, error) {
	transcript, ok := evidence.(TranscriptEvidence)
	if !ok {
		return failure(domain.ReasonInvalidFormat), nil
	}
	phrase := strings.ToUpper(strings.TrimSpace(transcript.Transcript))
	if phrase == "" {
		return failure(domain.ReasonInvalidFormat), nil
	}

	factor, err := v.factors.Get(ctx, userID, domain.FactorVoice)
	if err != nil {
		return nil, err
	}

	if !VerifyPassword(phrase, factor.Secret) {
		attempts := factor.FailedAttempts + 1
		if err := v.factors.UpdateFailedAttempts(ctx, userID, domain.FactorVoice, attempts); err != nil {
			return nil, err
		}
		if attempts >= voiceMaxAttempts {
			return &domain.VerificationResult{
				Success:    false,
				Reason:     domain.ReasonLockedOut,
				RetryAfter: voiceLockoutDuration,
			}, nil
		}
		return &domain.VerificationResult{
			Success:           false,
			Reason:            domain.ReasonVerificationFailed,
			AttemptsRemaining: voiceMaxAttempts - attempts,
		}, nil
	}

	if factor.FailedAttempts != 0 {
		if err := v.factors.UpdateFailedAttempts(ctx, userID, domain.FactorVoice, 0); err != nil {
			return nil, err
		}
	}
	if err := v.factors.UpdateLastUsed(ctx, userID, domain.FactorVoice); err != nil {
		return nil, err
	}
	return &domain.VerificationResult{Success: true}, nil
}
