package domain

import (
	"time"

	"github.com/google/uuid"
)

// FactorKind identifies a second authentication factor.
type FactorKind string

const (
	// FactorTOTP is a time-based one-time password factor.
	FactorTOTP FactorKind = "totp"
	// FactorFace is a face-match factor backed by a stored reference image.
	FactorFace FactorKind = "face"
	// FactorVoice is a spoken-passphrase factor.
	FactorVoice FactorKind = "voice"
	// FactorRecovery is a single-use recovery code. It is never enrolled;
	// it is always available as a fallback during a challenge.
	FactorRecovery FactorKind = "recovery"
)

// ChallengeOrder is the fixed priority used to pick the factor challenged
// at login: the first enrolled kind in this order wins.
var ChallengeOrder = []FactorKind{FactorTOTP, FactorFace, FactorVoice}

// EnrolledFactor is one enrolled second factor for a user. At most one row
// exists per (user, kind). Disabling a factor deletes the row outright, so
// re-enabling always re-enrolls from scratch.
type EnrolledFactor struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Kind   FactorKind

	// Secret holds the kind-specific credential material: the base32 TOTP
	// secret, the blob-storage path of the face reference image, or the
	// Argon2id hash of the voice passphrase.
	Secret string

	// Verified is only meaningful for TOTP: the secret exists but has not
	// yet produced a successful code. Face and voice factors are created
	// verified.
	Verified bool

	// FailedAttempts counts consecutive failed voice challenges. Unused
	// for other kinds.
	FailedAttempts int

	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// EnrollmentStatus reports which factors a user has enrolled plus whether
// any active recovery codes remain.
type EnrollmentStatus struct {
	TOTP           bool
	Face           bool
	Voice          bool
	RecoveryActive bool
}

// MFAEnabled reports whether any second factor protects the account.
// This is always derived; there is no stored "mfa enabled" flag.
func (s EnrollmentStatus) MFAEnabled() bool {
	return s.TOTP || s.Face || s.Voice || s.RecoveryActive
}

// FirstEnrolled returns the highest-priority enrolled factor, or false when
// none is enrolled.
func (s EnrollmentStatus) FirstEnrolled() (FactorKind, bool) {
	for _, kind := range ChallengeOrder {
		if s.Has(kind) {
			return kind, true
		}
	}
	return "", false
}

// Has reports whether the given kind is enrolled.
func (s EnrollmentStatus) Has(kind FactorKind) bool {
	switch kind {
	case FactorTOTP:
		return s.TOTP
	case FactorFace:
		return s.Face
	case FactorVoice:
		return s.Voice
	default:
		return false
	}
}

// AlternativeMethods is the set of factors a user may switch to when the
// current challenge is not working out. Recovery is always offered.
type AlternativeMethods struct {
	TOTP     bool `json:"totp"`
	Face     bool `json:"face"`
	Voice    bool `json:"voice"`
	Recovery bool `json:"recovery"`
}

// FailureReason classifies why a challenge was not accepted.
type FailureReason string

const (
	// ReasonInvalidFormat means the evidence failed local validation and
	// was rejected without contacting any backend.
	ReasonInvalidFormat FailureReason = "invalid_format"
	// ReasonVerificationFailed means the evidence was well formed but wrong.
	ReasonVerificationFailed FailureReason = "verification_failed"
	// ReasonUnclearCapture means the face image was too low-confidence to
	// judge either way; the user should recapture.
	ReasonUnclearCapture FailureReason = "unclear_capture"
	// ReasonLockedOut means retries are temporarily suspended.
	ReasonLockedOut FailureReason = "locked_out"
)

// VerificationResult is the outcome of one factor challenge.
type VerificationResult struct {
	Success bool
	Reason  FailureReason

	// RetryAfter is set when Reason is ReasonLockedOut.
	RetryAfter time.Duration
	// AttemptsRemaining is set for factors that track a bounded attempt
	// counter (voice).
	AttemptsRemaining int
}
