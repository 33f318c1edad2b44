package domain

import "errors"

// Authentication errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked due to too many failed login attempts")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrInvalidToken       = errors.New("invalid token")
)

// Validation errors
var (
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrWeakPassword  = errors.New("password does not meet requirements")
	ErrInvalidFormat = errors.New("evidence failed local validation")
)

// MFA errors
var (
	ErrFactorNotEnrolled     = errors.New("factor is not enrolled for this account")
	ErrFactorAlreadyEnrolled = errors.New("factor is already enrolled")
	ErrVerificationFailed    = errors.New("verification failed")
	ErrLockedOut             = errors.New("too many failed attempts, retry later")
	ErrInvalidRecoveryCode   = errors.New("invalid or already used recovery code")
	ErrUnclearCapture        = errors.New("face capture too unclear to verify")
	ErrAttemptNotFound       = errors.New("login attempt not found or expired")
	ErrNoActiveChallenge     = errors.New("no challenge is active for this attempt")
	ErrChallengeInFlight     = errors.New("a submission for this challenge is already in flight")
)

// Store and consistency errors
var (
	// ErrStoreUnavailable wraps a backend transport or permission failure,
	// as opposed to a row legitimately not existing.
	ErrStoreUnavailable = errors.New("backing store unavailable")
	// ErrInconsistentState means a multi-step teardown partially failed and
	// the account may be left with a subset of its MFA data. The settings
	// surface must prompt a retry rather than report success.
	ErrInconsistentState = errors.New("mfa state partially modified, retry required")
)
