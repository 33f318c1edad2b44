package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/internal/metrics"
	"github.com/quillhq/quill-auth/pkg/domain"
)

const (
	attemptIDLen = 32
	// attemptTTL bounds how long an unfinished login attempt survives.
	attemptTTL = 5 * time.Minute
	// faceRecaptureBudget is how many unclear face captures are answered
	// with recapture guidance before a further unclear frame becomes a
	// hard failure.
	faceRecaptureBudget = 2
)

// CredentialAuthenticator verifies the primary password.
// *PasswordService satisfies it.
type CredentialAuthenticator interface {
	Authenticate(ctx context.Context, email, password string) (uuid.UUID, error)
}

// SessionIssuer finalizes a login attempt into a session.
// *SessionService satisfies it.
type SessionIssuer interface {
	IssueSession(ctx context.Context, userID uuid.UUID, opts IssueSessionOpts) (*domain.TokenPair, error)
}

// RecoveryVerifier consumes recovery codes during a challenge.
// *RecoveryCodeManager satisfies it.
type RecoveryVerifier interface {
	Verify(ctx context.Context, userID uuid.UUID, code string) (bool, error)
}

// AlternativesProvider computes switchable factors.
// *Negotiator satisfies it.
type AlternativesProvider interface {
	ComputeAlternatives(ctx context.Context, userID uuid.UUID, exclude domain.FactorKind) domain.AlternativeMethods
}

// attemptPhase is where one login attempt sits in the challenge flow.
// The password-pending phase has no attempt object: an attempt only exists
// once the password has been verified, and the finalized phase deletes it.
type attemptPhase int

const (
	phaseChallenging attemptPhase = iota
	phaseAlternativeSelect
)

// loginAttempt is the transient per-login MFA state. It is owned
// exclusively by the orchestrator and discarded on success, cancellation
// or expiry; it never outlives one login attempt and is never persisted.
type loginAttempt struct {
	id     string
	userID uuid.UUID
	phase  attemptPhase

	// challenge is the factor currently being challenged.
	challenge domain.FactorKind

	// epoch increments every time the attempt leaves a challenging state,
	// so a verifier result that arrives late is recognized and discarded.
	epoch int

	// inFlight blocks duplicate submissions of the same challenge while
	// one is outstanding.
	inFlight bool

	// voiceLockedUntil gates voice retries after repeated failures. It
	// survives switching to another method and back.
	voiceLockedUntil time.Time

	// faceUnclear counts consecutive unclear face captures against
	// faceRecaptureBudget. It resets when the attempt switches factors.
	faceUnclear int

	createdAt time.Time
	ip        string
	userAgent string
}

func (a *loginAttempt) expired(now time.Time) bool {
	return now.Sub(a.createdAt) > attemptTTL
}

// LoginOutcome is the result of StartLogin or SubmitChallenge.
type LoginOutcome struct {
	// Finalized means the session below is issued and the attempt is over.
	Finalized bool
	Tokens    *domain.TokenPair

	// When not finalized: the attempt to continue and the active challenge.
	AttemptID string
	Challenge domain.FactorKind

	// Result carries the failure detail of a rejected submission.
	Result *domain.VerificationResult
}

// Orchestrator drives the login-time MFA flow: factor selection by fixed
// priority, challenge delegation, fallback negotiation, lockout and final
// session issuance. It is the only component that mutates login-attempt
// state; verifiers and the negotiator are pure over their inputs.
type Orchestrator struct {
	logger       *slog.Logger
	passwords    CredentialAuthenticator
	enrollment   StatusChecker
	verifiers    map[domain.FactorKind]FactorVerifier
	recovery     RecoveryVerifier
	alternatives AlternativesProvider
	sessions     SessionIssuer

	mu       sync.Mutex
	attempts map[string]*loginAttempt

	now func() time.Time
}

// NewOrchestrator creates a new MFA challenge orchestrator.
func NewOrchestrator(
	logger *slog.Logger,
	passwords CredentialAuthenticator,
	enrollment StatusChecker,
	verifiers []FactorVerifier,
	recovery RecoveryVerifier,
	alternatives AlternativesProvider,
	sessions SessionIssuer,
) *Orchestrator {
	byKind := make(map[domain.FactorKind]FactorVerifier, len(verifiers))
	for _, v := range verifiers {
		byKind[v.Kind()] = v
	}
	return &Orchestrator{
		logger:       logger,
		passwords:    passwords,
		enrollment:   enrollment,
		verifiers:    byKind,
		recovery:     recovery,
		alternatives: alternatives,
		sessions:     sessions,
		attempts:     make(map[string]*loginAttempt),
		now:          time.Now,
	}
}

// StartLogin verifies the primary password and either finalizes the
// session immediately (no factor enrolled) or opens a challenge against
// the highest-priority enrolled factor: TOTP before face before voice.
// The caller holds no session until the outcome says Finalized.
func (o *Orchestrator) StartLogin(ctx context.Context, email, password string, opts IssueSessionOpts) (*LoginOutcome, error) {
	userID, err := o.passwords.Authenticate(ctx, email, password)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	status, err := o.enrollment.CheckStatus(ctx, userID)
	if err != nil {
		return nil, err
	}

	kind, enrolled := status.FirstEnrolled()
	if !enrolled {
		// No factor to challenge, so the session is issued without the
		// elevated claim. If a factor is enrolled later, operations gated
		// on elevation require a fresh login through a challenge.
		opts.MFAVerified = false
		tokens, err := o.sessions.IssueSession(ctx, userID, opts)
		if err != nil {
			return nil, err
		}
		metrics.LoginsTotal.WithLabelValues("success").Inc()
		metrics.SessionsIssuedTotal.Inc()
		return &LoginOutcome{Finalized: true, Tokens: tokens}, nil
	}

	id, err := GenerateToken(attemptIDLen)
	if err != nil {
		return nil, err
	}

	attempt := &loginAttempt{
		id:        id,
		userID:    userID,
		phase:     phaseChallenging,
		challenge: kind,
		createdAt: o.now(),
		ip:        opts.IP,
		userAgent: opts.UserAgent,
	}

	o.mu.Lock()
	o.pruneLocked()
	o.attempts[id] = attempt
	o.mu.Unlock()

	metrics.LoginsTotal.WithLabelValues("mfa_required").Inc()
	return &LoginOutcome{AttemptID: id, Challenge: kind}, nil
}

// SubmitChallenge evaluates evidence for the active challenge. On success
// the session is issued and the attempt discarded. On failure the caller
// may retry (within the factor's own lockout rules) or request
// alternatives. While one submission is outstanding a second one for the
// same attempt is rejected.
func (o *Orchestrator) SubmitChallenge(ctx context.Context, attemptID string, kind domain.FactorKind, evidence Evidence) (*LoginOutcome, error) {
	o.mu.Lock()
	attempt, err := o.attemptLocked(attemptID)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if attempt.phase != phaseChallenging || attempt.challenge != kind {
		o.mu.Unlock()
		return nil, domain.ErrNoActiveChallenge
	}
	if kind == domain.FactorVoice {
		if remaining := attempt.voiceLockedUntil.Sub(o.now()); remaining > 0 {
			// Rejected locally; the store is not contacted while locked.
			o.mu.Unlock()
			return &LoginOutcome{
				AttemptID: attemptID,
				Challenge: kind,
				Result: &domain.VerificationResult{
					Success:    false,
					Reason:     domain.ReasonLockedOut,
					RetryAfter: remaining,
				},
			}, nil
		}
	}
	if attempt.inFlight {
		o.mu.Unlock()
		return nil, domain.ErrChallengeInFlight
	}
	attempt.inFlight = true
	epoch := attempt.epoch
	userID := attempt.userID
	o.mu.Unlock()

	result, verr := o.verify(ctx, userID, kind, evidence)

	o.mu.Lock()
	attempt.inFlight = false
	current, ok := o.attempts[attemptID]
	if !ok || current != attempt || attempt.epoch != epoch || attempt.phase != phaseChallenging {
		// The challenge was cancelled or switched while this submission
		// was in flight; its result must not resurrect it.
		o.mu.Unlock()
		return nil, domain.ErrNoActiveChallenge
	}
	if verr != nil {
		o.mu.Unlock()
		metrics.ChallengesTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, verr
	}

	if !result.Success {
		if result.Reason == domain.ReasonLockedOut && kind == domain.FactorVoice {
			attempt.voiceLockedUntil = o.now().Add(result.RetryAfter)
		}
		if result.Reason == domain.ReasonUnclearCapture && kind == domain.FactorFace {
			attempt.faceUnclear++
			if attempt.faceUnclear > faceRecaptureBudget {
				// Recapture budget spent: stop asking for another frame
				// and steer the user toward an alternative method.
				result.Reason = domain.ReasonVerificationFailed
			} else {
				result.AttemptsRemaining = faceRecaptureBudget - attempt.faceUnclear
			}
		}
		o.mu.Unlock()
		metrics.ChallengesTotal.WithLabelValues(string(kind), "failure").Inc()
		return &LoginOutcome{AttemptID: attemptID, Challenge: kind, Result: result}, nil
	}

	delete(o.attempts, attemptID)
	ip, userAgent := attempt.ip, attempt.userAgent
	o.mu.Unlock()

	tokens, err := o.sessions.IssueSession(ctx, userID, IssueSessionOpts{
		IP:          ip,
		UserAgent:   userAgent,
		MFAVerified: true,
	})
	if err != nil {
		return nil, err
	}

	metrics.ChallengesTotal.WithLabelValues(string(kind), "success").Inc()
	metrics.SessionsIssuedTotal.Inc()
	o.logger.Info("mfa challenge passed", "kind", kind, "user_id", userID)
	return &LoginOutcome{Finalized: true, Tokens: tokens}, nil
}

// RequestAlternatives computes the factors the user may switch to,
// excluding the active challenge. Available even during a voice lockout.
func (o *Orchestrator) RequestAlternatives(ctx context.Context, attemptID string) (domain.AlternativeMethods, error) {
	o.mu.Lock()
	attempt, err := o.attemptLocked(attemptID)
	if err != nil {
		o.mu.Unlock()
		return domain.AlternativeMethods{}, err
	}
	exclude := attempt.challenge
	userID := attempt.userID
	attempt.phase = phaseAlternativeSelect
	attempt.epoch++
	o.mu.Unlock()

	return o.alternatives.ComputeAlternatives(ctx, userID, exclude), nil
}

// SelectAlternative switches the attempt to challenging the picked kind.
func (o *Orchestrator) SelectAlternative(ctx context.Context, attemptID string, kind domain.FactorKind) (*LoginOutcome, error) {
	switch kind {
	case domain.FactorTOTP, domain.FactorFace, domain.FactorVoice, domain.FactorRecovery:
	default:
		return nil, domain.ErrInvalidFormat
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	attempt, err := o.attemptLocked(attemptID)
	if err != nil {
		return nil, err
	}
	attempt.challenge = kind
	attempt.phase = phaseChallenging
	attempt.epoch++
	attempt.faceUnclear = 0
	return &LoginOutcome{AttemptID: attemptID, Challenge: kind}, nil
}

// CancelChallenge discards the attempt. The password verification that
// opened it grants nothing: the next login starts from scratch.
// Cancelling an unknown or already-finished attempt is not an error.
func (o *Orchestrator) CancelChallenge(ctx context.Context, attemptID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if attempt, ok := o.attempts[attemptID]; ok {
		attempt.epoch++
		delete(o.attempts, attemptID)
	}
}

func (o *Orchestrator) verify(ctx context.Context, userID uuid.UUID, kind domain.FactorKind, evidence Evidence) (*domain.VerificationResult, error) {
	if kind == domain.FactorRecovery {
		code, ok := evidence.(CodeEvidence)
		if !ok {
			return failure(domain.ReasonInvalidFormat), nil
		}
		valid, err := o.recovery.Verify(ctx, userID, code.Code)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidFormat) {
				return failure(domain.ReasonInvalidFormat), nil
			}
			return nil, err
		}
		if !valid {
			return failure(domain.ReasonVerificationFailed), nil
		}
		return &domain.VerificationResult{Success: true}, nil
	}

	verifier, ok := o.verifiers[kind]
	if !ok {
		return nil, domain.ErrNoActiveChallenge
	}
	return verifier.Challenge(ctx, userID, evidence)
}

// attemptLocked resolves an attempt; the caller holds o.mu.
func (o *Orchestrator) attemptLocked(attemptID string) (*loginAttempt, error) {
	attempt, ok := o.attempts[attemptID]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	if attempt.expired(o.now()) {
		delete(o.attempts, attemptID)
		return nil, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

// pruneLocked drops expired attempts; the caller holds o.mu.
func (o *Orchestrator) pruneLocked() {
	now := o.now()
	for id, attempt := range o.attempts {
		if attempt.expired(now) {
			delete(o.attempts, id)
		}
	}
}
