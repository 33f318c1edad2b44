package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// StatusChecker reports factor enrollment. *EnrollmentService satisfies it.
type StatusChecker interface {
	CheckStatus(ctx context.Context, userID uuid.UUID) (domain.EnrollmentStatus, error)
}

// Negotiator computes the set of factors a user may switch to when asking
// to "try another way" during a challenge.
type Negotiator struct {
	status StatusChecker
}

// NewNegotiator creates a new alternative-method negotiator.
func NewNegotiator(status StatusChecker) *Negotiator {
	return &Negotiator{status: status}
}

// ComputeAlternatives returns the factors available to switch to. The kind
// currently being challenged is never offered, and recovery always is:
// code exhaustion is discovered at verification time, not here. When the
// enrollment lookup fails, every method is offered rather than stranding
// the user without a fallback path; precision loses to availability.
func (n *Negotiator) ComputeAlternatives(ctx context.Context, userID uuid.UUID, exclude domain.FactorKind) domain.AlternativeMethods {
	status, err := n.status.CheckStatus(ctx, userID)
	if err != nil {
		alternatives := domain.AlternativeMethods{TOTP: true, Face: true, Voice: true, Recovery: true}
		clearExcluded(&alternatives, exclude)
		return alternatives
	}

	alternatives := domain.AlternativeMethods{
		TOTP:     status.TOTP,
		Face:     status.Face,
		Voice:    status.Voice,
		Recovery: true,
	}
	clearExcluded(&alternatives, exclude)
	return alternatives
}

func clearExcluded(a *domain.AlternativeMethods, exclude domain.FactorKind) {
	switch exclude {
	case domain.FactorTOTP:
		a.TOTP = false
	case domain.FactorFace:
		a.Face = false
	case domain.FactorVoice:
		a.Voice = false
	case domain.FactorRecovery:
		a.Recovery = false
	}
}
