package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/internal/facematch"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// FaceMatcher is the external face-match service surface.
// *facematch.Client satisfies it.
type FaceMatcher interface {
	Match(ctx context.Context, userID uuid.UUID, imageJPEG []byte) (*facematch.Result, error)
}

// FaceVerifier delegates the match decision to the external face-match
// service. One frame is submitted per explicit user action; any framing or
// recapture guidance happens in the capture UI, not here.
type FaceVerifier struct {
	factors FactorStore
	matcher FaceMatcher
}

// NewFaceVerifier creates a new face verifier.
func NewFaceVerifier(factors FactorStore, matcher FaceMatcher) *FaceVerifier {
	return &FaceVerifier{factors: factors, matcher: matcher}
}

// Kind returns the factor kind this verifier handles.
func (v *FaceVerifier) Kind() domain.FactorKind {
	return domain.FactorFace
}

// Challenge submits the frame to the face-match service. A capture below
// the confidence floor is reported as unclear, which is distinct from a
// confident non-match.
func (v *FaceVerifier) Challenge(ctx context.Context, userID uuid.UUID, evidence Evidence) (*domain.VerificationResult, error) {
	image, ok := evidence.(ImageEvidence)
	if !ok || len(image.ImageJPEG) == 0 {
		return failure(domain.ReasonInvalidFormat), nil
	}

	// The enrollment row must exist before we spend a round trip.
	if _, err := v.factors.Get(ctx, userID, domain.FactorFace); err != nil {
		return nil, err
	}

	result, err := v.matcher.Match(ctx, userID, image.ImageJPEG)
	if err != nil {
		return nil, err
	}

	if result.Unclear() {
		return failure(domain.ReasonUnclearCapture), nil
	}
	if !result.Verified {
		return failure(domain.ReasonVerificationFailed), nil
	}

	if err := v.factors.UpdateLastUsed(ctx, userID, domain.FactorFace); err != nil {
		return nil, err
	}
	return &domain.VerificationResult{Success: true}, nil
}
