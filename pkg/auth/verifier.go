package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// Evidence is what a user submits to answer a challenge. It is a closed
// set: one variant per factor kind.
type Evidence interface {
	isEvidence()
}

// CodeEvidence is a TOTP or recovery code.
type CodeEvidence struct {
	Code string
}

// ImageEvidence is one captured camera frame for face verification.
type ImageEvidence struct {
	ImageJPEG []byte
}

// TranscriptEvidence is the speech-to-text transcript of a spoken
// passphrase. Transcripts arrive upper-cased from the capture layer.
type TranscriptEvidence struct {
	Transcript string
}

func (CodeEvidence) isEvidence()       {}
func (ImageEvidence) isEvidence()      {}
func (TranscriptEvidence) isEvidence() {}

// FactorVerifier evaluates one round of challenge evidence. Verifiers are
// pure over (userID, evidence): they never navigate, never touch session
// state, and report wrong evidence through the result, reserving errors for
// store or transport failures. Finalizing the session on success is the
// orchestrator's job.
type FactorVerifier interface {
	Kind() domain.FactorKind
	Challenge(ctx context.Context, userID uuid.UUID, evidence Evidence) (*domain.VerificationResult, error)
}

func failure(reason domain.FailureReason) *domain.VerificationResult {
	return &domain.VerificationResult{Success: false, Reason: reason}
}
