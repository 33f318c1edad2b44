package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/internal/facematch"
	"github.com/quillhq/quill-auth/pkg/domain"
)

func enrollFace(store *fakeFactorStore, userID uuid.UUID) {
	store.factors[domain.FactorFace] = &domain.EnrolledFactor{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      domain.FactorFace,
		Secret:    userID.String() + "/face-ref.jpg",
		Verified:  true,
		CreatedAt: time.Now(),
	}
}

func TestFaceChallenge_Verdicts(t *testing.T) {
	tests := []struct {
		name       string
		result     *facematch.Result
		wantOK     bool
		wantReason domain.FailureReason
	}{
		{
			name:   "confident match",
			result: &facematch.Result{Verified: true, Confidence: 0.93, FaceDetected: true},
			wantOK: true,
		},
		{
			name:       "confident non-match",
			result:     &facematch.Result{Verified: false, Confidence: 0.82, FaceDetected: true},
			wantOK:     false,
			wantReason: domain.ReasonVerificationFailed,
		},
		{
			name:       "below confidence floor is unclear, not rejected",
			result:     &facematch.Result{Verified: false, Confidence: 0.41, FaceDetected: true},
			wantOK:     false,
			wantReason: domain.ReasonUnclearCapture,
		},
		{
			name:       "no face detected",
			result:     &facematch.Result{Verified: false, Confidence: 0, FaceDetected: false},
			wantOK:     false,
			wantReason: domain.ReasonUnclearCapture,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeFactorStore()
			userID := uuid.New()
			enrollFace(store, userID)
			matcher := &fakeMatcher{result: tt.result}
			v := NewFaceVerifier(store, matcher)

			result, err := v.Challenge(context.Background(), userID, ImageEvidence{ImageJPEG: []byte("jpeg")})
			if err != nil {
				t.Fatalf("Challenge failed: %v", err)
			}
			if result.Success != tt.wantOK {
				t.Errorf("Success = %v, want %v", result.Success, tt.wantOK)
			}
			if !tt.wantOK && result.Reason != tt.wantReason {
				t.Errorf("Reason = %s, want %s", result.Reason, tt.wantReason)
			}
		})
	}
}

func TestFaceChallenge_NotEnrolledSkipsService(t *testing.T) {
	store := newFakeFactorStore()
	matcher := &fakeMatcher{result: &facematch.Result{Verified: true, Confidence: 0.99}}
	v := NewFaceVerifier(store, matcher)

	_, err := v.Challenge(context.Background(), uuid.New(), ImageEvidence{ImageJPEG: []byte("jpeg")})
	if err != domain.ErrFactorNotEnrolled {
		t.Fatalf("err = %v, want ErrFactorNotEnrolled", err)
	}
	if matcher.calls != 0 {
		t.Error("face-match service contacted for an unenrolled user")
	}
}

func TestFaceChallenge_EmptyImage(t *testing.T) {
	store := newFakeFactorStore()
	userID := uuid.New()
	enrollFace(store, userID)
	matcher := &fakeMatcher{result: &facematch.Result{Verified: true, Confidence: 0.99}}
	v := NewFaceVerifier(store, matcher)

	result, err := v.Challenge(context.Background(), userID, ImageEvidence{})
	if err != nil {
		t.Fatalf("Challenge failed: %v", err)
	}
	if result.Reason != domain.ReasonInvalidFormat {
		t.Errorf("Reason = %s, want %s", result.Reason, domain.ReasonInvalidFormat)
	}
	if matcher.calls != 0 {
		t.Error("face-match service contacted for an empty capture")
	}
}
