package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/pkg/domain"
)

func enrollVoice(t *testing.T, store *fakeFactorStore, userID uuid.UUID, passphrase string) {
	t.Helper()
	hash, err := HashPassword(passphrase)
	if err != nil {
		t.Fatalf("failed to hash passphrase: %v", err)
	}
	store.factors[domain.FactorVoice] = &domain.EnrolledFactor{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      domain.FactorVoice,
		Secret:    hash,
		Verified:  true,
		CreatedAt: time.Now(),
	}
}

func TestVoiceChallenge_CorrectPassphrase(t *testing.T) {
	store := newFakeFactorStore()
	userID := uuid.New()
	enrollVoice(t, store, userID, "MY VOICE IS MY PASSWORD")
	v := NewVoiceVerifier(store)

	// Transcripts compare case-insensitively
	result, err := v.Challenge(context.Background(), userID, TranscriptEvidence{Transcript: "my voice is my password"})
	if err != nil {
		t.Fatalf("Challenge failed: %v", err)
	}
	if !result.Success {
		t.Errorf("correct passphrase rejected: %s", result.Reason)
	}
}

func TestVoiceChallenge_FailuresCountToLockout(t *testing.T) {
	store := newFakeFactorStore()
	userID := uuid.New()
	enrollVoice(t, store, userID, "MY VOICE IS MY PASSWORD")
	v := NewVoiceVerifier(store)
	ctx := context.Background()

	// First two failures report remaining attempts
	for i := 1; i <= 2; i++ {
		result, err := v.Challenge(ctx, userID, TranscriptEvidence{Transcript: "wrong phrase"})
		if err != nil {
			t.Fatalf("Challenge failed: %v", err)
		}
		if result.Success {
			t.Fatal("wrong passphrase accepted")
		}
		if result.Reason != domain.ReasonVerificationFailed {
			t.Errorf("failure %d: Reason = %s, want %s", i, result.Reason, domain.ReasonVerificationFailed)
		}
		if result.AttemptsRemaining != voiceMaxAttempts-i {
			t.Errorf("failure %d: AttemptsRemaining = %d, want %d", i, result.AttemptsRemaining, voiceMaxAttempts-i)
		}
		if store.failedAttempts(domain.FactorVoice) != i {
			t.Errorf("failure %d: persisted counter = %d, want %d", i, store.failedAttempts(domain.FactorVoice), i)
		}
	}

	// Third failure reports the lockout
	result, err := v.Challenge(ctx, userID, TranscriptEvidence{Transcript: "wrong phrase"})
	if err != nil {
		t.Fatalf("Challenge failed: %v", err)
	}
	if result.Reason != domain.ReasonLockedOut {
		t.Errorf("Reason = %s, want %s", result.Reason, domain.ReasonLockedOut)
	}
	if result.RetryAfter != voiceLockoutDuration {
		t.Errorf("RetryAfter = %v, want %v", result.RetryAfter, voiceLockoutDuration)
	}
}

func TestVoiceChallenge_SuccessResetsCounter(t *testing.T) {
	store := newFakeFactorStore()
	userID := uuid.New()
	enrollVoice(t, store, userID, "MY VOICE IS MY PASSWORD")
	store.factors[domain.FactorVoice].FailedAttempts = 2
	v := NewVoiceVerifier(store)

	result, err := v.Challenge(context.Background(), userID, TranscriptEvidence{Transcript: "MY VOICE IS MY PASSWORD"})
	if err != nil {
		t.Fatalf("Challenge failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("correct passphrase rejected: %s", result.Reason)
	}
	if got := store.failedAttempts(domain.FactorVoice); got != 0 {
		t.Errorf("counter = %d after success, want 0", got)
	}
}

func TestVoiceChallenge_EmptyTranscript(t *testing.T) {
	store := newFakeFactorStore()
	userID := uuid.New()
	enrollVoice(t, store, userID, "MY VOICE IS MY PASSWORD")
	v := NewVoiceVerifier(store)

	result, err := v.Challenge(context.Background(), userID, TranscriptEvidence{Transcript: "   "})
	if err != nil {
		t.Fatalf("Challenge failed: %v", err)
	}
	if result.Reason != domain.ReasonInvalidFormat {
		t.Errorf("Reason = %s, want %s", result.Reason, domain.ReasonInvalidFormat)
	}
	if store.getCalls != 0 {
		t.Error("store contacted for an empty transcript")
	}
}
