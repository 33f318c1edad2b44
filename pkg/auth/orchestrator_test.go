package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/internal/facematch"
	"github.com/quillhq/quill-auth/pkg/domain"
)

type fakeAuthenticator struct {
	userID uuid.UUID
	err    error
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, email, password string) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return f.userID, nil
}

type fakeSessionIssuer struct {
	mu     sync.Mutex
	issued []IssueSessionOpts
}

func (f *fakeSessionIssuer) IssueSession(ctx context.Context, userID uuid.UUID, opts IssueSessionOpts) (*domain.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued = append(f.issued, opts)
	return &domain.TokenPair{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		TokenType:    "Bearer",
		ExpiresIn:    900,
	}, nil
}

func (f *fakeSessionIssuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issued)
}

// orchestratorHarness wires an orchestrator over in-memory stores with
// real verifiers, so challenge flows run end to end.
type orchestratorHarness struct {
	orch     *Orchestrator
	userID   uuid.UUID
	factors  *fakeFactorStore
	recovery *fakeRecoveryStore
	codes    *RecoveryCodeManager
	issuer   *fakeSessionIssuer
	status   *fakeStatusChecker
	matcher  *fakeMatcher
	clock    time.Time
}

func newOrchestratorHarness(t *testing.T, status domain.EnrollmentStatus) *orchestratorHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &orchestratorHarness{
		userID:   uuid.New(),
		factors:  newFakeFactorStore(),
		recovery: &fakeRecoveryStore{},
		issuer:   &fakeSessionIssuer{},
		status:   &fakeStatusChecker{status: status},
		matcher:  &fakeMatcher{},
		clock:    time.Now(),
	}
	h.codes = NewRecoveryCodeManager(h.recovery)

	verifiers := []FactorVerifier{
		NewTOTPVerifier(h.factors),
		NewVoiceVerifier(h.factors),
		NewFaceVerifier(h.factors, h.matcher),
	}
	h.orch = NewOrchestrator(
		logger,
		&fakeAuthenticator{userID: h.userID},
		h.status,
		verifiers,
		h.codes,
		NewNegotiator(h.status),
		h.issuer,
	)
	h.orch.now = func() time.Time { return h.clock }
	return h
}

func (h *orchestratorHarness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func (h *orchestratorHarness) startLogin(t *testing.T) *LoginOutcome {
	t.Helper()
	outcome, err := h.orch.StartLogin(context.Background(), "journaler@example.com", "pw", IssueSessionOpts{})
	if err != nil {
		t.Fatalf("StartLogin failed: %v", err)
	}
	return outcome
}

func TestStartLogin_NoFactorsFinalizesImmediately(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{})

	outcome := h.startLogin(t)

	if !outcome.Finalized {
		t.Fatal("login with no factors should finalize immediately")
	}
	if outcome.Tokens == nil {
		t.Fatal("no tokens issued")
	}
	if h.issuer.issued[0].MFAVerified {
		t.Error("no-factor login must not issue an elevated session")
	}
}

func TestStartLogin_ChallengePriority(t *testing.T) {
	tests := []struct {
		name   string
		status domain.EnrollmentStatus
		want   domain.FactorKind
	}{
		{"totp beats everything", domain.EnrollmentStatus{TOTP: true, Face: true, Voice: true}, domain.FactorTOTP},
		{"face beats voice", domain.EnrollmentStatus{Face: true, Voice: true}, domain.FactorFace},
		{"voice alone", domain.EnrollmentStatus{Voice: true}, domain.FactorVoice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newOrchestratorHarness(t, tt.status)

			outcome := h.startLogin(t)

			if outcome.Finalized {
				t.Fatal("challenge expected, got finalized session")
			}
			if outcome.Challenge != tt.want {
				t.Errorf("challenge = %s, want %s", outcome.Challenge, tt.want)
			}
			if outcome.AttemptID == "" {
				t.Error("no attempt ID")
			}
			if h.issuer.count() != 0 {
				t.Error("session issued before the challenge was answered")
			}
		})
	}
}

func TestStartLogin_BadPassword(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{TOTP: true})
	h.orch.passwords = &fakeAuthenticator{err: domain.ErrInvalidCredentials}

	_, err := h.orch.StartLogin(context.Background(), "journaler@example.com", "wrong", IssueSessionOpts{})
	if err != domain.ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSubmitChallenge_TOTPEndToEnd(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{TOTP: true})
	enrollTOTP(h.factors, h.userID, true)
	ctx := context.Background()

	outcome := h.startLogin(t)

	// Wrong code first: attempt stays open
	result, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorTOTP, CodeEvidence{Code: "000000"})
	if err != nil {
		t.Fatalf("SubmitChallenge failed: %v", err)
	}
	if result.Finalized {
		t.Fatal("wrong code finalized the login")
	}
	if result.Result.Reason != domain.ReasonVerificationFailed {
		t.Errorf("Reason = %s, want %s", result.Result.Reason, domain.ReasonVerificationFailed)
	}

	// Correct code: session issued with MFAVerified, attempt gone
	final, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorTOTP, CodeEvidence{Code: totpCodeAt(t, h.clock)})
	if err != nil {
		t.Fatalf("SubmitChallenge failed: %v", err)
	}
	if !final.Finalized {
		t.Fatalf("valid code did not finalize: %+v", final.Result)
	}
	if !h.issuer.issued[0].MFAVerified {
		t.Error("finalized session should carry MFAVerified")
	}

	_, err = h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorTOTP, CodeEvidence{Code: "123456"})
	if err != domain.ErrAttemptNotFound {
		t.Errorf("finished attempt still answerable: err = %v", err)
	}
}

func TestSubmitChallenge_WrongKind(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{TOTP: true})
	enrollTOTP(h.factors, h.userID, true)

	outcome := h.startLogin(t)

	_, err := h.orch.SubmitChallenge(context.Background(), outcome.AttemptID, domain.FactorVoice, TranscriptEvidence{Transcript: "phrase"})
	if err != domain.ErrNoActiveChallenge {
		t.Errorf("err = %v, want ErrNoActiveChallenge", err)
	}
}

func TestSubmitChallenge_VoiceLockout(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{Voice: true})
	enrollVoice(t, h.factors, h.userID, "MY VOICE IS MY PASSWORD")
	ctx := context.Background()

	outcome := h.startLogin(t)
	wrong := TranscriptEvidence{Transcript: "not the phrase"}

	// Three consecutive failures reach the lockout
	for i := 1; i <= 3; i++ {
		res, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorVoice, wrong)
		if err != nil {
			t.Fatalf("submission %d failed: %v", i, err)
		}
		if res.Finalized {
			t.Fatal("wrong transcript finalized the login")
		}
		if i < 3 && res.Result.Reason != domain.ReasonVerificationFailed {
			t.Errorf("failure %d: Reason = %s", i, res.Result.Reason)
		}
		if i == 3 && res.Result.Reason != domain.ReasonLockedOut {
			t.Fatalf("third failure: Reason = %s, want %s", res.Result.Reason, domain.ReasonLockedOut)
		}
	}

	// During the lockout the store is not contacted
	getsBefore := h.factors.getCalls
	res, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorVoice, TranscriptEvidence{Transcript: "MY VOICE IS MY PASSWORD"})
	if err != nil {
		t.Fatalf("SubmitChallenge failed: %v", err)
	}
	if res.Result == nil || res.Result.Reason != domain.ReasonLockedOut {
		t.Fatal("submission during lockout not rejected")
	}
	if res.Result.RetryAfter <= 0 || res.Result.RetryAfter > voiceLockoutDuration {
		t.Errorf("RetryAfter = %v, want within (0, %v]", res.Result.RetryAfter, voiceLockoutDuration)
	}
	if h.factors.getCalls != getsBefore {
		t.Error("factor store contacted during lockout")
	}

	// After the lockout expires the correct phrase succeeds and the
	// persisted counter resets
	h.advance(voiceLockoutDuration + time.Second)
	final, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorVoice, TranscriptEvidence{Transcript: "MY VOICE IS MY PASSWORD"})
	if err != nil {
		t.Fatalf("SubmitChallenge failed: %v", err)
	}
	if !final.Finalized {
		t.Fatalf("correct phrase after lockout did not finalize: %+v", final.Result)
	}
	if h.factors.failedAttempts(domain.FactorVoice) != 0 {
		t.Errorf("failed attempts = %d after success, want 0", h.factors.failedAttempts(domain.FactorVoice))
	}
}

func TestSubmitChallenge_FaceRecaptureBudget(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{Face: true})
	enrollFace(h.factors, h.userID)
	ctx := context.Background()

	h.matcher.result = &facematch.Result{Confidence: 0.4}
	outcome := h.startLogin(t)
	frame := ImageEvidence{ImageJPEG: []byte("blurry-frame")}

	// The first two unclear captures get recapture guidance
	for i := 1; i <= faceRecaptureBudget; i++ {
		res, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorFace, frame)
		if err != nil {
			t.Fatalf("submission %d failed: %v", i, err)
		}
		if res.Result.Reason != domain.ReasonUnclearCapture {
			t.Fatalf("submission %d: Reason = %s, want %s", i, res.Result.Reason, domain.ReasonUnclearCapture)
		}
		if res.Result.AttemptsRemaining != faceRecaptureBudget-i {
			t.Errorf("submission %d: AttemptsRemaining = %d, want %d", i, res.Result.AttemptsRemaining, faceRecaptureBudget-i)
		}
	}

	// With the budget spent a further unclear frame is a hard failure
	res, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorFace, frame)
	if err != nil {
		t.Fatalf("SubmitChallenge failed: %v", err)
	}
	if res.Result.Reason != domain.ReasonVerificationFailed {
		t.Errorf("Reason = %s, want %s", res.Result.Reason, domain.ReasonVerificationFailed)
	}

	// The attempt stays open: a clear matching frame still finalizes
	h.matcher.result = &facematch.Result{Verified: true, Confidence: 0.93, FaceDetected: true}
	final, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorFace, frame)
	if err != nil {
		t.Fatalf("SubmitChallenge failed: %v", err)
	}
	if !final.Finalized {
		t.Fatalf("clear match did not finalize: %+v", final.Result)
	}
}

func TestSelectAlternative_ResetsFaceRecaptureBudget(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{TOTP: true, Face: true})
	enrollTOTP(h.factors, h.userID, true)
	enrollFace(h.factors, h.userID)
	ctx := context.Background()

	outcome := h.startLogin(t)
	if outcome.Challenge != domain.FactorTOTP {
		t.Fatalf("challenge = %s, want totp", outcome.Challenge)
	}

	// Exhaust the face budget, switch away and back
	if _, err := h.orch.SelectAlternative(ctx, outcome.AttemptID, domain.FactorFace); err != nil {
		t.Fatalf("SelectAlternative failed: %v", err)
	}
	h.matcher.result = &facematch.Result{Confidence: 0.4}
	frame := ImageEvidence{ImageJPEG: []byte("blurry-frame")}
	for i := 0; i < faceRecaptureBudget; i++ {
		if _, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorFace, frame); err != nil {
			t.Fatalf("SubmitChallenge failed: %v", err)
		}
	}
	if _, err := h.orch.SelectAlternative(ctx, outcome.AttemptID, domain.FactorTOTP); err != nil {
		t.Fatalf("SelectAlternative failed: %v", err)
	}
	if _, err := h.orch.SelectAlternative(ctx, outcome.AttemptID, domain.FactorFace); err != nil {
		t.Fatalf("SelectAlternative failed: %v", err)
	}

	res, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorFace, frame)
	if err != nil {
		t.Fatalf("SubmitChallenge failed: %v", err)
	}
	if res.Result.Reason != domain.ReasonUnclearCapture {
		t.Errorf("Reason = %s after switching back, want %s", res.Result.Reason, domain.ReasonUnclearCapture)
	}
}

func TestAlternatives_SwitchToRecovery(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{TOTP: true, Voice: true})
	enrollTOTP(h.factors, h.userID, true)
	ctx := context.Background()

	recoveryCodes, err := h.codes.Generate(ctx, h.userID)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	outcome := h.startLogin(t)
	if outcome.Challenge != domain.FactorTOTP {
		t.Fatalf("challenge = %s, want totp", outcome.Challenge)
	}

	methods, err := h.orch.RequestAlternatives(ctx, outcome.AttemptID)
	if err != nil {
		t.Fatalf("RequestAlternatives failed: %v", err)
	}
	want := domain.AlternativeMethods{Voice: true, Recovery: true}
	if methods != want {
		t.Errorf("alternatives = %+v, want %+v", methods, want)
	}

	// While selecting, the old challenge cannot be answered
	_, err = h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorTOTP, CodeEvidence{Code: totpCodeAt(t, h.clock)})
	if err != domain.ErrNoActiveChallenge {
		t.Errorf("err = %v, want ErrNoActiveChallenge", err)
	}

	switched, err := h.orch.SelectAlternative(ctx, outcome.AttemptID, domain.FactorRecovery)
	if err != nil {
		t.Fatalf("SelectAlternative failed: %v", err)
	}
	if switched.Challenge != domain.FactorRecovery {
		t.Fatalf("challenge = %s, want recovery", switched.Challenge)
	}

	final, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorRecovery, CodeEvidence{Code: recoveryCodes[0]})
	if err != nil {
		t.Fatalf("SubmitChallenge failed: %v", err)
	}
	if !final.Finalized {
		t.Fatalf("valid recovery code did not finalize: %+v", final.Result)
	}

	// The code is consumed
	remaining, _ := h.codes.CountActive(ctx, h.userID)
	if remaining != RecoveryCodeCount-1 {
		t.Errorf("active codes = %d, want %d", remaining, RecoveryCodeCount-1)
	}
}

func TestSelectAlternative_UnknownKind(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{TOTP: true})
	enrollTOTP(h.factors, h.userID, true)

	outcome := h.startLogin(t)

	_, err := h.orch.SelectAlternative(context.Background(), outcome.AttemptID, domain.FactorKind("fingerprint"))
	if err != domain.ErrInvalidFormat {
		t.Errorf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestCancelChallenge(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{TOTP: true})
	enrollTOTP(h.factors, h.userID, true)
	ctx := context.Background()

	outcome := h.startLogin(t)

	h.orch.CancelChallenge(ctx, outcome.AttemptID)

	// Cancelled attempt grants nothing, even with a valid code
	_, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorTOTP, CodeEvidence{Code: totpCodeAt(t, h.clock)})
	if err != domain.ErrAttemptNotFound {
		t.Errorf("err = %v, want ErrAttemptNotFound", err)
	}
	if h.issuer.count() != 0 {
		t.Error("session issued for a cancelled attempt")
	}

	// Cancelling again is not an error
	h.orch.CancelChallenge(ctx, outcome.AttemptID)
}

func TestAttemptExpiry(t *testing.T) {
	h := newOrchestratorHarness(t, domain.EnrollmentStatus{TOTP: true})
	enrollTOTP(h.factors, h.userID, true)
	ctx := context.Background()

	outcome := h.startLogin(t)

	h.advance(attemptTTL + time.Second)

	_, err := h.orch.SubmitChallenge(ctx, outcome.AttemptID, domain.FactorTOTP, CodeEvidence{Code: totpCodeAt(t, h.clock)})
	if err != domain.ErrAttemptNotFound {
		t.Errorf("err = %v, want ErrAttemptNotFound", err)
	}
}
