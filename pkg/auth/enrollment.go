package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/quillhq/quill-auth/internal/metrics"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// FactorStore is the persistence surface for enrolled factors.
// *repository.FactorsRepository satisfies it.
type FactorStore interface {
	Create(ctx context.Context, factor *domain.EnrolledFactor) error
	Get(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) (*domain.EnrolledFactor, error)
	Exists(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) (bool, error)
	MarkVerified(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error
	UpdateFailedAttempts(ctx context.Context, userID uuid.UUID, kind domain.FactorKind, attempts int) error
	UpdateLastUsed(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error
	Delete(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error
}

// BlobStore holds per-user reference blobs (face images). Cleanup failures
// are logged and swallowed by the registry; they never block a row delete.
type BlobStore interface {
	Save(ctx context.Context, userID uuid.UUID, name string, data []byte) (string, error)
	RemoveAll(ctx context.Context, userID uuid.UUID) error
}

// TOTPSetup is returned when TOTP enrollment starts.
type TOTPSetup struct {
	Secret        string   // base32, for manual entry
	OTPAuthURL    string   // otpauth:// provisioning URI
	QRCodeDataURI string   // data:image/png;base64,...
	RecoveryCodes []string // only set when this enrollment created the first batch
}

// EnrollmentService is the factor enrollment registry: the per-user set of
// enrolled factors with their enable/disable lifecycle. Whether MFA is
// enabled is always derived from this registry, never stored.
type EnrollmentService struct {
	logger   *slog.Logger
	issuer   string
	factors  FactorStore
	recovery *RecoveryCodeManager
	blobs    BlobStore
}

// NewEnrollmentService creates a new enrollment service.
func NewEnrollmentService(logger *slog.Logger, issuer string, factors FactorStore, recovery *RecoveryCodeManager, blobs BlobStore) *EnrollmentService {
	return &EnrollmentService{
		logger:   logger,
		issuer:   issuer,
		factors:  factors,
		recovery: recovery,
		blobs:    blobs,
	}
}

// CheckStatus reports which factors are enrolled plus whether active
// recovery codes exist. The four lookups hit independent tables and run
// concurrently; a missing row is a valid false, only transport errors fail
// the batch.
func (s *EnrollmentService) CheckStatus(ctx context.Context, userID uuid.UUID) (domain.EnrollmentStatus, error) {
	var (
		status domain.EnrollmentStatus
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
	)

	check := func(set func(bool), fn func() (bool, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := fn()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			set(ok)
		}()
	}

	check(func(v bool) { status.TOTP = v }, func() (bool, error) {
		return s.factors.Exists(ctx, userID, domain.FactorTOTP)
	})
	check(func(v bool) { status.Face = v }, func() (bool, error) {
		return s.factors.Exists(ctx, userID, domain.FactorFace)
	})
	check(func(v bool) { status.Voice = v }, func() (bool, error) {
		return s.factors.Exists(ctx, userID, domain.FactorVoice)
	})
	check(func(v bool) { status.RecoveryActive = v }, func() (bool, error) {
		return s.recovery.codes.ExistsActive(ctx, userID)
	})

	wg.Wait()
	if len(errs) > 0 {
		return domain.EnrollmentStatus{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, errors.Join(errs...))
	}
	return status, nil
}

// SetupTOTP generates a TOTP secret and stores it unverified. The factor
// becomes verified after the first successful code (challenge or explicit
// confirmation).
func (s *EnrollmentService) SetupTOTP(ctx context.Context, userID uuid.UUID, accountName string) (*TOTPSetup, error) {
	if err := s.ensureNotEnrolled(ctx, userID, domain.FactorTOTP); err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	var qrBuf bytes.Buffer
	img, err := key.Image(200, 200)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code image: %w", err)
	}
	if err := png.Encode(&qrBuf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	if err := s.factors.Create(ctx, &domain.EnrolledFactor{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      domain.FactorTOTP,
		Secret:    key.Secret(),
		Verified:  false,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	recoveryCodes, err := s.generateFirstRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	metrics.EnrollmentsTotal.WithLabelValues("totp", "enabled").Inc()
	return &TOTPSetup{
		Secret:        key.Secret(),
		OTPAuthURL:    key.URL(),
		QRCodeDataURI: "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrBuf.Bytes()),
		RecoveryCodes: recoveryCodes,
	}, nil
}

// EnableFace stores the captured reference image in blob storage and
// enrolls the face factor pointing at it.
func (s *EnrollmentService) EnableFace(ctx context.Context, userID uuid.UUID, imageJPEG []byte) ([]string, error) {
	if err := s.ensureNotEnrolled(ctx, userID, domain.FactorFace); err != nil {
		return nil, err
	}
	if len(imageJPEG) == 0 {
		return nil, domain.ErrInvalidFormat
	}

	path, err := s.blobs.Save(ctx, userID, fmt.Sprintf("face-%s.jpg", uuid.New()), imageJPEG)
	if err != nil {
		return nil, fmt.Errorf("failed to store face reference image: %w", err)
	}

	if err := s.factors.Create(ctx, &domain.EnrolledFactor{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      domain.FactorFace,
		Secret:    path,
		Verified:  true,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	codes, err := s.generateFirstRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	metrics.EnrollmentsTotal.WithLabelValues("face", "enabled").Inc()
	return codes, nil
}

// EnableVoice enrolls the voice factor. The passphrase transcript is
// normalized to upper case before hashing, matching how challenge
// transcripts arrive.
func (s *EnrollmentService) EnableVoice(ctx context.Context, userID uuid.UUID, passphrase string) ([]string, error) {
	if err := s.ensureNotEnrolled(ctx, userID, domain.FactorVoice); err != nil {
		return nil, err
	}

	passphrase = strings.ToUpper(strings.TrimSpace(passphrase))
	if passphrase == "" {
		return nil, domain.ErrInvalidFormat
	}

	hash, err := HashPassword(passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to hash voice passphrase: %w", err)
	}

	if err := s.factors.Create(ctx, &domain.EnrolledFactor{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      domain.FactorVoice,
		Secret:    hash,
		Verified:  true,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	codes, err := s.generateFirstRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	metrics.EnrollmentsTotal.WithLabelValues("voice", "enabled").Inc()
	return codes, nil
}

// DisableFactor deletes the factor row. Associated blob storage is cleaned
// up best-effort: a storage failure is logged and swallowed so the factor
// is still disabled.
func (s *EnrollmentService) DisableFactor(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error {
	exists, err := s.factors.Exists(ctx, userID, kind)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrFactorNotEnrolled
	}

	if err := s.factors.Delete(ctx, userID, kind); err != nil {
		return err
	}

	if kind == domain.FactorFace {
		if err := s.blobs.RemoveAll(ctx, userID); err != nil {
			s.logger.Warn("failed to remove face reference images", "user_id", userID, "error", err)
		}
	}

	metrics.EnrollmentsTotal.WithLabelValues(string(kind), "disabled").Inc()
	return nil
}

// DisableAll removes every enrolled factor, the associated storage objects
// and all recovery codes, in that order. A failure after at least one step
// completed is reported as an inconsistent state naming the step that
// failed, so the caller can prompt a retry instead of reporting a clean
// result. A failure on the very first step leaves nothing half-done and is
// returned as a plain error.
func (s *EnrollmentService) DisableAll(ctx context.Context, userID uuid.UUID) error {
	deleted := 0
	for _, kind := range domain.ChallengeOrder {
		if err := s.factors.Delete(ctx, userID, kind); err != nil {
			if deleted == 0 {
				return fmt.Errorf("deleting %s factor: %w", kind, err)
			}
			return fmt.Errorf("%w: deleting %s factor: %w", domain.ErrInconsistentState, kind, err)
		}
		deleted++
	}

	if err := s.blobs.RemoveAll(ctx, userID); err != nil {
		s.logger.Warn("failed to remove face reference images", "user_id", userID, "error", err)
	}

	if err := s.recovery.DeleteAll(ctx, userID); err != nil {
		return fmt.Errorf("%w: deleting recovery codes: %w", domain.ErrInconsistentState, err)
	}

	metrics.EnrollmentsTotal.WithLabelValues("all", "disabled").Inc()
	return nil
}

// ConfirmTOTP marks the TOTP factor verified after the user proves the
// secret works. Idempotent if already verified.
func (s *EnrollmentService) ConfirmTOTP(ctx context.Context, userID uuid.UUID) error {
	return s.factors.MarkVerified(ctx, userID, domain.FactorTOTP)
}

func (s *EnrollmentService) ensureNotEnrolled(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error {
	exists, err := s.factors.Exists(ctx, userID, kind)
	if err != nil {
		return err
	}
	if exists {
		return domain.ErrFactorAlreadyEnrolled
	}
	return nil
}

// generateFirstRecoveryCodes creates the recovery batch exactly once: on
// the first factor ever enabled. If any codes exist, used or not, nothing
// is generated.
func (s *EnrollmentService) generateFirstRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	hasAny, err := s.recovery.HasAny(ctx, userID)
	if err != nil {
		return nil, err
	}
	if hasAny {
		return nil, nil
	}
	return s.recovery.Generate(ctx, userID)
}
