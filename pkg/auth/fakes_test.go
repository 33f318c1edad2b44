package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quillhq/quill-auth/internal/facematch"
	"github.com/quillhq/quill-auth/pkg/domain"
)

// fakeFactorStore is an in-memory FactorStore for a single test user,
// keyed by factor kind. It counts Get calls so tests can assert that
// malformed evidence never reaches the store.
type fakeFactorStore struct {
	mu        sync.Mutex
	factors   map[domain.FactorKind]*domain.EnrolledFactor
	getCalls  int
	err       error                       // returned by every call when set
	deleteErr map[domain.FactorKind]error // per-kind Delete failures
}

func newFakeFactorStore() *fakeFactorStore {
	return &fakeFactorStore{factors: make(map[domain.FactorKind]*domain.EnrolledFactor)}
}

func (f *fakeFactorStore) Create(ctx context.Context, factor *domain.EnrolledFactor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := *factor
	f.factors[factor.Kind] = &cp
	return nil
}

func (f *fakeFactorStore) Get(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) (*domain.EnrolledFactor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	factor, ok := f.factors[kind]
	if !ok {
		return nil, domain.ErrFactorNotEnrolled
	}
	cp := *factor
	return &cp, nil
}

func (f *fakeFactorStore) Exists(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.factors[kind]
	return ok, nil
}

func (f *fakeFactorStore) MarkVerified(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if factor, ok := f.factors[kind]; ok {
		factor.Verified = true
	}
	return nil
}

func (f *fakeFactorStore) UpdateFailedAttempts(ctx context.Context, userID uuid.UUID, kind domain.FactorKind, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if factor, ok := f.factors[kind]; ok {
		factor.FailedAttempts = attempts
	}
	return nil
}

func (f *fakeFactorStore) UpdateLastUsed(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return nil
}

func (f *fakeFactorStore) Delete(ctx context.Context, userID uuid.UUID, kind domain.FactorKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := f.deleteErr[kind]; err != nil {
		return err
	}
	delete(f.factors, kind)
	return nil
}

func (f *fakeFactorStore) failedAttempts(kind domain.FactorKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if factor, ok := f.factors[kind]; ok {
		return factor.FailedAttempts
	}
	return 0
}

// fakeRecoveryStore is an in-memory RecoveryCodeStore with the same
// compare-and-set consumption the SQL store has: marking an already-used
// code reports ErrInvalidRecoveryCode.
type fakeRecoveryStore struct {
	mu   sync.Mutex
	rows []*domain.RecoveryCode
	err  error
}

func (f *fakeRecoveryStore) CreateBatch(ctx context.Context, codes []*domain.RecoveryCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, c := range codes {
		cp := *c
		f.rows = append(f.rows, &cp)
	}
	return nil
}

func (f *fakeRecoveryStore) ReplaceAll(ctx context.Context, userID uuid.UUID, codes []*domain.RecoveryCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = nil
	for _, c := range codes {
		cp := *c
		f.rows = append(f.rows, &cp)
	}
	return nil
}

func (f *fakeRecoveryStore) ListActive(ctx context.Context, userID uuid.UUID) ([]*domain.RecoveryCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var active []*domain.RecoveryCode
	for _, c := range f.rows {
		if c.UsedAt == nil {
			cp := *c
			active = append(active, &cp)
		}
	}
	return active, nil
}

func (f *fakeRecoveryStore) ExistsAny(ctx context.Context, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return len(f.rows) > 0, nil
}

func (f *fakeRecoveryStore) ExistsActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := f.CountActive(ctx, userID)
	return n > 0, err
}

func (f *fakeRecoveryStore) CountActive(ctx context.Context, userID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, c := range f.rows {
		if c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeRecoveryStore) MarkUsed(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, c := range f.rows {
		if c.ID == id {
			if c.UsedAt != nil {
				return domain.ErrInvalidRecoveryCode
			}
			now := time.Now()
			c.UsedAt = &now
			return nil
		}
	}
	return domain.ErrInvalidRecoveryCode
}

func (f *fakeRecoveryStore) DeleteAllByUserID(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = nil
	return nil
}

// fakeBlobStore records saved blobs per user.
type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[uuid.UUID][]string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[uuid.UUID][]string)}
}

func (f *fakeBlobStore) Save(ctx context.Context, userID uuid.UUID, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := fmt.Sprintf("%s/%s", userID, name)
	f.blobs[userID] = append(f.blobs[userID], path)
	return path, nil
}

func (f *fakeBlobStore) RemoveAll(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, userID)
	return nil
}

// fakeMatcher returns a scripted face-match verdict.
type fakeMatcher struct {
	result *facematch.Result
	err    error
	calls  int
}

func (f *fakeMatcher) Match(ctx context.Context, userID uuid.UUID, imageJPEG []byte) (*facematch.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}
