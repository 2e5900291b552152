package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faceswitch/faceswitch/pkg/models"
)

// fakeClaimer mirrors the atomic check-and-set the Redis script performs
type fakeClaimer struct {
	mu   sync.Mutex
	last map[int64]time.Time
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{last: make(map[int64]time.Time)}
}

func (f *fakeClaimer) ClaimSubmission(ctx context.Context, userID int64, at time.Time, minGap, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.last[userID]; ok && at.Sub(prev) < minGap {
		return false, nil
	}
	f.last[userID] = at
	return true, nil
}

type fakeRepo struct {
	awaiting map[int64]bool
	target   map[int64]string
	custom   map[int64]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		awaiting: make(map[int64]bool),
		target:   make(map[int64]string),
		custom:   make(map[int64]bool),
	}
}

func (f *fakeRepo) SetAwaitingTarget(ctx context.Context, userID int64, awaiting bool) error {
	f.awaiting[userID] = awaiting
	return nil
}

func (f *fakeRepo) SetSelectedTarget(ctx context.Context, userID int64, target string, custom bool) error {
	f.target[userID] = target
	f.custom[userID] = custom
	f.awaiting[userID] = false
	return nil
}

func newTestManager() (*Manager, *fakeClaimer, *fakeRepo) {
	claims := newFakeClaimer()
	repo := newFakeRepo()
	return New(claims, repo, 2*time.Second, 20*time.Second), claims, repo
}

func TestAllowSubmissionRejectsGrouped(t *testing.T) {
	m, _, _ := newTestManager()

	ok, err := m.AllowSubmission(context.Background(), 1, true, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllowSubmissionDelay(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	base := time.Now()

	// Two single photos 1s apart: exactly one acceptance
	ok, err := m.AllowSubmission(ctx, 1, false, base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.AllowSubmission(ctx, 1, false, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	// After the full delay the next photo is accepted
	ok, err = m.AllowSubmission(ctx, 1, false, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowSubmissionIndependentUsers(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	now := time.Now()

	ok, err := m.AllowSubmission(ctx, 1, false, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.AllowSubmission(ctx, 2, false, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGateRemaining(t *testing.T) {
	m, _, _ := newTestManager()
	now := time.Now()

	tests := []struct {
		name   string
		user   *models.User
		gated  bool
	}{
		{
			name:  "free user inside gate",
			user:  &models.User{Tier: models.TierFree, LastActionAt: now.Add(-5 * time.Second)},
			gated: true,
		},
		{
			name:  "free user past gate",
			user:  &models.User{Tier: models.TierFree, LastActionAt: now.Add(-25 * time.Second)},
			gated: false,
		},
		{
			name:  "premium user inside gate is waived",
			user:  &models.User{Tier: models.TierPremium, LastActionAt: now.Add(-time.Second)},
			gated: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remaining := m.GateRemaining(tt.user, now)
			if tt.gated {
				assert.Greater(t, remaining, time.Duration(0))
			} else {
				assert.Equal(t, time.Duration(0), remaining)
			}
		})
	}
}

func TestRequestTargetUpload(t *testing.T) {
	m, _, repo := newTestManager()
	ctx := context.Background()

	err := m.RequestTargetUpload(ctx, &models.User{ID: 1, Tier: models.TierFree})
	assert.ErrorIs(t, err, ErrNotPremium)
	assert.False(t, repo.awaiting[1])

	err = m.RequestTargetUpload(ctx, &models.User{ID: 1, Tier: models.TierPremium})
	require.NoError(t, err)
	assert.True(t, repo.awaiting[1])
}

func TestSelectPresetClearsAwaitingTarget(t *testing.T) {
	m, _, repo := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.RequestTargetUpload(ctx, &models.User{ID: 1, Tier: models.TierPremium}))
	require.NoError(t, m.SelectPreset(ctx, 1, "3"))

	assert.False(t, repo.awaiting[1])
	assert.Equal(t, "3", repo.target[1])
	assert.False(t, repo.custom[1])
}

func TestStoreTarget(t *testing.T) {
	m, _, repo := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.RequestTargetUpload(ctx, &models.User{ID: 1, Tier: models.TierPremium}))
	require.NoError(t, m.StoreTarget(ctx, 1, "targets/1/abc.png"))

	assert.False(t, repo.awaiting[1])
	assert.Equal(t, "targets/1/abc.png", repo.target[1])
	assert.True(t, repo.custom[1])
}
