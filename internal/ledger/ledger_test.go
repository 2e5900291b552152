package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faceswitch/faceswitch/internal/database"
	"github.com/faceswitch/faceswitch/pkg/models"
)

// fakeRepo implements Repository in memory. Counter updates run under a
// mutex, mirroring the row-level atomicity of the SQL implementation.
type fakeRepo struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	purchases map[int64][]*models.PremiumPurchase
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:     make(map[int64]*models.User),
		purchases: make(map[int64][]*models.PremiumPurchase),
	}
}

func (f *fakeRepo) addUser(u *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeRepo) GetUser(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeRepo) ConsumeRequests(ctx context.Context, userID int64, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return 0, database.ErrNotFound
	}
	u.RequestsLeft -= n
	if u.RequestsLeft < 0 {
		u.RequestsLeft = 0
	}
	return u.RequestsLeft, nil
}

func (f *fakeRepo) ConsumeTargetCredit(ctx context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return 0, database.ErrNotFound
	}
	if u.TargetCredits > 0 {
		u.TargetCredits--
	}
	return u.TargetCredits, nil
}

func (f *fakeRepo) SetEntitlement(ctx context.Context, userID int64, tier models.Tier, requests, targets int, expires *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	u.Tier = tier
	u.RequestsLeft = requests
	u.TargetCredits = targets
	u.PremiumExpires = expires
	if tier != models.TierPremium {
		u.AwaitingTarget = false
	}
	return nil
}

func (f *fakeRepo) AddEntitlement(ctx context.Context, userID int64, requests, targets int, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	u.Tier = models.TierPremium
	u.RequestsLeft += requests
	u.TargetCredits += targets
	u.PremiumExpires = &expires
	return nil
}

func (f *fakeRepo) CreatePurchase(ctx context.Context, p *models.PremiumPurchase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	f.purchases[p.UserID] = append(f.purchases[p.UserID], p)
	return nil
}

func (f *fakeRepo) ListValidPurchases(ctx context.Context, userID int64, now time.Time) ([]*models.PremiumPurchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var valid []*models.PremiumPurchase
	for _, p := range f.purchases[userID] {
		if p.Valid(now) {
			valid = append(valid, p)
		}
	}
	return valid, nil
}

func (f *fakeRepo) DeleteExpiredPurchases(ctx context.Context, userID int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*models.PremiumPurchase
	for _, p := range f.purchases[userID] {
		if p.Valid(now) {
			kept = append(kept, p)
		}
	}
	f.purchases[userID] = kept
	return nil
}

func (f *fakeRepo) DeletePurchases(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.purchases, userID)
	return nil
}

func testConfig() Config {
	return Config{
		FreeQuota:        10,
		RequestIncrement: 100,
		TargetIncrement:  10,
		Validity:         30 * 24 * time.Hour,
	}
}

func TestGrantPremium(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, Tier: models.TierFree, RequestsLeft: 10})
	l := New(repo, testConfig())

	user, err := l.GrantPremium(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, models.TierPremium, user.Tier)
	assert.Equal(t, 110, user.RequestsLeft)
	assert.Equal(t, 10, user.TargetCredits)
	require.NotNil(t, user.PremiumExpires)
	assert.Len(t, repo.purchases[1], 1)
}

func TestGrantPremiumUnknownUser(t *testing.T) {
	l := New(newFakeRepo(), testConfig())

	_, err := l.GrantPremium(context.Background(), 99)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestGrantPremiumTwiceSumsIncrements(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, Tier: models.TierFree, RequestsLeft: 10})
	l := New(repo, testConfig())
	ctx := context.Background()

	_, err := l.GrantPremium(ctx, 1)
	require.NoError(t, err)
	_, err = l.GrantPremium(ctx, 1)
	require.NoError(t, err)

	// Reconciliation sums the two valid purchases rather than overwriting
	require.NoError(t, l.Recompute(ctx, 1, time.Now()))

	user, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 200, user.RequestsLeft)
	assert.Equal(t, 20, user.TargetCredits)
	assert.Equal(t, models.TierPremium, user.Tier)
}

func TestConsumeRequestsNeverNegative(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, RequestsLeft: 3})
	l := New(repo, testConfig())

	remaining, err := l.ConsumeRequests(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	remaining, err = l.ConsumeRequests(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestConsumeRequestsConcurrent(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, RequestsLeft: 100})
	l := New(repo, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ConsumeRequests(context.Background(), 1, 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 50 concurrent decrements of 2 must all land: no lost updates
	user, err := repo.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, user.RequestsLeft)
}

func TestHasRequests(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, RequestsLeft: 1})
	repo.addUser(&models.User{ID: 2, RequestsLeft: 0})
	l := New(repo, testConfig())

	ok, err := l.HasRequests(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.HasRequests(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetFreeQuota(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, Tier: models.TierFree, RequestsLeft: 10})
	l := New(repo, testConfig())
	ctx := context.Background()

	_, err := l.GrantPremium(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, l.ResetFreeQuota(ctx, 1))

	user, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, user.Tier)
	assert.Equal(t, 10, user.RequestsLeft)
	assert.Equal(t, 0, user.TargetCredits)
	assert.Nil(t, user.PremiumExpires)
	assert.Empty(t, repo.purchases[1])

	// Recompute after reset keeps the user free: purchases are gone
	require.NoError(t, l.Recompute(ctx, 1, time.Now()))
	user, err = repo.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, user.Tier)
}

func TestRecomputeExpiredPurchasesRevertToFree(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, Tier: models.TierPremium, RequestsLeft: 70, TargetCredits: 4})
	expired := time.Now().Add(-24 * time.Hour)
	repo.purchases[1] = []*models.PremiumPurchase{{
		UserID:           1,
		ExpiresAt:        expired,
		RequestIncrement: 100,
		TargetIncrement:  10,
	}}
	l := New(repo, testConfig())

	require.NoError(t, l.Recompute(context.Background(), 1, time.Now()))

	user, err := repo.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, user.Tier)
	assert.Equal(t, 10, user.RequestsLeft)
	assert.Equal(t, 0, user.TargetCredits)
	assert.Nil(t, user.PremiumExpires)
}

func TestRecomputeLeavesFreeUserAlone(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, Tier: models.TierFree, RequestsLeft: 3})
	l := New(repo, testConfig())

	require.NoError(t, l.Recompute(context.Background(), 1, time.Now()))

	user, err := repo.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, user.Tier)
	assert.Equal(t, 3, user.RequestsLeft)
}

func TestRecomputeIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, Tier: models.TierFree, RequestsLeft: 10})
	l := New(repo, testConfig())
	ctx := context.Background()

	_, err := l.GrantPremium(ctx, 1)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, l.Recompute(ctx, 1, now))
	first, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, l.Recompute(ctx, 1, now))
	second, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first.RequestsLeft, second.RequestsLeft)
	assert.Equal(t, first.TargetCredits, second.TargetCredits)
	assert.Equal(t, first.Tier, second.Tier)
}

func TestConsumeTargetCredit(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 1, TargetCredits: 1})
	l := New(repo, testConfig())

	remaining, err := l.ConsumeTargetCredit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	remaining, err = l.ConsumeTargetCredit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}
