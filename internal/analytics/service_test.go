package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faceswitch/faceswitch/internal/database"
	"github.com/faceswitch/faceswitch/pkg/models"
)

type fakeRepo struct {
	users   []*models.User
	actions map[int64]int
	lastRun *models.JobRun
}

func (f *fakeRepo) ListUsers(_ context.Context) ([]*models.User, error) {
	return f.users, nil
}

func (f *fakeRepo) CountImageActions(_ context.Context, userID int64) (int, error) {
	return f.actions[userID], nil
}

func (f *fakeRepo) GetLastJobRun(_ context.Context, _ string) (*models.JobRun, error) {
	if f.lastRun == nil {
		return nil, database.ErrNotFound
	}
	return f.lastRun, nil
}

func TestUsageStats(t *testing.T) {
	ranAt := time.Now().Add(-30 * time.Minute)
	repo := &fakeRepo{
		users: []*models.User{
			{ID: 1, Tier: models.TierFree, RequestsLeft: 10},
			{ID: 2, Tier: models.TierPremium, RequestsLeft: 95, TargetCredits: 8, AwaitingTarget: true},
			{ID: 3, Tier: models.TierPremium, RequestsLeft: 40, TargetCredits: 2},
		},
		actions: map[int64]int{1: 3, 2: 12, 3: 5},
		lastRun: &models.JobRun{JobName: "entitlement_reconcile", RanAt: ranAt},
	}

	stats, err := NewService(repo).UsageStats(context.Background(), "entitlement_reconcile")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalUsers)
	assert.Equal(t, 2, stats.PremiumUsers)
	assert.Equal(t, 1, stats.AwaitingTarget)
	assert.Equal(t, 145, stats.RequestsLeftTotal)
	assert.Equal(t, 10, stats.TargetCreditsTotal)
	assert.Equal(t, 20, stats.ImageActionsTotal)
	require.NotNil(t, stats.LastReconcileAt)
	assert.Equal(t, ranAt, *stats.LastReconcileAt)
}

func TestUsageStatsNoReconcileYet(t *testing.T) {
	repo := &fakeRepo{users: []*models.User{{ID: 1, RequestsLeft: 10}}, actions: map[int64]int{}}

	stats, err := NewService(repo).UsageStats(context.Background(), "entitlement_reconcile")
	require.NoError(t, err)

	assert.Nil(t, stats.LastReconcileAt)
	assert.Equal(t, 1, stats.TotalUsers)
}
