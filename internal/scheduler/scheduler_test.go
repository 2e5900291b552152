package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faceswitch/faceswitch/internal/database"
	"github.com/faceswitch/faceswitch/internal/logging"
	"github.com/faceswitch/faceswitch/pkg/models"
)

type fakeRepo struct {
	userIDs      []int64
	lastRuns     map[string]*models.JobRun
	recordedRuns []models.JobRun
	pruned       []int64
	actions      []*models.ImageAction
	deletedUpTo  time.Time
}

func (f *fakeRepo) ListUserIDs(_ context.Context) ([]int64, error) {
	return f.userIDs, nil
}

func (f *fakeRepo) DeleteExpiredPurchases(_ context.Context, userID int64, _ time.Time) error {
	f.pruned = append(f.pruned, userID)
	return nil
}

func (f *fakeRepo) GetLastJobRun(_ context.Context, jobName string) (*models.JobRun, error) {
	run, ok := f.lastRuns[jobName]
	if !ok {
		return nil, database.ErrNotFound
	}
	return run, nil
}

func (f *fakeRepo) RecordJobRun(_ context.Context, jobName, status, details string) error {
	f.recordedRuns = append(f.recordedRuns, models.JobRun{
		JobName: jobName,
		Status:  status,
		Details: details,
	})
	return nil
}

func (f *fakeRepo) ListImageActionsBefore(_ context.Context, _ time.Time) ([]*models.ImageAction, error) {
	return f.actions, nil
}

func (f *fakeRepo) DeleteImageActionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.deletedUpTo = cutoff
	return int64(len(f.actions)), nil
}

type fakeEntitlements struct {
	recomputed []int64
	failFor    int64
}

func (f *fakeEntitlements) Recompute(_ context.Context, userID int64, _ time.Time) error {
	if f.failFor != 0 && userID == f.failFor {
		return errors.New("recompute failed")
	}
	f.recomputed = append(f.recomputed, userID)
	return nil
}

type fakeRemover struct {
	removed [][]string
}

func (f *fakeRemover) RemoveAll(_ context.Context, objectNames []string) error {
	f.removed = append(f.removed, objectNames)
	return nil
}

func newTestScheduler(t *testing.T, repo *fakeRepo, ents *fakeEntitlements, remover *fakeRemover) *Scheduler {
	t.Helper()
	log, err := logging.NewDefaultLogger()
	require.NoError(t, err)
	return New(repo, ents, remover, log, time.Hour, 6*time.Hour, 24*time.Hour)
}

func TestReconcileFirstRunSweepsAllUsers(t *testing.T) {
	repo := &fakeRepo{userIDs: []int64{1, 2, 3}, lastRuns: map[string]*models.JobRun{}}
	ents := &fakeEntitlements{}
	s := newTestScheduler(t, repo, ents, &fakeRemover{})

	require.NoError(t, s.RunReconcile(context.Background(), time.Now()))

	assert.Equal(t, []int64{1, 2, 3}, repo.pruned)
	assert.Equal(t, []int64{1, 2, 3}, ents.recomputed)
	require.Len(t, repo.recordedRuns, 1)
	assert.Equal(t, ReconcileJobName, repo.recordedRuns[0].JobName)
	assert.Equal(t, "success", repo.recordedRuns[0].Status)
}

func TestReconcileSkippedWithinInterval(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{
		userIDs: []int64{1},
		lastRuns: map[string]*models.JobRun{
			ReconcileJobName: {JobName: ReconcileJobName, RanAt: now.Add(-10 * time.Minute)},
		},
	}
	ents := &fakeEntitlements{}
	s := newTestScheduler(t, repo, ents, &fakeRemover{})

	require.NoError(t, s.RunReconcile(context.Background(), now))

	assert.Empty(t, ents.recomputed)
	assert.Empty(t, repo.recordedRuns)
}

func TestReconcileDueAfterInterval(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{
		userIDs: []int64{1},
		lastRuns: map[string]*models.JobRun{
			ReconcileJobName: {JobName: ReconcileJobName, RanAt: now.Add(-2 * time.Hour)},
		},
	}
	ents := &fakeEntitlements{}
	s := newTestScheduler(t, repo, ents, &fakeRemover{})

	require.NoError(t, s.RunReconcile(context.Background(), now))

	assert.Equal(t, []int64{1}, ents.recomputed)
	require.Len(t, repo.recordedRuns, 1)
}

func TestReconcileContinuesPastUserFailure(t *testing.T) {
	repo := &fakeRepo{userIDs: []int64{1, 2, 3}, lastRuns: map[string]*models.JobRun{}}
	ents := &fakeEntitlements{failFor: 2}
	s := newTestScheduler(t, repo, ents, &fakeRemover{})

	require.NoError(t, s.RunReconcile(context.Background(), time.Now()))

	assert.Equal(t, []int64{1, 3}, ents.recomputed)
	require.Len(t, repo.recordedRuns, 1)
	assert.Equal(t, "error", repo.recordedRuns[0].Status)
	assert.Contains(t, repo.recordedRuns[0].Details, "failures=1")
}

func TestCleanupRemovesRecordsAndObjects(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{
		lastRuns: map[string]*models.JobRun{},
		actions: []*models.ImageAction{
			{ID: "a1", InputRef: "inputs/1/x.png", OutputRefs: []string{"outputs/1/y.png"}},
		},
	}
	remover := &fakeRemover{}
	s := newTestScheduler(t, repo, &fakeEntitlements{}, remover)

	require.NoError(t, s.RunCleanup(context.Background(), now))

	require.Len(t, remover.removed, 1)
	assert.Equal(t, []string{"inputs/1/x.png", "outputs/1/y.png"}, remover.removed[0])
	assert.Equal(t, now.Add(-24*time.Hour), repo.deletedUpTo)
	require.Len(t, repo.recordedRuns, 1)
	assert.Equal(t, CleanupJobName, repo.recordedRuns[0].JobName)
	assert.Equal(t, "removed=1", repo.recordedRuns[0].Details)
}

func TestCleanupSkippedWithinInterval(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{
		lastRuns: map[string]*models.JobRun{
			CleanupJobName: {JobName: CleanupJobName, RanAt: now.Add(-time.Hour)},
		},
		actions: []*models.ImageAction{{ID: "a1"}},
	}
	remover := &fakeRemover{}
	s := newTestScheduler(t, repo, &fakeEntitlements{}, remover)

	require.NoError(t, s.RunCleanup(context.Background(), now))

	assert.Empty(t, remover.removed)
	assert.Empty(t, repo.recordedRuns)
}

func TestCleanupIntervalIndependentOfRetention(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{
		lastRuns: map[string]*models.JobRun{
			CleanupJobName: {JobName: CleanupJobName, RanAt: now.Add(-7 * time.Hour)},
		},
		actions: []*models.ImageAction{{ID: "a1", InputRef: "inputs/1/x.png"}},
	}
	remover := &fakeRemover{}
	s := newTestScheduler(t, repo, &fakeEntitlements{}, remover)

	// The last run is past the 6h sweep interval but well within the 24h
	// retention window; the sweep runs and the cutoff stays at retention
	require.NoError(t, s.RunCleanup(context.Background(), now))

	require.Len(t, remover.removed, 1)
	assert.Equal(t, now.Add(-24*time.Hour), repo.deletedUpTo)
	require.Len(t, repo.recordedRuns, 1)
}

func TestSchedulerStartStop(t *testing.T) {
	repo := &fakeRepo{lastRuns: map[string]*models.JobRun{}}
	s := newTestScheduler(t, repo, &fakeEntitlements{}, &fakeRemover{})

	s.Start()
	s.Stop()
}
