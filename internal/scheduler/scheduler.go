package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faceswitch/faceswitch/internal/database"
	"github.com/faceswitch/faceswitch/internal/logging"
	"github.com/faceswitch/faceswitch/internal/metrics"
	"github.com/faceswitch/faceswitch/pkg/models"
)

const (
	ReconcileJobName = "entitlement_reconcile"
	CleanupJobName   = "image_cleanup"
)

// Repository defines the persistence operations the scheduler needs
type Repository interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
	DeleteExpiredPurchases(ctx context.Context, userID int64, now time.Time) error
	GetLastJobRun(ctx context.Context, jobName string) (*models.JobRun, error)
	RecordJobRun(ctx context.Context, jobName, status, details string) error
	ListImageActionsBefore(ctx context.Context, cutoff time.Time) ([]*models.ImageAction, error)
	DeleteImageActionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Entitlements recomputes a user's quota standing from their purchases
type Entitlements interface {
	Recompute(ctx context.Context, userID int64, now time.Time) error
}

// ObjectRemover deletes stored image objects
type ObjectRemover interface {
	RemoveAll(ctx context.Context, objectNames []string) error
}

// Scheduler runs the periodic entitlement reconciliation and image cleanup
// sweeps. Sweeps are idempotent and gated on a persisted run log, so a
// restarted process or a second replica does not repeat recent work.
type Scheduler struct {
	repo         Repository
	entitlements Entitlements
	objects      ObjectRemover
	log          *logging.Logger

	reconcileInterval time.Duration
	cleanupInterval   time.Duration
	retention         time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler
func New(repo Repository, entitlements Entitlements, objects ObjectRemover,
	log *logging.Logger, reconcileInterval, cleanupInterval, retention time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		repo:              repo,
		entitlements:      entitlements,
		objects:           objects,
		log:               log,
		reconcileInterval: reconcileInterval,
		cleanupInterval:   cleanupInterval,
		retention:         retention,
		ctx:               ctx,
		cancel:            cancel,
		done:              make(chan struct{}),
	}
}

// Start begins the background sweep loop
func (s *Scheduler) Start() {
	go s.loop()
	s.log.Info("Scheduler started")
}

// Stop stops the scheduler and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) loop() {
	defer close(s.done)

	// The tick is deliberately shorter than the sweep interval; the run-log
	// gate decides whether a tick actually does work.
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.runOnce(time.Now())

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.runOnce(now)
		}
	}
}

func (s *Scheduler) runOnce(now time.Time) {
	if err := s.RunReconcile(s.ctx, now); err != nil {
		s.log.ErrorWithErr("entitlement reconcile sweep failed", err)
	}
	if err := s.RunCleanup(s.ctx, now); err != nil {
		s.log.ErrorWithErr("image cleanup sweep failed", err)
	}
}

// RunReconcile performs one entitlement reconciliation sweep: expired
// purchases are pruned and every user's standing is recomputed from the
// purchases that remain. The sweep is skipped when the last recorded run is
// still within the configured interval.
func (s *Scheduler) RunReconcile(ctx context.Context, now time.Time) error {
	due, err := s.due(ctx, ReconcileJobName, s.reconcileInterval, now)
	if err != nil {
		return err
	}
	if !due {
		metrics.ReconcileRunsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	userIDs, err := s.repo.ListUserIDs(ctx)
	if err != nil {
		metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to list users: %w", err)
	}

	failures := 0
	for _, userID := range userIDs {
		if err := s.reconcileUser(ctx, userID, now); err != nil {
			failures++
			s.log.WithUserID(userID).ErrorWithErr("failed to reconcile user", err)
		}
	}

	status := "success"
	if failures > 0 {
		status = "error"
	}
	details := fmt.Sprintf("users=%d failures=%d", len(userIDs), failures)
	if err := s.repo.RecordJobRun(ctx, ReconcileJobName, status, details); err != nil {
		return fmt.Errorf("failed to record job run: %w", err)
	}

	metrics.ReconcileRunsTotal.WithLabelValues(status).Inc()
	s.log.LogJobRun(ReconcileJobName, status, details)
	return nil
}

func (s *Scheduler) reconcileUser(ctx context.Context, userID int64, now time.Time) error {
	if err := s.repo.DeleteExpiredPurchases(ctx, userID, now); err != nil {
		return fmt.Errorf("failed to prune purchases: %w", err)
	}
	if err := s.entitlements.Recompute(ctx, userID, now); err != nil {
		return fmt.Errorf("failed to recompute entitlement: %w", err)
	}
	return nil
}

// RunCleanup removes image action records older than the retention window
// along with their stored objects. The sweep runs on its own interval,
// independent of how long records are retained. Like reconciliation it is
// gated on the run log; object removal failures are logged but do not keep
// the records alive forever.
func (s *Scheduler) RunCleanup(ctx context.Context, now time.Time) error {
	due, err := s.due(ctx, CleanupJobName, s.cleanupInterval, now)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	cutoff := now.Add(-s.retention)
	actions, err := s.repo.ListImageActionsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list aged actions: %w", err)
	}

	for _, action := range actions {
		refs := append([]string{action.InputRef}, action.OutputRefs...)
		if err := s.objects.RemoveAll(ctx, refs); err != nil {
			s.log.WithField("action_id", action.ID).ErrorWithErr("failed to remove stored objects", err)
		}
	}

	removed, err := s.repo.DeleteImageActionsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete aged actions: %w", err)
	}
	metrics.CleanupRemovedTotal.Add(float64(removed))

	details := fmt.Sprintf("removed=%d", removed)
	if err := s.repo.RecordJobRun(ctx, CleanupJobName, "success", details); err != nil {
		return fmt.Errorf("failed to record job run: %w", err)
	}

	s.log.LogJobRun(CleanupJobName, "success", details)
	return nil
}

// due reports whether a sweep should run now, based on the last recorded
// run of the same job
func (s *Scheduler) due(ctx context.Context, jobName string, interval time.Duration, now time.Time) (bool, error) {
	last, err := s.repo.GetLastJobRun(ctx, jobName)
	if errors.Is(err, database.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load last run of %s: %w", jobName, err)
	}
	return now.Sub(last.RanAt) >= interval, nil
}
