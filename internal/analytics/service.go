package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faceswitch/faceswitch/internal/database"
	"github.com/faceswitch/faceswitch/pkg/models"
)

// Repository defines the data the stats service aggregates over
type Repository interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	CountImageActions(ctx context.Context, userID int64) (int, error)
	GetLastJobRun(ctx context.Context, jobName string) (*models.JobRun, error)
}

// Stats is a point-in-time usage summary for the admin API
type Stats struct {
	TotalUsers         int        `json:"total_users"`
	PremiumUsers       int        `json:"premium_users"`
	AwaitingTarget     int        `json:"awaiting_target"`
	RequestsLeftTotal  int        `json:"requests_left_total"`
	TargetCreditsTotal int        `json:"target_credits_total"`
	ImageActionsTotal  int        `json:"image_actions_total"`
	LastReconcileAt    *time.Time `json:"last_reconcile_at,omitempty"`
	GeneratedAt        time.Time  `json:"generated_at"`
}

// Service aggregates usage statistics
type Service struct {
	repo Repository
}

// NewService creates a new analytics service
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
	}
}

// UsageStats builds the current usage summary. The image action count is
// aggregated per user, which is fine at this service's scale.
func (s *Service) UsageStats(ctx context.Context, reconcileJobName string) (*Stats, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	stats := &Stats{
		TotalUsers:  len(users),
		GeneratedAt: time.Now(),
	}

	for _, user := range users {
		if user.IsPremium() {
			stats.PremiumUsers++
		}
		if user.AwaitingTarget {
			stats.AwaitingTarget++
		}
		stats.RequestsLeftTotal += user.RequestsLeft
		stats.TargetCreditsTotal += user.TargetCredits

		actions, err := s.repo.CountImageActions(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count actions for user %d: %w", user.ID, err)
		}
		stats.ImageActionsTotal += actions
	}

	lastRun, err := s.repo.GetLastJobRun(ctx, reconcileJobName)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to load last reconcile run: %w", err)
	}
	if lastRun != nil {
		stats.LastReconcileAt = &lastRun.RanAt
	}

	return stats, nil
}
