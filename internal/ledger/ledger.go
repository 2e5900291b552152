package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/faceswitch/faceswitch/pkg/models"
)

// Repository defines the persistence operations the ledger needs
type Repository interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ConsumeRequests(ctx context.Context, userID int64, n int) (int, error)
	ConsumeTargetCredit(ctx context.Context, userID int64) (int, error)
	SetEntitlement(ctx context.Context, userID int64, tier models.Tier, requests, targets int, expires *time.Time) error
	AddEntitlement(ctx context.Context, userID int64, requests, targets int, expires time.Time) error
	CreatePurchase(ctx context.Context, purchase *models.PremiumPurchase) error
	ListValidPurchases(ctx context.Context, userID int64, now time.Time) ([]*models.PremiumPurchase, error)
	DeleteExpiredPurchases(ctx context.Context, userID int64, now time.Time) error
	DeletePurchases(ctx context.Context, userID int64) error
}

// Config holds the fixed grant and reset amounts
type Config struct {
	FreeQuota        int
	RequestIncrement int
	TargetIncrement  int
	Validity         time.Duration
}

// Ledger owns per-user request and target-credit counters and premium
// entitlement. Entitlement is always a derived function of the currently
// valid purchase set; Recompute is the authoritative reconciliation rule.
type Ledger struct {
	repo Repository
	cfg  Config
}

// New creates a quota ledger
func New(repo Repository, cfg Config) *Ledger {
	return &Ledger{repo: repo, cfg: cfg}
}

// GrantPremium appends one purchase with the configured increments and
// validity window, marks the user premium and adds the increments to their
// counters immediately. Returns the updated user.
func (l *Ledger) GrantPremium(ctx context.Context, userID int64) (*models.User, error) {
	if _, err := l.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now()
	expires := now.Add(l.cfg.Validity)

	purchase := &models.PremiumPurchase{
		UserID:           userID,
		PurchasedAt:      now,
		ExpiresAt:        expires,
		RequestIncrement: l.cfg.RequestIncrement,
		TargetIncrement:  l.cfg.TargetIncrement,
	}

	if err := l.repo.CreatePurchase(ctx, purchase); err != nil {
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}

	if err := l.repo.AddEntitlement(ctx, userID, l.cfg.RequestIncrement, l.cfg.TargetIncrement, expires); err != nil {
		return nil, fmt.Errorf("failed to apply purchase: %w", err)
	}

	return l.repo.GetUser(ctx, userID)
}

// ConsumeRequests decrements requests_left by at most n, never below zero,
// and returns the remaining count
func (l *Ledger) ConsumeRequests(ctx context.Context, userID int64, n int) (int, error) {
	return l.repo.ConsumeRequests(ctx, userID, n)
}

// ConsumeTargetCredit decrements target_credits by one, never below zero
func (l *Ledger) ConsumeTargetCredit(ctx context.Context, userID int64) (int, error) {
	return l.repo.ConsumeTargetCredit(ctx, userID)
}

// HasRequests reports whether the user has request quota left
func (l *Ledger) HasRequests(ctx context.Context, userID int64) (bool, error) {
	user, err := l.repo.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}

	return user.RequestsLeft > 0, nil
}

// ResetFreeQuota unconditionally reverts the user to the free tier with the
// default quota, clearing target credits, premium expiration and any held
// purchases. Used by the manual reset command and the reconciliation fallback.
func (l *Ledger) ResetFreeQuota(ctx context.Context, userID int64) error {
	if err := l.repo.DeletePurchases(ctx, userID); err != nil {
		return err
	}

	return l.repo.SetEntitlement(ctx, userID, models.TierFree, l.cfg.FreeQuota, 0, nil)
}

// Recompute derives the user's entitlement from the set of currently valid
// purchases. A premium user with zero valid purchases reverts to the free
// tier with the default quota; otherwise the counters are set to the summed
// increments and the expiration to the latest valid purchase. Idempotent.
func (l *Ledger) Recompute(ctx context.Context, userID int64, now time.Time) error {
	purchases, err := l.repo.ListValidPurchases(ctx, userID, now)
	if err != nil {
		return err
	}

	if len(purchases) == 0 {
		user, err := l.repo.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		// A user who was already free keeps whatever quota they have left;
		// the sweep must not refill it.
		if !user.IsPremium() {
			return nil
		}
		return l.repo.SetEntitlement(ctx, userID, models.TierFree, l.cfg.FreeQuota, 0, nil)
	}

	var requests, targets int
	var latest time.Time
	for _, p := range purchases {
		requests += p.RequestIncrement
		targets += p.TargetIncrement
		if p.ExpiresAt.After(latest) {
			latest = p.ExpiresAt
		}
	}

	return l.repo.SetEntitlement(ctx, userID, models.TierPremium, requests, targets, &latest)
}
