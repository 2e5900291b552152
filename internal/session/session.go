package session

import (
	"context"
	"errors"
	"time"

	"github.com/faceswitch/faceswitch/pkg/models"
)

// ErrNotPremium is returned when a free user attempts a premium-only transition
var ErrNotPremium = errors.New("premium tier required")

// Claimer atomically claims a submission slot per user. Implemented by the
// Redis cache; the claim is advisory and rebuildable.
type Claimer interface {
	ClaimSubmission(ctx context.Context, userID int64, at time.Time, minGap, ttl time.Duration) (bool, error)
}

// Repository defines the persistence operations the session machine needs
type Repository interface {
	SetAwaitingTarget(ctx context.Context, userID int64, awaiting bool) error
	SetSelectedTarget(ctx context.Context, userID int64, target string, custom bool) error
}

// Manager owns the per-user workflow state: the awaiting-target flag, the
// active target selection and the two independent rate-limit checks. Every
// user starts in the awaiting-source state and the machine never terminates.
type Manager struct {
	claims      Claimer
	repo        Repository
	submitDelay time.Duration // minimum gap between accepted photo submissions
	processGate time.Duration // minimum gap between processed photos, waived for premium
}

// New creates a session manager
func New(claims Claimer, repo Repository, submitDelay, processGate time.Duration) *Manager {
	return &Manager{
		claims:      claims,
		repo:        repo,
		submitDelay: submitDelay,
		processGate: processGate,
	}
}

// AllowSubmission decides whether a photo submission is accepted for
// processing at all. Grouped submissions are always rejected; single
// submissions are rejected when one arrived within the configured delay.
// Accepting claims the slot, so of two near-simultaneous events exactly one
// passes.
func (m *Manager) AllowSubmission(ctx context.Context, userID int64, grouped bool, at time.Time) (bool, error) {
	if grouped {
		return false, nil
	}

	// Keep the claim around long enough to outlive the gap check
	ttl := 10 * m.submitDelay
	if ttl < time.Minute {
		ttl = time.Minute
	}

	return m.claims.ClaimSubmission(ctx, userID, at, m.submitDelay, ttl)
}

// GateRemaining returns how long the user must still wait before the next
// photo is processed. Zero means the gate is open. Premium users are never
// gated.
func (m *Manager) GateRemaining(user *models.User, now time.Time) time.Duration {
	if user.IsPremium() {
		return 0
	}

	elapsed := now.Sub(user.LastActionAt)
	if elapsed >= m.processGate {
		return 0
	}

	return m.processGate - elapsed
}

// RequestTargetUpload transitions the user into the awaiting-target state.
// Only premium users may upload custom targets.
func (m *Manager) RequestTargetUpload(ctx context.Context, user *models.User) error {
	if !user.IsPremium() {
		return ErrNotPremium
	}

	return m.repo.SetAwaitingTarget(ctx, user.ID, true)
}

// SelectPreset sets the active target to a preset and returns the user to
// the awaiting-source state, flipping awaiting-target off from any state
func (m *Manager) SelectPreset(ctx context.Context, userID int64, presetID string) error {
	return m.repo.SetSelectedTarget(ctx, userID, presetID, false)
}

// StoreTarget records an uploaded custom target as the active selection and
// returns the user to the awaiting-source state. No target credit is
// consumed here; credits are charged when a processed request uses the
// custom target.
func (m *Manager) StoreTarget(ctx context.Context, userID int64, objectRef string) error {
	return m.repo.SetSelectedTarget(ctx, userID, objectRef, true)
}
