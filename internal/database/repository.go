package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/faceswitch/faceswitch/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Users

// GetUser retrieves a user by chat ID
func (r *Repository) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User

	query := `
		SELECT id, username, first_name, last_name, tier, requests_left, target_credits,
		       awaiting_target, selected_target, custom_target, premium_expires,
		       last_action_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.FirstName, &user.LastName, &user.Tier,
		&user.RequestsLeft, &user.TargetCredits, &user.AwaitingTarget,
		&user.SelectedTarget, &user.CustomTarget, &user.PremiumExpires,
		&user.LastActionAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// EnsureUser creates the user on first contact or refreshes their identity
// fields. New users start on the free tier with the default quota.
func (r *Repository) EnsureUser(ctx context.Context, info models.UserInfo, freeQuota int) (*models.User, error) {
	query := `
		INSERT INTO users (id, username, first_name, last_name, tier, requests_left,
		                   target_credits, awaiting_target, selected_target, custom_target,
		                   last_action_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'free', $5, 0, FALSE, '1', FALSE, NOW(), NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query, info.ID, info.Username, info.FirstName, info.LastName, freeQuota)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	return r.GetUser(ctx, info.ID)
}

// ListUserIDs returns the IDs of all known users
func (r *Repository) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user IDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user ID: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListUsers returns all users
func (r *Repository) ListUsers(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT id, username, first_name, last_name, tier, requests_left, target_credits,
		       awaiting_target, selected_target, custom_target, premium_expires,
		       last_action_at, created_at, updated_at
		FROM users
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		err := rows.Scan(
			&user.ID, &user.Username, &user.FirstName, &user.LastName, &user.Tier,
			&user.RequestsLeft, &user.TargetCredits, &user.AwaitingTarget,
			&user.SelectedTarget, &user.CustomTarget, &user.PremiumExpires,
			&user.LastActionAt, &user.CreatedAt, &user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}

// ConsumeRequests atomically decrements requests_left by at most n, never
// below zero, and returns the remaining count. The decrement happens inside
// a single UPDATE so concurrent callers cannot lose each other's writes.
func (r *Repository) ConsumeRequests(ctx context.Context, userID int64, n int) (int, error) {
	query := `
		UPDATE users
		SET requests_left = GREATEST(0, requests_left - $2), updated_at = NOW()
		WHERE id = $1
		RETURNING requests_left
	`

	var remaining int
	err := r.db.Pool.QueryRow(ctx, query, userID, n).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to consume requests: %w", err)
	}

	return remaining, nil
}

// ConsumeTargetCredit atomically decrements target_credits by one, never
// below zero, and returns the remaining count
func (r *Repository) ConsumeTargetCredit(ctx context.Context, userID int64) (int, error) {
	query := `
		UPDATE users
		SET target_credits = GREATEST(0, target_credits - 1), updated_at = NOW()
		WHERE id = $1
		RETURNING target_credits
	`

	var remaining int
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to consume target credit: %w", err)
	}

	return remaining, nil
}

// SetEntitlement overwrites the user's tier, counters and premium expiration
func (r *Repository) SetEntitlement(ctx context.Context, userID int64, tier models.Tier, requests, targets int, expires *time.Time) error {
	query := `
		UPDATE users
		SET tier = $2, requests_left = $3, target_credits = $4, premium_expires = $5,
		    awaiting_target = CASE WHEN $2 = 'premium' THEN awaiting_target ELSE FALSE END,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, tier, requests, targets, expires)
	if err != nil {
		return fmt.Errorf("failed to set entitlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// AddEntitlement adds purchase increments to the user's counters and marks
// them premium with the given expiration
func (r *Repository) AddEntitlement(ctx context.Context, userID int64, requests, targets int, expires time.Time) error {
	query := `
		UPDATE users
		SET tier = 'premium',
		    requests_left = requests_left + $2,
		    target_credits = target_credits + $3,
		    premium_expires = $4,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, requests, targets, expires)
	if err != nil {
		return fmt.Errorf("failed to add entitlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SetAwaitingTarget flips the awaiting-target workflow flag
func (r *Repository) SetAwaitingTarget(ctx context.Context, userID int64, awaiting bool) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET awaiting_target = $2, updated_at = NOW() WHERE id = $1`,
		userID, awaiting,
	)
	if err != nil {
		return fmt.Errorf("failed to set awaiting target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SetSelectedTarget updates the active target and clears the awaiting flag
func (r *Repository) SetSelectedTarget(ctx context.Context, userID int64, target string, custom bool) error {
	query := `
		UPDATE users
		SET selected_target = $2, custom_target = $3, awaiting_target = FALSE, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, target, custom)
	if err != nil {
		return fmt.Errorf("failed to set selected target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// TouchLastAction stamps the rate-limit claim for the user. The stamp is
// written before the worker call begins so duplicate in-flight events for
// the same user fail the time gate.
func (r *Repository) TouchLastAction(ctx context.Context, userID int64, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET last_action_at = $2, updated_at = NOW() WHERE id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch last action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Premium purchases

// CreatePurchase appends one entitlement grant
func (r *Repository) CreatePurchase(ctx context.Context, purchase *models.PremiumPurchase) error {
	if purchase.ID == "" {
		purchase.ID = uuid.New().String()
	}

	query := `
		INSERT INTO premium_purchases (id, user_id, purchased_at, expires_at, request_increment, target_increment)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		purchase.ID, purchase.UserID, purchase.PurchasedAt, purchase.ExpiresAt,
		purchase.RequestIncrement, purchase.TargetIncrement,
	)
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	return nil
}

// ListValidPurchases returns the user's purchases that have not expired at the given time
func (r *Repository) ListValidPurchases(ctx context.Context, userID int64, now time.Time) ([]*models.PremiumPurchase, error) {
	query := `
		SELECT id, user_id, purchased_at, expires_at, request_increment, target_increment
		FROM premium_purchases
		WHERE user_id = $1 AND expires_at >= $2
		ORDER BY purchased_at
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*models.PremiumPurchase
	for rows.Next() {
		var p models.PremiumPurchase
		err := rows.Scan(&p.ID, &p.UserID, &p.PurchasedAt, &p.ExpiresAt, &p.RequestIncrement, &p.TargetIncrement)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, &p)
	}

	return purchases, rows.Err()
}

// DeleteExpiredPurchases removes purchases past their expiration
func (r *Repository) DeleteExpiredPurchases(ctx context.Context, userID int64, now time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM premium_purchases WHERE user_id = $1 AND expires_at < $2`,
		userID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to delete expired purchases: %w", err)
	}

	return nil
}

// DeletePurchases removes all purchases for a user
func (r *Repository) DeletePurchases(ctx context.Context, userID int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM premium_purchases WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete purchases: %w", err)
	}

	return nil
}

// Image actions

// CreateImageAction records an accepted input photo with pending output
func (r *Repository) CreateImageAction(ctx context.Context, action *models.ImageAction) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}

	query := `
		INSERT INTO image_actions (id, user_id, input_ref, output_refs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		action.ID, action.UserID, action.InputRef, action.OutputRefs,
	).Scan(&action.CreatedAt, &action.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create image action: %w", err)
	}

	return nil
}

// UpdateImageActionOutputs stores the full worker output list for an action
func (r *Repository) UpdateImageActionOutputs(ctx context.Context, actionID string, outputs []string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE image_actions SET output_refs = $2, updated_at = NOW() WHERE id = $1`,
		actionID, outputs,
	)
	if err != nil {
		return fmt.Errorf("failed to update image action outputs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// GetImageAction retrieves an image action by ID
func (r *Repository) GetImageAction(ctx context.Context, id string) (*models.ImageAction, error) {
	var action models.ImageAction

	query := `
		SELECT id, user_id, input_ref, output_refs, created_at, updated_at
		FROM image_actions
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&action.ID, &action.UserID, &action.InputRef, &action.OutputRefs,
		&action.CreatedAt, &action.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get image action: %w", err)
	}

	return &action, nil
}

// ListImageActionsBefore returns actions created before the cutoff
func (r *Repository) ListImageActionsBefore(ctx context.Context, cutoff time.Time) ([]*models.ImageAction, error) {
	query := `
		SELECT id, user_id, input_ref, output_refs, created_at, updated_at
		FROM image_actions
		WHERE created_at < $1
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list image actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.ImageAction
	for rows.Next() {
		var action models.ImageAction
		err := rows.Scan(&action.ID, &action.UserID, &action.InputRef, &action.OutputRefs,
			&action.CreatedAt, &action.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image action: %w", err)
		}
		actions = append(actions, &action)
	}

	return actions, rows.Err()
}

// DeleteImageActionsBefore removes actions created before the cutoff
func (r *Repository) DeleteImageActionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM image_actions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete image actions: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CountImageActions returns the number of recorded actions for a user
func (r *Repository) CountImageActions(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM image_actions WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count image actions: %w", err)
	}

	return count, nil
}

// Messages

// CreateMessage logs a text message from a user
func (r *Repository) CreateMessage(ctx context.Context, userID int64, text string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO messages (user_id, text, created_at) VALUES ($1, $2, NOW())`,
		userID, text,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// Job runs

// RecordJobRun logs one completed job sweep
func (r *Repository) RecordJobRun(ctx context.Context, jobName, status, details string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO job_runs (job_name, ran_at, status, details) VALUES ($1, NOW(), $2, $3)`,
		jobName, status, details,
	)
	if err != nil {
		return fmt.Errorf("failed to record job run: %w", err)
	}

	return nil
}

// GetLastJobRun returns the most recent run record for a job, or ErrNotFound
func (r *Repository) GetLastJobRun(ctx context.Context, jobName string) (*models.JobRun, error) {
	var run models.JobRun

	query := `
		SELECT id, job_name, ran_at, status, details
		FROM job_runs
		WHERE job_name = $1
		ORDER BY ran_at DESC
		LIMIT 1
	`

	err := r.db.Pool.QueryRow(ctx, query, jobName).Scan(
		&run.ID, &run.JobName, &run.RanAt, &run.Status, &run.Details,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get last job run: %w", err)
	}

	return &run, nil
}

// Error log

// RecordError logs an orchestration failure for later inspection
func (r *Repository) RecordError(ctx context.Context, userID int64, message, details string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO error_log (user_id, message, details, created_at) VALUES ($1, $2, $3, NOW())`,
		userID, message, details,
	)
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}

	return nil
}
