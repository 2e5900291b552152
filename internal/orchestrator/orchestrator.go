package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/faceswitch/faceswitch/internal/metrics"
	"github.com/faceswitch/faceswitch/pkg/models"
)

// Repository defines the persistence operations the orchestrator needs
type Repository interface {
	EnsureUser(ctx context.Context, info models.UserInfo, freeQuota int) (*models.User, error)
	TouchLastAction(ctx context.Context, userID int64, at time.Time) error
	CreateImageAction(ctx context.Context, action *models.ImageAction) error
	UpdateImageActionOutputs(ctx context.Context, actionID string, outputs []string) error
	RecordError(ctx context.Context, userID int64, message, details string) error
}

// Quota defines the ledger operations the orchestrator needs
type Quota interface {
	HasRequests(ctx context.Context, userID int64) (bool, error)
	ConsumeRequests(ctx context.Context, userID int64, n int) (int, error)
	ConsumeTargetCredit(ctx context.Context, userID int64) (int, error)
}

// Sessions defines the workflow-state operations the orchestrator needs
type Sessions interface {
	GateRemaining(user *models.User, now time.Time) time.Duration
	StoreTarget(ctx context.Context, userID int64, objectRef string) error
}

// Worker calls the external face-processing service
type Worker interface {
	Process(ctx context.Context, inputRef, mode string) ([]string, error)
}

// Replier sends outbound actions to the chat transport and fetches
// user-submitted files
type Replier interface {
	SendText(ctx context.Context, userID int64, text string) error
	SendPhoto(ctx context.Context, userID int64, photoRef string) error
	DownloadFile(ctx context.Context, fileRef string) ([]byte, error)
}

// ImageStore persists downloaded photos
type ImageStore interface {
	SaveInput(ctx context.Context, userID int64, data []byte) (string, error)
	SaveTarget(ctx context.Context, userID int64, data []byte) (string, error)
}

// Locker provides the per-user single-flight gate. The advisory rate-limit
// timestamp alone cannot stop two in-flight events that both read it before
// either writes; the lock closes that window.
type Locker interface {
	AcquireUserLock(ctx context.Context, userID int64, ttl time.Duration) (bool, error)
	ReleaseUserLock(ctx context.Context, userID int64) error
}

// Logger is the subset of the logging wrapper the orchestrator uses
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	ErrorWithErr(msg string, err error)
}

// User-facing reply texts. Quota, rate-limit and validation outcomes get a
// specific reason; worker failures get a generic retryable message.
const (
	msgOneAtATime    = "Please send one photo at a time."
	msgOutOfAttempts = "Sorry, you are out of attempts. Try again later"
	msgProcessing    = "Image received. Processing..."
	msgTargetStored  = "Target image uploaded, send your source image"
	msgDownloadFail  = "Failed to download image. Please try again"
	msgProcessFail   = "Failed to process image. Please try again"
)

// Orchestrator drives one accepted photo event end to end: validation,
// the external worker call, result delivery and quota reconciliation.
type Orchestrator struct {
	repo      Repository
	quota     Quota
	sessions  Sessions
	worker    Worker
	replier   Replier
	images    ImageStore
	locks     Locker
	log       Logger
	freeQuota int
	lockTTL   time.Duration
}

// New creates a request orchestrator
func New(repo Repository, quota Quota, sessions Sessions, worker Worker,
	replier Replier, images ImageStore, locks Locker, log Logger, freeQuota int) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		quota:     quota,
		sessions:  sessions,
		worker:    worker,
		replier:   replier,
		images:    images,
		locks:     locks,
		log:       log,
		freeQuota: freeQuota,
		lockTTL:   2 * time.Minute,
	}
}

// ProcessPhoto handles one queued photo event. Expected user-facing
// outcomes (quota exhausted, rate limited, duplicate in flight) resolve to
// a reply and a nil error; only infrastructure failures propagate.
func (o *Orchestrator) ProcessPhoto(ctx context.Context, event *models.PhotoEvent) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "orchestrator.ProcessPhoto")
	defer span.Finish()
	span.SetTag("user_id", event.User.ID)

	user, err := o.repo.EnsureUser(ctx, event.User, o.freeQuota)
	if err != nil {
		return fmt.Errorf("failed to ensure user %d: %w", event.User.ID, err)
	}

	// Single-flight per user: a duplicate event racing this one is turned
	// away before any state is touched.
	acquired, err := o.locks.AcquireUserLock(ctx, user.ID, o.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire user lock: %w", err)
	}
	if !acquired {
		metrics.PhotosRejectedTotal.WithLabelValues("inflight").Inc()
		return o.replier.SendText(ctx, user.ID, msgOneAtATime)
	}
	defer func() {
		if err := o.locks.ReleaseUserLock(context.WithoutCancel(ctx), user.ID); err != nil {
			o.log.ErrorWithErr("failed to release user lock", err)
		}
	}()

	hasQuota, err := o.quota.HasRequests(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to check quota: %w", err)
	}
	if !hasQuota {
		metrics.PhotosRejectedTotal.WithLabelValues("quota").Inc()
		o.log.Debugf("user %d out of attempts", user.ID)
		return o.replier.SendText(ctx, user.ID, msgOutOfAttempts)
	}

	now := time.Now()
	if remaining := o.sessions.GateRemaining(user, now); remaining > 0 {
		metrics.PhotosRejectedTotal.WithLabelValues("gate").Inc()
		text := fmt.Sprintf("Sorry, too many requests. Please wait %d more seconds",
			int(remaining.Seconds())+1)
		return o.replier.SendText(ctx, user.ID, text)
	}

	// Claim the rate-limit window before the external call begins
	if err := o.repo.TouchLastAction(ctx, user.ID, now); err != nil {
		return fmt.Errorf("failed to claim rate-limit window: %w", err)
	}

	data, err := o.replier.DownloadFile(ctx, event.PhotoRef)
	if err != nil {
		metrics.PhotosProcessedTotal.WithLabelValues("download_error").Inc()
		o.log.ErrorWithErr("failed to download photo", err)
		o.recordError(ctx, user.ID, "photo download failed", err)
		return o.replier.SendText(ctx, user.ID, msgDownloadFail)
	}

	if err := o.replier.SendText(ctx, user.ID, msgProcessing); err != nil {
		o.log.ErrorWithErr("failed to send processing notice", err)
	}

	if user.AwaitingTarget {
		return o.storeTarget(ctx, user, data)
	}

	return o.processSource(ctx, user, data)
}

// storeTarget handles the awaiting-target branch: the photo becomes the new
// custom target, no quota is consumed and no worker call is made.
func (o *Orchestrator) storeTarget(ctx context.Context, user *models.User, data []byte) error {
	targetRef, err := o.images.SaveTarget(ctx, user.ID, data)
	if err != nil {
		o.recordError(ctx, user.ID, "target store failed", err)
		return o.replier.SendText(ctx, user.ID, msgDownloadFail)
	}

	action := &models.ImageAction{UserID: user.ID, InputRef: targetRef}
	if err := o.repo.CreateImageAction(ctx, action); err != nil {
		return fmt.Errorf("failed to record target upload: %w", err)
	}

	if err := o.sessions.StoreTarget(ctx, user.ID, targetRef); err != nil {
		return fmt.Errorf("failed to activate target: %w", err)
	}

	o.log.Infof("user %d uploaded custom target %s", user.ID, targetRef)
	return o.replier.SendText(ctx, user.ID, msgTargetStored)
}

// processSource runs the worker call and delivers outputs, re-checking
// quota before each send and consuming only what was actually delivered.
func (o *Orchestrator) processSource(ctx context.Context, user *models.User, data []byte) error {
	inputRef, err := o.images.SaveInput(ctx, user.ID, data)
	if err != nil {
		o.recordError(ctx, user.ID, "input store failed", err)
		return o.replier.SendText(ctx, user.ID, msgDownloadFail)
	}

	action := &models.ImageAction{UserID: user.ID, InputRef: inputRef}
	if err := o.repo.CreateImageAction(ctx, action); err != nil {
		return fmt.Errorf("failed to record image action: %w", err)
	}

	start := time.Now()
	outputs, err := o.worker.Process(ctx, inputRef, user.SelectedTarget)
	metrics.WorkerCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// Failed and timed-out calls are equivalent: no quota consumed, the
		// action keeps its empty output list as an audit trail.
		status := "worker_error"
		if isTimeout(err) {
			status = "timeout"
		}
		metrics.PhotosProcessedTotal.WithLabelValues(status).Inc()
		o.log.ErrorWithErr("worker call failed", err)
		o.recordError(ctx, user.ID, "worker call failed", err)
		return o.replier.SendText(ctx, user.ID, msgProcessFail)
	}

	before := user.RequestsLeft
	sent := 0
	for _, outputRef := range outputs {
		// Each delivered output costs one request. The snapshot bounds this
		// request's own spend; quota is only decremented after the loop, so
		// the persisted counter cannot do that.
		if sent >= before {
			break
		}

		// A concurrent request may have drained the counter since the last
		// check; stop early but keep what was already permitted.
		hasQuota, err := o.quota.HasRequests(ctx, user.ID)
		if err != nil {
			o.log.ErrorWithErr("failed to re-check quota", err)
			break
		}
		if !hasQuota {
			break
		}

		if err := o.replier.SendPhoto(ctx, user.ID, outputRef); err != nil {
			o.log.ErrorWithErr("failed to deliver output", err)
			break
		}
		sent++
		metrics.OutputsDeliveredTotal.Inc()
	}

	// The stored record keeps the full worker output for auditing even when
	// quota cut the delivery short
	if err := o.repo.UpdateImageActionOutputs(ctx, action.ID, outputs); err != nil {
		o.log.ErrorWithErr("failed to store outputs", err)
	}

	if _, err := o.quota.ConsumeRequests(ctx, user.ID, sent); err != nil {
		return fmt.Errorf("failed to consume quota: %w", err)
	}

	if user.CustomTarget && sent > 0 {
		if _, err := o.quota.ConsumeTargetCredit(ctx, user.ID); err != nil {
			o.log.ErrorWithErr("failed to consume target credit", err)
		}
	}

	metrics.PhotosProcessedTotal.WithLabelValues("success").Inc()

	return o.replier.SendText(ctx, user.ID, fmt.Sprintf("You have %d attempts left", before-sent))
}

func (o *Orchestrator) recordError(ctx context.Context, userID int64, message string, cause error) {
	if err := o.repo.RecordError(ctx, userID, message, cause.Error()); err != nil {
		o.log.ErrorWithErr("failed to record error", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
