package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faceswitch/faceswitch/internal/config"
	"github.com/faceswitch/faceswitch/internal/logging"
	"github.com/faceswitch/faceswitch/internal/metrics"
	"github.com/faceswitch/faceswitch/internal/session"
	"github.com/faceswitch/faceswitch/pkg/models"
)

// Repository defines the persistence operations the handlers need
type Repository interface {
	EnsureUser(ctx context.Context, info models.UserInfo, freeQuota int) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	CreateMessage(ctx context.Context, userID int64, text string) error
}

// Entitlements defines the quota ledger operations the handlers need
type Entitlements interface {
	GrantPremium(ctx context.Context, userID int64) (*models.User, error)
	ResetFreeQuota(ctx context.Context, userID int64) error
}

// Sessions defines the workflow-state operations the handlers need
type Sessions interface {
	AllowSubmission(ctx context.Context, userID int64, grouped bool, at time.Time) (bool, error)
	RequestTargetUpload(ctx context.Context, user *models.User) error
	SelectPreset(ctx context.Context, userID int64, presetID string) error
}

// Publisher hands accepted photo events to the processing worker
type Publisher interface {
	PublishPhotoEvent(ctx context.Context, event *models.PhotoEvent) error
}

// Notifier delivers out-of-band messages, e.g. support requests to the
// administrator
type Notifier interface {
	SendText(ctx context.Context, userID int64, text string) error
}

const (
	msgWelcome = "Welcome! Send me a photo of a person and I will return their face."
	msgHelp    = "This bot can only process photos that have people on it. Here are the available commands:\n" +
		"/start - Start the bot\n" +
		"/help - Display this help message\n" +
		"/status - Check your account limits\n" +
		"/pictures - Select a target picture\n" +
		"/targets - Show the target catalog\n" +
		"/new_targets - Upload a custom target (premium)\n" +
		"/reset_limit - Reset your image limit to 10\n" +
		"/buy_premium - Add 100 images and set account to premium\n" +
		"/contacts - Show contacts list\n" +
		"/support - Send a support request\n" +
		"/donate - Support me\n" +
		"Send me a photo, and I'll process it!"
	msgTextOnly = "I'm currently set up to process photos only. " +
		"Please send me a photo of a person, and I will return their face."
	msgUnsupported = "Sorry, I can't handle this type of content.\n" +
		"Please send me a photo from your gallery, and I will return the face of a person on it."
	msgOneAtATime    = "Please send one photo at a time."
	msgAwaitTarget   = "Changing set to receiving a new target.\nSend target image."
	msgPremiumNeeded = "You need to be a premium user for that. Use /buy_premium function"
	msgSupportSent   = "Request has been sent to the administrator. You'll be contacted. Probably"
	msgChooseTarget  = "Choose your target image:"
)

// Handlers maps inbound chat events to state transitions and reply actions.
// Each handler returns the replies to deliver; it never talks to the chat
// transport itself, which keeps the dispatch table testable.
type Handlers struct {
	repo     Repository
	ledger   Entitlements
	sessions Sessions
	photos   Publisher
	notify   Notifier
	cfg      config.BotConfig
	log      *logging.Logger

	commands map[string]func(ctx context.Context, user *models.User) ([]models.Reply, error)
}

// New creates the handler set and its command dispatch table
func New(repo Repository, ledger Entitlements, sessions Sessions, photos Publisher,
	notify Notifier, cfg config.BotConfig, log *logging.Logger) *Handlers {
	h := &Handlers{
		repo:     repo,
		ledger:   ledger,
		sessions: sessions,
		photos:   photos,
		notify:   notify,
		cfg:      cfg,
		log:      log,
	}

	h.commands = map[string]func(ctx context.Context, user *models.User) ([]models.Reply, error){
		"start":       h.cmdStart,
		"help":        h.cmdHelp,
		"status":      h.cmdStatus,
		"pictures":    h.cmdPictures,
		"targets":     h.cmdTargets,
		"new_targets": h.cmdNewTargets,
		"buy_premium": h.cmdBuyPremium,
		"reset_limit": h.cmdResetLimit,
		"donate":      h.cmdDonate,
		"contacts":    h.cmdContacts,
		"support":     h.cmdSupport,
		"show_users":  h.cmdShowUsers,
	}

	return h
}

// HandleText logs a plain text message and points the user at photos
func (h *Handlers) HandleText(ctx context.Context, info models.UserInfo, text string) ([]models.Reply, error) {
	user, err := h.repo.EnsureUser(ctx, info, h.cfg.FreeQuota)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	if err := h.repo.CreateMessage(ctx, user.ID, text); err != nil {
		h.log.WithUserID(user.ID).ErrorWithErr("failed to log message", err)
	}

	return []models.Reply{models.TextReply(msgTextOnly)}, nil
}

// HandleUnsupported replies to content the pipeline cannot process
func (h *Handlers) HandleUnsupported(_ context.Context, _ models.UserInfo) ([]models.Reply, error) {
	return []models.Reply{models.TextReply(msgUnsupported)}, nil
}

// HandlePhoto runs the submission checks on an inbound photo and, when it is
// accepted, queues it for the processing worker. The acceptance decision is
// made here so a rejected photo never crosses the queue.
func (h *Handlers) HandlePhoto(ctx context.Context, info models.UserInfo, photoRef string, grouped bool) ([]models.Reply, error) {
	user, err := h.repo.EnsureUser(ctx, info, h.cfg.FreeQuota)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	metrics.PhotosReceivedTotal.Inc()

	allowed, err := h.sessions.AllowSubmission(ctx, user.ID, grouped, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to check submission: %w", err)
	}
	if !allowed {
		reason := "delay"
		if grouped {
			reason = "grouped"
		}
		metrics.PhotosRejectedTotal.WithLabelValues(reason).Inc()
		return []models.Reply{models.TextReply(msgOneAtATime)}, nil
	}

	event := &models.PhotoEvent{
		EventID:    uuid.New().String(),
		User:       info,
		PhotoRef:   photoRef,
		Grouped:    grouped,
		ReceivedAt: time.Now(),
	}
	if err := h.photos.PublishPhotoEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to queue photo event: %w", err)
	}

	h.log.WithUserID(user.ID).WithEventID(event.EventID).Debug("photo event queued")
	return nil, nil
}

// HandleCommand dispatches a chat command to its handler. Unknown commands
// get the help text.
func (h *Handlers) HandleCommand(ctx context.Context, info models.UserInfo, command string) ([]models.Reply, error) {
	user, err := h.repo.EnsureUser(ctx, info, h.cfg.FreeQuota)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	handler, ok := h.commands[strings.TrimPrefix(command, "/")]
	if !ok {
		return []models.Reply{models.TextReply(msgHelp)}, nil
	}

	return handler(ctx, user)
}

// HandleButton applies a target preset selection
func (h *Handlers) HandleButton(ctx context.Context, info models.UserInfo, data string) ([]models.Reply, error) {
	user, err := h.repo.EnsureUser(ctx, info, h.cfg.FreeQuota)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	name, ok := PresetName(data)
	if !ok {
		return []models.Reply{models.TextReply(msgUnsupported)}, nil
	}

	if err := h.sessions.SelectPreset(ctx, user.ID, data); err != nil {
		return nil, fmt.Errorf("failed to select preset: %w", err)
	}

	text := fmt.Sprintf("Target image is %s\nSend me a photo, and I'll process it!", name)
	return []models.Reply{models.TextReply(text)}, nil
}

func (h *Handlers) cmdStart(ctx context.Context, user *models.User) ([]models.Reply, error) {
	replies := []models.Reply{models.TextReply(msgWelcome)}

	pictures, err := h.cmdPictures(ctx, user)
	if err != nil {
		return nil, err
	}

	return append(replies, pictures...), nil
}

func (h *Handlers) cmdHelp(_ context.Context, _ *models.User) ([]models.Reply, error) {
	return []models.Reply{models.TextReply(msgHelp)}, nil
}

func (h *Handlers) cmdStatus(_ context.Context, user *models.User) ([]models.Reply, error) {
	text := fmt.Sprintf("You have a %s account\nYou have %d attempts left",
		user.Tier, user.RequestsLeft)
	return []models.Reply{models.TextReply(text)}, nil
}

func (h *Handlers) cmdPictures(_ context.Context, _ *models.User) ([]models.Reply, error) {
	return []models.Reply{
		models.KeyboardReply(msgChooseTarget, PresetOptions()),
		models.PhotoReply(h.cfg.CollageRef),
	}, nil
}

func (h *Handlers) cmdTargets(_ context.Context, _ *models.User) ([]models.Reply, error) {
	return []models.Reply{models.PhotoReply(h.cfg.CollageRef)}, nil
}

func (h *Handlers) cmdNewTargets(ctx context.Context, user *models.User) ([]models.Reply, error) {
	err := h.sessions.RequestTargetUpload(ctx, user)
	if errors.Is(err, session.ErrNotPremium) {
		return []models.Reply{models.TextReply(msgPremiumNeeded)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to request target upload: %w", err)
	}

	return []models.Reply{models.TextReply(msgAwaitTarget)}, nil
}

func (h *Handlers) cmdBuyPremium(ctx context.Context, user *models.User) ([]models.Reply, error) {
	updated, err := h.ledger.GrantPremium(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to grant premium: %w", err)
	}
	metrics.PremiumPurchasesTotal.Inc()

	text := fmt.Sprintf("Congratulations! You got premium status!\nYou have %d attempts left",
		updated.RequestsLeft)
	return []models.Reply{models.TextReply(text)}, nil
}

func (h *Handlers) cmdResetLimit(ctx context.Context, user *models.User) ([]models.Reply, error) {
	if err := h.ledger.ResetFreeQuota(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to reset quota: %w", err)
	}
	metrics.QuotaResetsTotal.Inc()

	text := fmt.Sprintf("You have %d attempts left", h.cfg.FreeQuota)
	return []models.Reply{models.TextReply(text)}, nil
}

func (h *Handlers) cmdDonate(_ context.Context, _ *models.User) ([]models.Reply, error) {
	return []models.Reply{
		models.TextReply("Support me with BTC:"),
		models.TextReply(h.cfg.DonateAddress),
	}, nil
}

func (h *Handlers) cmdContacts(_ context.Context, _ *models.User) ([]models.Reply, error) {
	text := fmt.Sprintf("Reach me out through:\nTelegram: @%s\nGithub: %s",
		h.cfg.ContactTelegram, h.cfg.ContactGithub)
	return []models.Reply{models.TextReply(text)}, nil
}

func (h *Handlers) cmdSupport(ctx context.Context, user *models.User) ([]models.Reply, error) {
	note := fmt.Sprintf("User %d @%s %s %s requires help",
		user.ID, user.Username, user.FirstName, user.LastName)
	if err := h.notify.SendText(ctx, h.cfg.AdminUserID, note); err != nil {
		return nil, fmt.Errorf("failed to notify administrator: %w", err)
	}

	return []models.Reply{models.TextReply(msgSupportSent)}, nil
}

// cmdShowUsers is the admin/debug surface; non-admin callers get the help
// text as if the command did not exist
func (h *Handlers) cmdShowUsers(ctx context.Context, user *models.User) ([]models.Reply, error) {
	if user.ID != h.cfg.AdminUserID {
		return []models.Reply{models.TextReply(msgHelp)}, nil
	}

	users, err := h.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d users\n", len(users))
	for _, u := range users {
		fmt.Fprintf(&b, "%d @%s %s: requests=%d targets=%d\n",
			u.ID, u.Username, u.Tier, u.RequestsLeft, u.TargetCredits)
	}

	return []models.Reply{models.TextReply(b.String())}, nil
}
