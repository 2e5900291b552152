package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/faceswitch/faceswitch/internal/analytics"
	"github.com/faceswitch/faceswitch/internal/logging"
	"github.com/faceswitch/faceswitch/internal/scheduler"
	"github.com/faceswitch/faceswitch/pkg/models"
)

// EventHandlers maps inbound chat events to reply actions
type EventHandlers interface {
	HandleText(ctx context.Context, info models.UserInfo, text string) ([]models.Reply, error)
	HandlePhoto(ctx context.Context, info models.UserInfo, photoRef string, grouped bool) ([]models.Reply, error)
	HandleCommand(ctx context.Context, info models.UserInfo, command string) ([]models.Reply, error)
	HandleButton(ctx context.Context, info models.UserInfo, data string) ([]models.Reply, error)
	HandleUnsupported(ctx context.Context, info models.UserInfo) ([]models.Reply, error)
}

// ReplySender delivers reply actions to the chat transport
type ReplySender interface {
	SendReplies(ctx context.Context, userID int64, replies []models.Reply) error
}

// UserLister is the admin API's view of the repository
type UserLister interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// StatsProvider aggregates usage statistics for the admin API
type StatsProvider interface {
	UsageStats(ctx context.Context, reconcileJobName string) (*analytics.Stats, error)
}

// Gateway terminates the chat transport webhook and the admin API
type Gateway struct {
	handlers EventHandlers
	sender   ReplySender
	users    UserLister
	stats    StatsProvider
	log      *logging.Logger
}

// inboundEvent is the webhook payload delivered by the chat transport
type inboundEvent struct {
	Type     string          `json:"type" binding:"required"`
	User     models.UserInfo `json:"user"`
	Text     string          `json:"text"`
	Command  string          `json:"command"`
	Data     string          `json:"data"`
	PhotoRef string          `json:"photo_ref"`
	Grouped  bool            `json:"grouped"`
}

// handleWebhook dispatches one inbound chat event and sends back the
// resulting replies
func (g *Gateway) handleWebhook(c *gin.Context) {
	var event inboundEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
		return
	}
	if event.User.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}

	ctx := c.Request.Context()

	var replies []models.Reply
	var err error

	switch event.Type {
	case "text":
		replies, err = g.handlers.HandleText(ctx, event.User, event.Text)
	case "photo":
		replies, err = g.handlers.HandlePhoto(ctx, event.User, event.PhotoRef, event.Grouped)
	case "command":
		replies, err = g.handlers.HandleCommand(ctx, event.User, event.Command)
	case "button":
		replies, err = g.handlers.HandleButton(ctx, event.User, event.Data)
	default:
		replies, err = g.handlers.HandleUnsupported(ctx, event.User)
	}

	if err != nil {
		g.log.WithUserID(event.User.ID).ErrorWithErr("failed to handle event", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to handle event"})
		return
	}

	if len(replies) > 0 {
		if err := g.sender.SendReplies(ctx, event.User.ID, replies); err != nil {
			g.log.WithUserID(event.User.ID).ErrorWithErr("failed to send replies", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to deliver replies"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listUsers returns every user with their quota standing
func (g *Gateway) listUsers(c *gin.Context) {
	users, err := g.users.ListUsers(c.Request.Context())
	if err != nil {
		g.log.ErrorWithErr("failed to list users", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// usageStats returns the aggregated usage summary
func (g *Gateway) usageStats(c *gin.Context) {
	stats, err := g.stats.UsageStats(c.Request.Context(), scheduler.ReconcileJobName)
	if err != nil {
		g.log.ErrorWithErr("failed to build usage stats", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build usage stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// healthCheck reports service liveness
func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
