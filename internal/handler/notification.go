package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/notification"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

// NotificationHandler serves the in-app inbox and the live alert stream
type NotificationHandler struct {
	inbox  *notification.Inbox
	hub    *notification.Hub
	logger *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(inbox *notification.Inbox, hub *notification.Hub, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		inbox:  inbox,
		hub:    hub,
		logger: logger,
	}
}

// ListNotifications returns the caller's notifications, optionally unread only
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	unreadOnly := false
	if raw := c.Query("unread"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, h.logger, "Invalid query", model.NewValidationError("unread", "unread must be a boolean"))
			return
		}
		unreadOnly = parsed
	}

	list := h.inbox.List(callerID(c), unreadOnly)
	if list == nil {
		list = []model.Notification{}
	}

	c.Header("X-Unread-Count", strconv.Itoa(h.inbox.UnreadCount(callerID(c))))
	c.JSON(http.StatusOK, list)
}

// MarkRead marks one notification read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.inbox.MarkRead(callerID(c), c.Param("id")); err != nil {
		respondError(c, h.logger, "Failed to mark notification read", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stream upgrades to a websocket and pushes the caller's alerts as they are dispatched
func (h *NotificationHandler) Stream(c *gin.Context) {
	userID := callerID(c)
	if err := h.hub.ServeWS(c.Writer, c.Request, userID); err != nil {
		// The upgrader has already written the failure response
		h.logger.Warn("websocket upgrade failed",
			zap.Error(err),
			zap.String("user_id", userID),
		)
	}
}
