package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/service"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

// AlertHandler implements alert API endpoints
type AlertHandler struct {
	alerts     *service.AlertService
	monitoring *service.MonitoringService
	logger     *zap.Logger
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(alerts *service.AlertService, monitoring *service.MonitoringService, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{
		alerts:     alerts,
		monitoring: monitoring,
		logger:     logger,
	}
}

// ListActiveAlerts returns the caller's unacknowledged alerts
func (h *AlertHandler) ListActiveAlerts(c *gin.Context) {
	alerts, err := h.alerts.ListUnacknowledged(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}

	c.JSON(http.StatusOK, alerts)
}

// ListSessionAlerts returns the unacknowledged alerts of one session
func (h *AlertHandler) ListSessionAlerts(c *gin.Context) {
	session, err := h.monitoring.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get monitoring session", err)
		return
	}
	if err := service.AuthorizeSession(session, callerID(c)); err != nil {
		respondError(c, h.logger, "Not allowed to access this session", err)
		return
	}

	alerts, err := h.alerts.ListForSession(c.Request.Context(), session.ID)
	if err != nil {
		respondError(c, h.logger, "Failed to list session alerts", err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}

	c.JSON(http.StatusOK, alerts)
}

// CreateAlert raises a manual alert for the caller
func (h *AlertHandler) CreateAlert(c *gin.Context) {
	var req api.CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	userID := callerID(c)
	sessionID := uuidPtrToString(req.SessionId)
	if sessionID != nil {
		session, err := h.monitoring.GetSession(c.Request.Context(), *sessionID)
		if err != nil {
			respondError(c, h.logger, "Failed to get monitoring session", err)
			return
		}
		if session.UserID != userID {
			respondError(c, h.logger, "Not allowed to raise alerts for this session", model.ErrForbidden)
			return
		}
	}

	alert, err := h.alerts.CreateAlert(c.Request.Context(), service.NewAlert{
		UserID:    userID,
		SessionID: sessionID,
		Type:      model.AlertTypeManual,
		Severity:  model.Severity(req.Severity),
		Title:     req.Title,
		Message:   req.Message,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to create alert", err)
		return
	}

	h.logger.Info("manual alert created",
		zap.String("alert_id", alert.ID),
		zap.String("user_id", userID),
		zap.String("severity", string(alert.Severity)),
	)

	c.JSON(http.StatusCreated, alert)
}

// AcknowledgeAlert marks an alert as seen by the caller
func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	alert, ok := h.authorizedAlert(c)
	if !ok {
		return
	}

	acknowledged, err := h.alerts.Acknowledge(c.Request.Context(), alert.ID, callerID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to acknowledge alert", err)
		return
	}

	c.JSON(http.StatusOK, acknowledged)
}

// ResolveAlert marks an alert as resolved
func (h *AlertHandler) ResolveAlert(c *gin.Context) {
	alert, ok := h.authorizedAlert(c)
	if !ok {
		return
	}

	resolved, err := h.alerts.Resolve(c.Request.Context(), alert.ID, callerID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to resolve alert", err)
		return
	}

	c.JSON(http.StatusOK, resolved)
}

// authorizedAlert loads the :id alert. The alert's user may act on it, and so
// may the provider assigned to the session that raised it.
func (h *AlertHandler) authorizedAlert(c *gin.Context) (*model.Alert, bool) {
	alert, err := h.alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get alert", err)
		return nil, false
	}

	caller := callerID(c)
	if alert.UserID == caller {
		return alert, true
	}

	if alert.SessionID != nil {
		session, err := h.monitoring.GetSession(c.Request.Context(), *alert.SessionID)
		if err == nil && service.AuthorizeSession(session, caller) == nil {
			return alert, true
		}
	}

	respondError(c, h.logger, "Not allowed to access this alert", model.ErrForbidden)
	return nil, false
}
