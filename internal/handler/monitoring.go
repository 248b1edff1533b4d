package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/service"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

// MonitoringHandler implements session and measurement API endpoints
type MonitoringHandler struct {
	service *service.MonitoringService
	logger  *zap.Logger
}

// NewMonitoringHandler creates a new MonitoringHandler
func NewMonitoringHandler(service *service.MonitoringService, logger *zap.Logger) *MonitoringHandler {
	return &MonitoringHandler{
		service: service,
		logger:  logger,
	}
}

// CreateSession starts a monitoring session for the caller
func (h *MonitoringHandler) CreateSession(c *gin.Context) {
	var req api.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	userID := callerID(c)
	session, err := h.service.CreateSession(c.Request.Context(), service.CreateSessionInput{
		UserID:     userID,
		Type:       model.SessionType(req.SessionType),
		ProviderID: req.ProviderId,
		Notes:      req.Notes,
		Parameters: req.Parameters,
		Thresholds: req.AlertThresholds,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to create monitoring session", err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// ListSessions returns the caller's sessions
func (h *MonitoringHandler) ListSessions(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to list monitoring sessions", err)
		return
	}
	if sessions == nil {
		sessions = []model.MonitoringSession{}
	}

	c.JSON(http.StatusOK, sessions)
}

// GetActiveSession returns the caller's active session
func (h *MonitoringHandler) GetActiveSession(c *gin.Context) {
	userID := callerID(c)
	session, err := h.service.GetActiveSession(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "Failed to get active session", err)
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Code:    api.CodeNotFound,
			Message: "No active monitoring session",
		})
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetSession returns one session the caller owns or provides for
func (h *MonitoringHandler) GetSession(c *gin.Context) {
	session, ok := h.authorizedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session)
}

// UpdateThresholds replaces a session's alert thresholds
func (h *MonitoringHandler) UpdateThresholds(c *gin.Context) {
	var req api.UpdateThresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	session, ok := h.authorizedSession(c)
	if !ok {
		return
	}

	updated, err := h.service.UpdateThresholds(c.Request.Context(), session.ID, req.AlertThresholds)
	if err != nil {
		respondError(c, h.logger, "Failed to update thresholds", err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// PauseSession pauses an active session
func (h *MonitoringHandler) PauseSession(c *gin.Context) {
	h.transition(c, "Failed to pause session", h.service.PauseSession)
}

// ResumeSession reactivates a paused session
func (h *MonitoringHandler) ResumeSession(c *gin.Context) {
	h.transition(c, "Failed to resume session", h.service.ResumeSession)
}

// EndSession completes a session
func (h *MonitoringHandler) EndSession(c *gin.Context) {
	h.transition(c, "Failed to end session", h.service.EndSession)
}

func (h *MonitoringHandler) transition(
	c *gin.Context,
	failure string,
	apply func(ctx context.Context, sessionID string) (*model.MonitoringSession, error),
) {
	session, ok := h.authorizedSession(c)
	if !ok {
		return
	}

	updated, err := apply(c.Request.Context(), session.ID)
	if err != nil {
		respondError(c, h.logger, failure, err)
		return
	}

	h.logger.Info("monitoring session transitioned",
		zap.String("session_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("caller_id", callerID(c)),
	)

	c.JSON(http.StatusOK, updated)
}

// IngestMeasurement records a reading for the caller
func (h *MonitoringHandler) IngestMeasurement(c *gin.Context) {
	var req api.IngestMeasurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	value, err := model.ParseValue(req.Value)
	if err != nil {
		respondError(c, h.logger, "Invalid measurement value", model.NewValidationError("value", "%s", err.Error()))
		return
	}

	measuredAt := time.Now().UTC()
	if req.MeasuredAt != nil {
		measuredAt = *req.MeasuredAt
	}

	result, err := h.service.Ingest(c.Request.Context(), service.IngestInput{
		UserID:       callerID(c),
		SessionID:    uuidPtrToString(req.SessionId),
		DataType:     req.DataType,
		Value:        value,
		Unit:         req.Unit,
		DeviceSource: req.DeviceSource,
		MeasuredAt:   measuredAt,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to record measurement", err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ListMeasurements returns the caller's measurements across sessions
func (h *MonitoringHandler) ListMeasurements(c *gin.Context) {
	q, err := measurementQuery(c)
	if err != nil {
		respondError(c, h.logger, "Invalid query", err)
		return
	}

	points, err := h.service.QueryMeasurements(c.Request.Context(), callerID(c), q)
	if err != nil {
		respondError(c, h.logger, "Failed to list measurements", err)
		return
	}
	if points == nil {
		points = []model.MeasurementPoint{}
	}

	c.JSON(http.StatusOK, points)
}

// ListSessionMeasurements returns one session's measurements
func (h *MonitoringHandler) ListSessionMeasurements(c *gin.Context) {
	q, err := measurementQuery(c)
	if err != nil {
		respondError(c, h.logger, "Invalid query", err)
		return
	}

	session, ok := h.authorizedSession(c)
	if !ok {
		return
	}

	points, err := h.service.ListMeasurements(c.Request.Context(), session.ID, q)
	if err != nil {
		respondError(c, h.logger, "Failed to list measurements", err)
		return
	}
	if points == nil {
		points = []model.MeasurementPoint{}
	}

	c.JSON(http.StatusOK, points)
}

// authorizedSession loads the :id session and checks the caller may see it.
// It writes the error response itself and reports false on failure.
func (h *MonitoringHandler) authorizedSession(c *gin.Context) (*model.MonitoringSession, bool) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get monitoring session", err)
		return nil, false
	}
	if err := service.AuthorizeSession(session, callerID(c)); err != nil {
		respondError(c, h.logger, "Not allowed to access this session", err)
		return nil, false
	}
	return session, true
}
