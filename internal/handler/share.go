package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/service"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

// HeaderShareToken carries a provider's share access token
const HeaderShareToken = "X-Share-Token"

// ShareHandler implements data sharing API endpoints
type ShareHandler struct {
	service *service.SharingService
	logger  *zap.Logger
}

// NewShareHandler creates a new ShareHandler
func NewShareHandler(service *service.SharingService, logger *zap.Logger) *ShareHandler {
	return &ShareHandler{
		service: service,
		logger:  logger,
	}
}

// CreateShare grants a provider access to the caller's measurements.
// The response is the only place the access token appears.
func (h *ShareHandler) CreateShare(c *gin.Context) {
	var req api.CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	userID := callerID(c)
	var (
		grant *service.ShareGrant
		err   error
	)
	if req.EndDate != nil {
		if req.DurationDays != nil {
			respondError(c, h.logger, "Invalid share window",
				model.NewValidationError("end_date", "end_date and duration_days are mutually exclusive"))
			return
		}
		end := endOfDay(*req.EndDate)
		grant, err = h.service.CreateShare(c.Request.Context(), service.CreateShareInput{
			UserID:          userID,
			ProviderAddress: string(req.ProviderAddress),
			DataTypes:       req.DataTypes,
			AccessLevel:     model.AccessReadOnly,
			StartDate:       time.Now().UTC(),
			EndDate:         &end,
		})
	} else {
		days := 0
		if req.DurationDays != nil {
			days = *req.DurationDays
			if days == 0 {
				respondError(c, h.logger, "Invalid share window",
					model.NewValidationError("duration_days", "duration must be positive"))
				return
			}
		}
		grant, err = h.service.CreateDataShare(c.Request.Context(), userID, string(req.ProviderAddress), req.DataTypes, days)
	}
	if err != nil {
		respondError(c, h.logger, "Failed to create data share", err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

// ListShares returns the caller's shares
func (h *ShareHandler) ListShares(c *gin.Context) {
	shares, err := h.service.ListShares(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to list data shares", err)
		return
	}
	if shares == nil {
		shares = []model.DataShare{}
	}

	c.JSON(http.StatusOK, shares)
}

// RevokeShare deactivates one of the caller's shares
func (h *ShareHandler) RevokeShare(c *gin.Context) {
	share, err := h.service.Revoke(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to revoke data share", err)
		return
	}

	c.JSON(http.StatusOK, share)
}

// AccessSharedMeasurements serves a provider holding a share token
func (h *ShareHandler) AccessSharedMeasurements(c *gin.Context) {
	q, err := measurementQuery(c)
	if err != nil {
		respondError(c, h.logger, "Invalid query", err)
		return
	}

	token := strings.TrimSpace(c.GetHeader(HeaderShareToken))
	share, points, err := h.service.AccessSharedMeasurements(c.Request.Context(), token, q)
	if err != nil {
		respondError(c, h.logger, "Shared data is not available", err)
		return
	}
	if points == nil {
		points = []model.MeasurementPoint{}
	}

	c.JSON(http.StatusOK, api.SharedMeasurementsResponse{
		Share:        share,
		Measurements: points,
	})
}
