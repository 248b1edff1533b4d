package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/middleware"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/service"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"
)

// Helper functions for type conversions between API types and internal models

// stringPtr creates a pointer to a string
func stringPtr(s string) *string {
	return &s
}

// uuidToString converts types.UUID to string
func uuidToString(u types.UUID) string {
	return uuid.UUID(u).String()
}

// uuidPtrToString converts an optional types.UUID to an optional string
func uuidPtrToString(u *types.UUID) *string {
	if u == nil {
		return nil
	}
	s := uuidToString(*u)
	return &s
}

// endOfDay returns the last instant of a calendar date in UTC, so a date used as
// the end of a window includes that whole day
func endOfDay(d types.Date) time.Time {
	y, m, day := d.Time.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// respondError maps a service error onto the API error contract.
// Only unexpected failures are logged here; services log their own storage errors.
func respondError(c *gin.Context, logger *zap.Logger, message string, err error) {
	status, code := http.StatusInternalServerError, api.CodeInternal
	switch {
	case model.IsValidation(err):
		status, code = http.StatusBadRequest, api.CodeValidation
	case errors.Is(err, model.ErrNotFound):
		status, code = http.StatusNotFound, api.CodeNotFound
	case errors.Is(err, model.ErrConflict):
		status, code = http.StatusConflict, api.CodeConflict
	case errors.Is(err, model.ErrForbidden):
		status, code = http.StatusForbidden, api.CodeForbidden
	}

	if status == http.StatusInternalServerError {
		logger.Error(message,
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
		_ = c.Error(err)
	}

	c.JSON(status, api.ErrorResponse{
		Code:    code,
		Message: message,
		Details: stringPtr(err.Error()),
	})
}

// bindError reports a request body that could not be decoded
func bindError(c *gin.Context, logger *zap.Logger, err error) {
	logger.Debug("invalid request body", zap.Error(err))
	c.JSON(http.StatusBadRequest, api.ErrorResponse{
		Code:    api.CodeValidation,
		Message: "Invalid request body",
		Details: stringPtr(err.Error()),
	})
}

// measurementQuery reads the data_type, limit and since query parameters
func measurementQuery(c *gin.Context) (service.MeasurementQuery, error) {
	q := service.MeasurementQuery{DataTypes: c.QueryArray("data_type")}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return q, model.NewValidationError("limit", "limit must be an integer")
		}
		q.Limit = limit
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, model.NewValidationError("since", "since must be an RFC 3339 timestamp")
		}
		q.Since = &since
	}

	return q, nil
}

// callerID returns the authenticated user of the request
func callerID(c *gin.Context) string {
	return middleware.UserID(c)
}
