package api

import (
	"encoding/json"
	"time"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/oapi-codegen/runtime/types"
)

// Error codes carried in ErrorResponse.Code
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeForbidden    = "FORBIDDEN"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

// ErrorResponse defines model for ErrorResponse.
type ErrorResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

// CreateSessionRequest defines model for CreateSessionRequest.
type CreateSessionRequest struct {
	SessionType     string                 `json:"session_type" binding:"required"`
	ProviderId      *string                `json:"provider_id,omitempty"`
	Notes           *string                `json:"notes,omitempty"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	AlertThresholds model.ThresholdConfig  `json:"alert_thresholds,omitempty"`
}

// UpdateThresholdsRequest defines model for UpdateThresholdsRequest.
type UpdateThresholdsRequest struct {
	AlertThresholds model.ThresholdConfig `json:"alert_thresholds" binding:"required"`
}

// IngestMeasurementRequest defines model for IngestMeasurementRequest.
// Value stays raw until the data type is known.
type IngestMeasurementRequest struct {
	SessionId    *types.UUID     `json:"session_id,omitempty"`
	DataType     string          `json:"data_type" binding:"required"`
	Value        json.RawMessage `json:"value" binding:"required"`
	Unit         *string         `json:"unit,omitempty"`
	DeviceSource *string         `json:"device_source,omitempty"`
	MeasuredAt   *time.Time      `json:"measured_at,omitempty"`
}

// CreateAlertRequest defines the body of a manually raised alert.
type CreateAlertRequest struct {
	SessionId *types.UUID `json:"session_id,omitempty"`
	Severity  string      `json:"severity" binding:"required"`
	Title     string      `json:"title" binding:"required"`
	Message   string      `json:"message,omitempty"`
}

// CreateShareRequest defines model for CreateShareRequest.
type CreateShareRequest struct {
	ProviderAddress types.Email `json:"provider_address" binding:"required"`
	DataTypes       []string    `json:"data_types" binding:"required"`
	DurationDays    *int        `json:"duration_days,omitempty"`
	EndDate         *types.Date `json:"end_date,omitempty"`
}

// SharedMeasurementsResponse is returned to a provider reading a share.
type SharedMeasurementsResponse struct {
	Share        *model.DataShare         `json:"share"`
	Measurements []model.MeasurementPoint `json:"measurements"`
}

// HealthResponse reports service and dependency status.
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
	Error   *string           `json:"error,omitempty"`
}
