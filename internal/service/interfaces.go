package service

import (
	"context"
	"time"

	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/audit"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
)

// Transactor runs fn atomically. Nested calls run in a savepoint.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SessionRepositoryInterface defines the session storage used by the services
type SessionRepositoryInterface interface {
	Create(ctx context.Context, session *model.MonitoringSession) error
	GetByID(ctx context.Context, sessionID string) (*model.MonitoringSession, error)
	// LockByID reads a session and keeps status changes to it out until the surrounding transaction ends
	LockByID(ctx context.Context, sessionID string) (*model.MonitoringSession, error)
	GetActiveByUserID(ctx context.Context, userID string) (*model.MonitoringSession, error)
	ListByUserID(ctx context.Context, userID string) ([]model.MonitoringSession, error)
	UpdateStatus(ctx context.Context, sessionID string, status model.SessionStatus, endedAt *time.Time) error
	UpdateThresholds(ctx context.Context, sessionID string, thresholds model.ThresholdConfig) error
}

// MeasurementRepositoryInterface defines the measurement storage
type MeasurementRepositoryInterface interface {
	Save(ctx context.Context, point *model.MeasurementPoint) error
	List(ctx context.Context, filter model.MeasurementFilter) ([]model.MeasurementPoint, error)
}

// AlertRepositoryInterface defines the alert storage
type AlertRepositoryInterface interface {
	Create(ctx context.Context, alert *model.Alert) error
	GetByID(ctx context.Context, alertID string) (*model.Alert, error)
	Acknowledge(ctx context.Context, alertID, acknowledgedBy string, at time.Time) (*model.Alert, error)
	Resolve(ctx context.Context, alertID string, at time.Time) (*model.Alert, error)
	ListUnacknowledged(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.Alert, error)
}

// ShareRepositoryInterface defines the data share storage
type ShareRepositoryInterface interface {
	Create(ctx context.Context, share *model.DataShare) error
	GetByID(ctx context.Context, shareID string) (*model.DataShare, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.DataShare, error)
	ListByUserID(ctx context.Context, userID string) ([]model.DataShare, error)
	Deactivate(ctx context.Context, shareID string) error
	TouchAccess(ctx context.Context, shareID string, at time.Time) error
}

// ReportRepositoryInterface defines the report metadata storage
type ReportRepositoryInterface interface {
	Save(ctx context.Context, report *model.Report) error
	GetByID(ctx context.Context, reportID string) (*model.Report, error)
}

// AlertNotifier hands an alert to the notification dispatcher without blocking
type AlertNotifier interface {
	Dispatch(userID string, alert *model.Alert) bool
}

// AuditLogger records PHI-relevant operations
type AuditLogger interface {
	Record(ctx context.Context, entry audit.Entry) error
}
