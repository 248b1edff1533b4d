package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/audit"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/guard"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/metrics"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

// NewAlert is the input for creating an alert
type NewAlert struct {
	UserID        string
	SessionID     *string
	Type          model.AlertType
	Severity      model.Severity
	Title         string
	Message       string
	DataType      string
	DataReference *string
}

// AlertService creates, deduplicates, lists and acknowledges alerts
type AlertService struct {
	tx          Transactor
	alerts      AlertRepositoryInterface
	sessions    SessionRepositoryInterface
	suppressor  guard.Suppressor
	notifier    AlertNotifier
	audit       AuditLogger
	metrics     *metrics.Collector
	dedupWindow time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewAlertService creates a new AlertService. A zero dedupWindow or nil
// suppressor disables deduplication; a nil notifier disables dispatch.
func NewAlertService(
	tx Transactor,
	alerts AlertRepositoryInterface,
	sessions SessionRepositoryInterface,
	suppressor guard.Suppressor,
	notifier AlertNotifier,
	auditLogger AuditLogger,
	collector *metrics.Collector,
	dedupWindow time.Duration,
	logger *zap.Logger,
) *AlertService {
	return &AlertService{
		tx:          tx,
		alerts:      alerts,
		sessions:    sessions,
		suppressor:  suppressor,
		notifier:    notifier,
		audit:       auditLogger,
		metrics:     collector,
		dedupWindow: dedupWindow,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateAlert validates and stores an alert, then hands it to the notifier
func (s *AlertService) CreateAlert(ctx context.Context, in NewAlert) (*model.Alert, error) {
	if in.UserID == "" {
		return nil, model.NewValidationError("user_id", "user ID is required")
	}
	if in.Type == "" {
		in.Type = model.AlertTypeManual
	}
	if !in.Severity.Valid() {
		return nil, model.NewValidationError("severity", "unknown severity %q", in.Severity)
	}
	if in.Title == "" {
		return nil, model.NewValidationError("title", "alert title is required")
	}

	alert, err := s.insert(ctx, in)
	if err != nil {
		return nil, err
	}

	s.publish(alert)
	return alert, nil
}

func (s *AlertService) insert(ctx context.Context, in NewAlert) (*model.Alert, error) {
	alert := &model.Alert{
		ID:            uuid.New().String(),
		UserID:        in.UserID,
		SessionID:     in.SessionID,
		Type:          in.Type,
		Severity:      in.Severity,
		Title:         in.Title,
		Message:       in.Message,
		DataType:      in.DataType,
		DataReference: in.DataReference,
		CreatedAt:     s.now(),
	}

	if err := s.alerts.Create(ctx, alert); err != nil {
		s.logger.Error("failed to create alert",
			zap.Error(err),
			zap.String("user_id", in.UserID),
			zap.String("alert_type", string(in.Type)),
		)
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	return alert, nil
}

// raiseThresholdAlert creates the alert for a critical point inside the
// caller's transaction. The insert runs in a savepoint so a failed alert
// leaves the point intact; such failures are logged and yield no alert.
// The second result reports that an open alert already covers the condition.
func (s *AlertService) raiseThresholdAlert(ctx context.Context, point *model.MeasurementPoint) (*model.Alert, bool) {
	key := guard.AlertDedupKey(point.UserID, point.SessionID, point.DataType)
	claimed := false

	if s.dedupEnabled() {
		ok, err := s.suppressor.Claim(ctx, key, s.dedupWindow)
		switch {
		case err != nil:
			s.logger.Warn("alert dedup check failed, raising alert anyway",
				zap.Error(err),
				zap.String("user_id", point.UserID),
				zap.String("data_type", point.DataType),
			)
		case !ok:
			s.metrics.AlertSuppressed()
			s.logger.Info("threshold alert suppressed by open alert",
				zap.String("user_id", point.UserID),
				zap.String("data_type", point.DataType),
				zap.String("measurement_id", point.ID),
			)
			return nil, true
		default:
			claimed = true
		}
	}

	value := model.FormatValue(point.Value)
	pointID := point.ID
	in := NewAlert{
		UserID:        point.UserID,
		SessionID:     point.SessionID,
		Type:          model.AlertTypeThresholdExceeded,
		Severity:      model.SeverityHigh,
		Title:         fmt.Sprintf("Critical %s reading", point.DataType),
		Message:       fmt.Sprintf("%s value %s is outside the configured threshold", point.DataType, value),
		DataType:      point.DataType,
		DataReference: &pointID,
	}
	if point.Unit != nil && *point.Unit != "" {
		in.Message = fmt.Sprintf("%s value %s %s is outside the configured threshold", point.DataType, value, *point.Unit)
	}

	var alert *model.Alert
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		alert, err = s.insert(ctx, in)
		return err
	})
	if err != nil {
		if claimed {
			s.releaseKey(ctx, key)
		}
		s.logger.Warn("threshold alert not created, measurement kept",
			zap.Error(err),
			zap.String("measurement_id", point.ID),
		)
		return nil, false
	}

	return alert, false
}

// publish counts a committed alert and hands it to the notifier
func (s *AlertService) publish(alert *model.Alert) {
	s.metrics.AlertCreated(string(alert.Severity))

	if s.notifier == nil {
		return
	}
	if !s.notifier.Dispatch(alert.UserID, alert) {
		s.logger.Warn("alert not queued for notification",
			zap.String("alert_id", alert.ID),
			zap.String("user_id", alert.UserID),
		)
	}
}

// isOpen reports whether the alert still holds its dedup claim
func isOpen(alert *model.Alert) bool {
	return !alert.Acknowledged && !alert.Resolved
}

// discard releases the dedup claim held by a threshold alert
func (s *AlertService) discard(ctx context.Context, alert *model.Alert) {
	if alert == nil || alert.Type != model.AlertTypeThresholdExceeded || !s.dedupEnabled() {
		return
	}
	s.releaseKey(ctx, guard.AlertDedupKey(alert.UserID, alert.SessionID, alert.DataType))
}

func (s *AlertService) dedupEnabled() bool {
	return s.suppressor != nil && s.dedupWindow > 0
}

func (s *AlertService) releaseKey(ctx context.Context, key string) {
	if err := s.suppressor.Release(ctx, key); err != nil {
		s.logger.Warn("failed to release alert dedup key",
			zap.Error(err),
			zap.String("key", key),
		)
	}
}

// Get retrieves an alert by ID
func (s *AlertService) Get(ctx context.Context, alertID string) (*model.Alert, error) {
	if err := validateID("alert_id", alertID); err != nil {
		return nil, err
	}

	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// Acknowledge marks an alert as seen by acknowledgedBy. Acknowledging again
// overwrites the acknowledger and timestamp. The first acknowledgement of an
// open alert reopens the dedup window so the next breach raises a fresh alert.
func (s *AlertService) Acknowledge(ctx context.Context, alertID, acknowledgedBy string) (*model.Alert, error) {
	if err := validateID("alert_id", alertID); err != nil {
		return nil, err
	}
	if acknowledgedBy == "" {
		return nil, model.NewValidationError("acknowledged_by", "acknowledger is required")
	}

	prev, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	alert, err := s.alerts.Acknowledge(ctx, alertID, acknowledgedBy, s.now())
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Error("failed to acknowledge alert",
				zap.Error(err),
				zap.String("alert_id", alertID),
			)
		}
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	// A closed alert no longer owns the dedup key; a newer open alert may
	if isOpen(prev) {
		s.discard(ctx, alert)
	}
	s.metrics.AlertAcknowledged()
	s.auditLog(ctx, acknowledgedBy, audit.OperationUpdate, alert.ID, map[string]interface{}{
		"action":     "acknowledge",
		"alert_user": alert.UserID,
	})

	s.logger.Info("alert acknowledged",
		zap.String("alert_id", alert.ID),
		zap.String("user_id", alert.UserID),
		zap.String("acknowledged_by", acknowledgedBy),
	)

	return alert, nil
}

// Resolve marks an alert as resolved. Resolving an open alert releases its
// dedup key like an acknowledgement does.
func (s *AlertService) Resolve(ctx context.Context, alertID, resolvedBy string) (*model.Alert, error) {
	if err := validateID("alert_id", alertID); err != nil {
		return nil, err
	}

	prev, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	alert, err := s.alerts.Resolve(ctx, alertID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	if isOpen(prev) {
		s.discard(ctx, alert)
	}

	s.auditLog(ctx, resolvedBy, audit.OperationUpdate, alert.ID, map[string]interface{}{
		"action": "resolve",
	})

	s.logger.Info("alert resolved",
		zap.String("alert_id", alert.ID),
		zap.String("resolved_by", resolvedBy),
	)

	return alert, nil
}

// ListUnacknowledged returns the user's open alerts, most severe and most recent first
func (s *AlertService) ListUnacknowledged(ctx context.Context, userID string) ([]model.Alert, error) {
	if userID == "" {
		return nil, model.NewValidationError("user_id", "user ID is required")
	}

	alerts, err := s.alerts.ListUnacknowledged(ctx, model.AlertFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// ListForSession returns the open alerts of a session's user raised within that session
func (s *AlertService) ListForSession(ctx context.Context, sessionID string) ([]model.Alert, error) {
	if err := validateID("session_id", sessionID); err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get monitoring session: %w", err)
	}

	alerts, err := s.alerts.ListUnacknowledged(ctx, model.AlertFilter{
		UserID:    session.UserID,
		SessionID: &session.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list session alerts: %w", err)
	}
	return alerts, nil
}

func (s *AlertService) auditLog(ctx context.Context, actor string, op audit.Operation, alertID string, extra map[string]interface{}) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Operation:  op,
		Resource:   audit.ResourceAlert,
		ResourceID: alertID,
		Details:    extra,
	})
	if err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err), zap.String("alert_id", alertID))
	}
}
