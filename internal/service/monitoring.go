package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/audit"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/guard"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/metrics"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/threshold"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"go.uber.org/zap"
)

// maxClockSkew bounds how far in the future a measurement timestamp may be
const maxClockSkew = 5 * time.Minute

var dataTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// MonitoringConfig tunes the monitoring service
type MonitoringConfig struct {
	DefaultQueryLimit      int
	MaxQueryLimit          int
	ApplyDefaultThresholds bool
	SessionLockTTL         time.Duration
}

// DefaultMonitoringConfig returns the settings used when none are configured
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		DefaultQueryLimit: 100,
		MaxQueryLimit:     1000,
		SessionLockTTL:    5 * time.Second,
	}
}

// CreateSessionInput is the input for starting a monitoring session
type CreateSessionInput struct {
	UserID     string
	Type       model.SessionType
	ProviderID *string
	Notes      *string
	Parameters map[string]interface{}
	Thresholds model.ThresholdConfig
}

// IngestInput is one incoming measurement
type IngestInput struct {
	UserID       string
	SessionID    *string
	DataType     string
	Value        model.MeasurementValue
	Unit         *string
	DeviceSource *string
	MeasuredAt   time.Time
}

// IngestResult is the outcome of ingesting a measurement
type IngestResult struct {
	Point      *model.MeasurementPoint `json:"measurement"`
	Alert      *model.Alert            `json:"alert,omitempty"`
	Suppressed bool                    `json:"alert_suppressed"`
}

// MeasurementQuery narrows a measurement listing
type MeasurementQuery struct {
	DataTypes []string
	Limit     int
	Since     *time.Time
}

// MonitoringService owns the session lifecycle and the ingestion pipeline
type MonitoringService struct {
	tx           Transactor
	sessions     SessionRepositoryInterface
	measurements MeasurementRepositoryInterface
	alerts       *AlertService
	locker       guard.Locker
	audit        AuditLogger
	metrics      *metrics.Collector
	cfg          MonitoringConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewMonitoringService creates a new MonitoringService
func NewMonitoringService(
	tx Transactor,
	sessions SessionRepositoryInterface,
	measurements MeasurementRepositoryInterface,
	alerts *AlertService,
	locker guard.Locker,
	auditLogger AuditLogger,
	collector *metrics.Collector,
	cfg MonitoringConfig,
	logger *zap.Logger,
) *MonitoringService {
	defaults := DefaultMonitoringConfig()
	if cfg.DefaultQueryLimit <= 0 {
		cfg.DefaultQueryLimit = defaults.DefaultQueryLimit
	}
	if cfg.MaxQueryLimit <= 0 {
		cfg.MaxQueryLimit = defaults.MaxQueryLimit
	}
	if cfg.SessionLockTTL <= 0 {
		cfg.SessionLockTTL = defaults.SessionLockTTL
	}

	return &MonitoringService{
		tx:           tx,
		sessions:     sessions,
		measurements: measurements,
		alerts:       alerts,
		locker:       locker,
		audit:        auditLogger,
		metrics:      collector,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateSession starts a new active session. A user holds at most one active
// session; a second one fails with model.ErrConflict.
func (s *MonitoringService) CreateSession(ctx context.Context, in CreateSessionInput) (*model.MonitoringSession, error) {
	if in.UserID == "" {
		return nil, model.NewValidationError("user_id", "user ID is required")
	}
	if !in.Type.Valid() {
		return nil, model.NewValidationError("session_type", "unknown session type %q", in.Type)
	}
	if err := in.Thresholds.Validate(); err != nil {
		return nil, model.NewValidationError("alert_thresholds", "%s", err.Error())
	}

	thresholds := in.Thresholds
	if len(thresholds) == 0 && s.cfg.ApplyDefaultThresholds {
		thresholds = threshold.Defaults()
	}

	unlock, err := s.locker.Lock(ctx, guard.SessionLockKey(in.UserID), s.cfg.SessionLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	defer unlock()

	existing, err := s.sessions.GetActiveByUserID(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("user already has active session %s: %w", existing.ID, model.ErrConflict)
	}

	now := s.now()
	session := &model.MonitoringSession{
		ID:         uuid.New().String(),
		UserID:     in.UserID,
		ProviderID: in.ProviderID,
		Type:       in.Type,
		Status:     model.SessionStatusActive,
		StartedAt:  now,
		Parameters: in.Parameters,
		Thresholds: thresholds,
		Notes:      in.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create monitoring session: %w", err)
	}

	s.metrics.SessionStarted()
	s.auditLog(ctx, in.UserID, audit.OperationCreate, session.ID, map[string]interface{}{
		"session_type": string(session.Type),
	})

	s.logger.Info("monitoring session started",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
		zap.String("session_type", string(session.Type)),
	)

	return session, nil
}

// GetSession retrieves a session by ID
func (s *MonitoringService) GetSession(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	if err := validateID("session_id", sessionID); err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get monitoring session: %w", err)
	}
	return session, nil
}

// GetActiveSession returns the user's active session, or nil when there is none
func (s *MonitoringService) GetActiveSession(ctx context.Context, userID string) (*model.MonitoringSession, error) {
	if userID == "" {
		return nil, model.NewValidationError("user_id", "user ID is required")
	}

	session, err := s.sessions.GetActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

// ListSessions returns a user's sessions, newest first
func (s *MonitoringService) ListSessions(ctx context.Context, userID string) ([]model.MonitoringSession, error) {
	if userID == "" {
		return nil, model.NewValidationError("user_id", "user ID is required")
	}

	sessions, err := s.sessions.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// AuthorizeSession checks that callerID owns the session or is its assigned provider
func AuthorizeSession(session *model.MonitoringSession, callerID string) error {
	if session.UserID == callerID {
		return nil
	}
	if session.ProviderID != nil && *session.ProviderID == callerID {
		return nil
	}
	return fmt.Errorf("session %s: %w", session.ID, model.ErrForbidden)
}

// UpdateThresholds replaces an active session's threshold configuration.
// Already recorded points keep the verdict they were ingested with.
func (s *MonitoringService) UpdateThresholds(ctx context.Context, sessionID string, thresholds model.ThresholdConfig) (*model.MonitoringSession, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, model.NewValidationError("alert_thresholds", "%s", err.Error())
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, fmt.Errorf("session %s is %s: %w", session.ID, session.Status, model.ErrConflict)
	}

	if err := s.sessions.UpdateThresholds(ctx, session.ID, thresholds); err != nil {
		return nil, fmt.Errorf("failed to update thresholds: %w", err)
	}
	session.Thresholds = thresholds
	session.UpdatedAt = s.now()

	s.auditLog(ctx, session.UserID, audit.OperationUpdate, session.ID, map[string]interface{}{
		"action": "update_thresholds",
	})
	s.logger.Info("session thresholds updated",
		zap.String("session_id", session.ID),
		zap.Int("data_types", len(thresholds)),
	)

	return session, nil
}

// PauseSession stops threshold evaluation for an active session
func (s *MonitoringService) PauseSession(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	return s.transition(ctx, sessionID, model.SessionStatusPaused, func(session *model.MonitoringSession) error {
		if !session.IsActive() {
			return fmt.Errorf("only an active session can be paused, session %s is %s: %w", session.ID, session.Status, model.ErrConflict)
		}
		return nil
	})
}

// ResumeSession reactivates a paused session unless the user started another one meanwhile
func (s *MonitoringService) ResumeSession(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, guard.SessionLockKey(session.UserID), s.cfg.SessionLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	defer unlock()

	return s.transition(ctx, sessionID, model.SessionStatusActive, func(session *model.MonitoringSession) error {
		if session.Status != model.SessionStatusPaused {
			return fmt.Errorf("only a paused session can be resumed, session %s is %s: %w", session.ID, session.Status, model.ErrConflict)
		}
		active, err := s.sessions.GetActiveByUserID(ctx, session.UserID)
		if err != nil {
			return fmt.Errorf("failed to check active session: %w", err)
		}
		if active != nil {
			return fmt.Errorf("user already has active session %s: %w", active.ID, model.ErrConflict)
		}
		return nil
	})
}

// EndSession completes a session. Completed and terminated sessions are final.
func (s *MonitoringService) EndSession(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	return s.transition(ctx, sessionID, model.SessionStatusCompleted, notTerminal)
}

// TerminateSession stops a session abnormally
func (s *MonitoringService) TerminateSession(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	return s.transition(ctx, sessionID, model.SessionStatusTerminated, notTerminal)
}

func notTerminal(session *model.MonitoringSession) error {
	if session.Status.Terminal() {
		return fmt.Errorf("session %s is already %s: %w", session.ID, session.Status, model.ErrConflict)
	}
	return nil
}

func (s *MonitoringService) transition(
	ctx context.Context,
	sessionID string,
	to model.SessionStatus,
	allowed func(*model.MonitoringSession) error,
) (*model.MonitoringSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := allowed(session); err != nil {
		return nil, err
	}

	now := s.now()
	var endedAt *time.Time
	if to.Terminal() {
		endedAt = &now
	}

	if err := s.sessions.UpdateStatus(ctx, session.ID, to, endedAt); err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}

	from := session.Status
	session.Status = to
	session.EndedAt = endedAt
	session.UpdatedAt = now

	if to.Terminal() {
		s.metrics.SessionEnded()
	}
	s.auditLog(ctx, session.UserID, audit.OperationUpdate, session.ID, map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})

	s.logger.Info("monitoring session status changed",
		zap.String("session_id", session.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	return session, nil
}

// Ingest records a measurement and raises an alert when it is critical.
// The point and its alert commit together; an alert that cannot be written
// never hides the point. Notification happens after commit and never fails
// the call.
func (s *MonitoringService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if err := s.validateIngest(in); err != nil {
		return nil, err
	}

	session, err := s.resolveSession(ctx, in.UserID, in.SessionID)
	if err != nil {
		return nil, err
	}

	var sessionID *string
	if session != nil {
		id := session.ID
		sessionID = &id
	}

	point := &model.MeasurementPoint{
		ID:           uuid.New().String(),
		UserID:       in.UserID,
		SessionID:    sessionID,
		DataType:     in.DataType,
		Value:        in.Value,
		Unit:         in.Unit,
		DeviceSource: in.DeviceSource,
		MeasuredAt:   in.MeasuredAt,
		ProcessedAt:  s.now(),
	}

	result := &IngestResult{Point: point}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		thresholds, err := s.sessionThresholds(ctx, point, in.SessionID != nil)
		if err != nil {
			return err
		}
		point.IsCritical = threshold.IsCritical(in.DataType, in.Value, thresholds)

		if err := s.measurements.Save(ctx, point); err != nil {
			return err
		}
		if point.IsCritical && s.alerts != nil {
			result.Alert, result.Suppressed = s.alerts.raiseThresholdAlert(ctx, point)
		}
		return nil
	})
	if err != nil {
		if result.Alert != nil {
			s.alerts.discard(ctx, result.Alert)
		}
		if model.IsValidation(err) {
			return nil, err
		}
		s.logger.Error("failed to record measurement",
			zap.Error(err),
			zap.String("user_id", in.UserID),
			zap.String("data_type", in.DataType),
		)
		return nil, fmt.Errorf("failed to record measurement: %w", err)
	}

	s.metrics.MeasurementIngested(point.DataType, point.IsCritical)
	if result.Alert != nil {
		s.alerts.publish(result.Alert)
	}

	if point.IsCritical {
		s.logger.Info("critical measurement recorded",
			zap.String("measurement_id", point.ID),
			zap.String("user_id", point.UserID),
			zap.String("data_type", point.DataType),
			zap.Bool("alert_raised", result.Alert != nil),
			zap.Bool("alert_suppressed", result.Suppressed),
		)
	}

	return result, nil
}

func (s *MonitoringService) validateIngest(in IngestInput) error {
	if in.UserID == "" {
		return model.NewValidationError("user_id", "user ID is required")
	}
	if !dataTypePattern.MatchString(in.DataType) {
		return model.NewValidationError("data_type", "data type must be a lower snake_case identifier")
	}
	if err := model.CheckValueShape(in.DataType, in.Value); err != nil {
		return model.NewValidationError("value", "%s", err.Error())
	}
	if in.MeasuredAt.IsZero() {
		return model.NewValidationError("measured_at", "measurement time is required")
	}
	if in.MeasuredAt.After(s.now().Add(maxClockSkew)) {
		return model.NewValidationError("measured_at", "measurement time is in the future")
	}
	if in.SessionID != nil {
		if err := validateID("session_id", *in.SessionID); err != nil {
			return err
		}
	}
	return nil
}

// sessionThresholds locks the point's session for the rest of the transaction and
// returns its current thresholds. A session that ended after it was resolved fails
// an explicit request; an implicitly chosen one is dropped from the point.
func (s *MonitoringService) sessionThresholds(ctx context.Context, point *model.MeasurementPoint, explicit bool) (model.ThresholdConfig, error) {
	if point.SessionID == nil {
		return nil, nil
	}

	session, err := s.sessions.LockByID(ctx, *point.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	if session.IsActive() {
		return session.Thresholds, nil
	}
	if explicit {
		return nil, model.NewValidationError("session_id", "session %s is %s, not active", session.ID, session.Status)
	}

	s.logger.Debug("session ended during ingestion, recording point without it",
		zap.String("session_id", session.ID),
		zap.String("status", string(session.Status)),
	)
	point.SessionID = nil
	return nil, nil
}

// resolveSession picks the session a point is evaluated against. A supplied
// session must be the user's own and active; otherwise the user's active
// session is used, and with none the point is recorded outside any session.
func (s *MonitoringService) resolveSession(ctx context.Context, userID string, sessionID *string) (*model.MonitoringSession, error) {
	if sessionID == nil {
		session, err := s.sessions.GetActiveByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve active session: %w", err)
		}
		return session, nil
	}

	session, err := s.sessions.GetByID(ctx, *sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session.UserID != userID {
		return nil, model.NewValidationError("session_id", "session %s does not belong to the user", session.ID)
	}
	if !session.IsActive() {
		return nil, model.NewValidationError("session_id", "session %s is %s, not active", session.ID, session.Status)
	}
	return session, nil
}

// ListMeasurements returns a session's measurements, newest first
func (s *MonitoringService) ListMeasurements(ctx context.Context, sessionID string, q MeasurementQuery) ([]model.MeasurementPoint, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return s.query(ctx, model.MeasurementFilter{
		UserID:    session.UserID,
		SessionID: &session.ID,
		DataTypes: q.DataTypes,
		Since:     q.Since,
		Limit:     s.clampLimit(q.Limit),
	})
}

// QueryMeasurements returns a user's measurements across sessions, newest first
func (s *MonitoringService) QueryMeasurements(ctx context.Context, userID string, q MeasurementQuery) ([]model.MeasurementPoint, error) {
	if userID == "" {
		return nil, model.NewValidationError("user_id", "user ID is required")
	}

	return s.query(ctx, model.MeasurementFilter{
		UserID:    userID,
		DataTypes: q.DataTypes,
		Since:     q.Since,
		Limit:     s.clampLimit(q.Limit),
	})
}

func (s *MonitoringService) query(ctx context.Context, filter model.MeasurementFilter) ([]model.MeasurementPoint, error) {
	for _, dt := range filter.DataTypes {
		if !dataTypePattern.MatchString(dt) {
			return nil, model.NewValidationError("data_type", "invalid data type %q", dt)
		}
	}

	points, err := s.measurements.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}
	return points, nil
}

func (s *MonitoringService) clampLimit(limit int) int {
	return clampLimit(limit, s.cfg.DefaultQueryLimit, s.cfg.MaxQueryLimit)
}

// clampLimit maps a non-positive limit to def and caps it at max
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func (s *MonitoringService) auditLog(ctx context.Context, actor string, op audit.Operation, sessionID string, extra map[string]interface{}) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		Actor:      actor,
		Operation:  op,
		Resource:   audit.ResourceMonitoringSession,
		ResourceID: sessionID,
		Details:    extra,
	})
	if err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err), zap.String("session_id", sessionID))
	}
}

// validateID rejects identifiers that are not UUIDs
func validateID(field, id string) error {
	if id == "" {
		return model.NewValidationError(field, "%s is required", field)
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.NewValidationError(field, "%s must be a UUID", field)
	}
	return nil
}
