package service

import (
	"context"
	"testing"
	"time"

	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/guard"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/repository"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// MockAlertNotifier is a mock implementation of AlertNotifier
type MockAlertNotifier struct {
	mock.Mock
}

func (m *MockAlertNotifier) Dispatch(userID string, alert *model.Alert) bool {
	args := m.Called(userID, alert)
	return args.Bool(0)
}

// MockAlertRepository is a mock implementation of AlertRepositoryInterface
type MockAlertRepository struct {
	mock.Mock
}

func (m *MockAlertRepository) Create(ctx context.Context, alert *model.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockAlertRepository) GetByID(ctx context.Context, alertID string) (*model.Alert, error) {
	args := m.Called(ctx, alertID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Alert), args.Error(1)
}

func (m *MockAlertRepository) Acknowledge(ctx context.Context, alertID, acknowledgedBy string, at time.Time) (*model.Alert, error) {
	args := m.Called(ctx, alertID, acknowledgedBy, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Alert), args.Error(1)
}

func (m *MockAlertRepository) Resolve(ctx context.Context, alertID string, at time.Time) (*model.Alert, error) {
	args := m.Called(ctx, alertID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Alert), args.Error(1)
}

func (m *MockAlertRepository) ListUnacknowledged(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Alert), args.Error(1)
}

func (m *MockAlertRepository) ListBySession(ctx context.Context, sessionID string) ([]model.Alert, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Alert), args.Error(1)
}

// MockMeasurementRepository is a mock implementation of MeasurementRepositoryInterface
type MockMeasurementRepository struct {
	mock.Mock
}

func (m *MockMeasurementRepository) Save(ctx context.Context, point *model.MeasurementPoint) error {
	args := m.Called(ctx, point)
	return args.Error(0)
}

func (m *MockMeasurementRepository) List(ctx context.Context, filter model.MeasurementFilter) ([]model.MeasurementPoint, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MeasurementPoint), args.Error(1)
}

// fixture wires the services over an in-memory store
type fixture struct {
	store      *repository.MemoryStore
	suppressor *guard.LocalSuppressor
	notifier   *MockAlertNotifier
	alerts     *AlertService
	monitoring *MonitoringService
	logs       *observer.ObservedLogs
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	dedupWindow  time.Duration
	alertRepo    AlertRepositoryInterface
	measurements MeasurementRepositoryInterface
	wrapSessions func(SessionRepositoryInterface) SessionRepositoryInterface
}

func withDedup(window time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.dedupWindow = window }
}

func withAlertRepo(repo AlertRepositoryInterface) fixtureOption {
	return func(c *fixtureConfig) { c.alertRepo = repo }
}

func withMeasurementRepo(repo MeasurementRepositoryInterface) fixtureOption {
	return func(c *fixtureConfig) { c.measurements = repo }
}

func withSessionRepo(wrap func(SessionRepositoryInterface) SessionRepositoryInterface) fixtureOption {
	return func(c *fixtureConfig) { c.wrapSessions = wrap }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	cfg := fixtureConfig{
		alertRepo:    store.Alerts(),
		measurements: store.Measurements(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	var sessions SessionRepositoryInterface = store.Sessions()
	if cfg.wrapSessions != nil {
		sessions = cfg.wrapSessions(sessions)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	notifier := new(MockAlertNotifier)
	notifier.On("Dispatch", mock.Anything, mock.Anything).Return(true).Maybe()

	suppressor := guard.NewLocalSuppressor()
	alerts := NewAlertService(store, cfg.alertRepo, sessions, suppressor, notifier, nil, nil, cfg.dedupWindow, logger)
	monitoring := NewMonitoringService(store, sessions, cfg.measurements, alerts, guard.NewLocalLocker(), nil, nil, DefaultMonitoringConfig(), logger)

	return &fixture{
		store:      store,
		suppressor: suppressor,
		notifier:   notifier,
		alerts:     alerts,
		monitoring: monitoring,
		logs:       logs,
	}
}

func heartRateThresholds(min, max float64) model.ThresholdConfig {
	return model.ThresholdConfig{
		model.DataTypeHeartRate: model.RangeThreshold{Min: model.Bound(min), Max: model.Bound(max)},
	}
}

func (f *fixture) startSession(t *testing.T, userID string, thresholds model.ThresholdConfig) *model.MonitoringSession {
	t.Helper()
	session, err := f.monitoring.CreateSession(context.Background(), CreateSessionInput{
		UserID:     userID,
		Type:       model.SessionTypeContinuous,
		Thresholds: thresholds,
	})
	require.NoError(t, err)
	return session
}

func (f *fixture) ingest(t *testing.T, userID, dataType string, value model.MeasurementValue) *IngestResult {
	t.Helper()
	result, err := f.monitoring.Ingest(context.Background(), IngestInput{
		UserID:     userID,
		DataType:   dataType,
		Value:      value,
		MeasuredAt: time.Now(),
	})
	require.NoError(t, err)
	return result
}
