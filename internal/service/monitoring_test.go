package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMonitoringScenario_CriticalHeartRateAcknowledgedByCareTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.startSession(t, "U1", heartRateThresholds(60, 100))
	assert.Equal(t, model.SessionStatusActive, session.Status)

	result := f.ingest(t, "U1", model.DataTypeHeartRate, model.ScalarValue(115))
	require.NotNil(t, result.Point)
	assert.True(t, result.Point.IsCritical)
	require.NotNil(t, result.Alert)
	assert.Equal(t, model.SeverityHigh, result.Alert.Severity)
	assert.Equal(t, model.AlertTypeThresholdExceeded, result.Alert.Type)
	require.NotNil(t, result.Alert.DataReference)
	assert.Equal(t, result.Point.ID, *result.Alert.DataReference)
	assert.Contains(t, result.Alert.Message, "heart_rate")
	assert.Contains(t, result.Alert.Message, "115")

	acked, err := f.alerts.Acknowledge(ctx, result.Alert.ID, "U2")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	require.NotNil(t, acked.AcknowledgedBy)
	assert.Equal(t, "U2", *acked.AcknowledgedBy)

	open, err := f.alerts.ListUnacknowledged(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, open)

	f.notifier.AssertCalled(t, "Dispatch", "U1", mock.MatchedBy(func(a *model.Alert) bool {
		return a.ID == result.Alert.ID
	}))
}

func TestIngest_CriticalPointAndAlertAreQueryableForSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.startSession(t, "user-1", heartRateThresholds(60, 100))
	f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(72))
	result := f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(130))

	points, err := f.monitoring.ListMeasurements(ctx, session.ID, MeasurementQuery{})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, result.Point.ID, points[0].ID, "newest point first")

	alerts, err := f.alerts.ListForSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, result.Point.ID, *alerts[0].DataReference)
}

func TestIngest_NormalReadingRaisesNoAlert(t *testing.T) {
	f := newFixture(t)

	f.startSession(t, "user-1", heartRateThresholds(60, 100))
	result := f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(80))

	assert.False(t, result.Point.IsCritical)
	assert.Nil(t, result.Alert)
	f.notifier.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestIngest_WithoutActiveSessionIsNeverCritical(t *testing.T) {
	f := newFixture(t)

	result := f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(250))

	assert.Nil(t, result.Point.SessionID)
	assert.False(t, result.Point.IsCritical)
	assert.Nil(t, result.Alert)
}

func TestIngest_UnconfiguredDataTypeIsNeverCritical(t *testing.T) {
	f := newFixture(t)

	f.startSession(t, "user-1", heartRateThresholds(60, 100))
	result := f.ingest(t, "user-1", model.DataTypeTemperature, model.ScalarValue(42))

	require.NotNil(t, result.Point.SessionID)
	assert.False(t, result.Point.IsCritical)
	assert.Nil(t, result.Alert)
}

func TestIngest_BloodPressureCompoundRule(t *testing.T) {
	f := newFixture(t)

	f.startSession(t, "user-1", model.ThresholdConfig{
		model.DataTypeBloodPressure: model.BloodPressureThreshold{
			SystolicMin:  model.Bound(90),
			SystolicMax:  model.Bound(140),
			DiastolicMin: model.Bound(60),
			DiastolicMax: model.Bound(90),
		},
	})

	result := f.ingest(t, "user-1", model.DataTypeBloodPressure, model.BloodPressureValue{Systolic: 145, Diastolic: 85})
	assert.True(t, result.Point.IsCritical)
	require.NotNil(t, result.Alert)
	assert.Contains(t, result.Alert.Message, "145/85")
}

func TestIngest_SuppliedSessionIsAuthoritative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	own := f.startSession(t, "user-1", heartRateThresholds(60, 100))
	other := f.startSession(t, "user-2", heartRateThresholds(60, 100))

	t.Run("own active session", func(t *testing.T) {
		result, err := f.monitoring.Ingest(ctx, IngestInput{
			UserID:     "user-1",
			SessionID:  &own.ID,
			DataType:   model.DataTypeHeartRate,
			Value:      model.ScalarValue(110),
			MeasuredAt: time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, own.ID, *result.Point.SessionID)
		assert.True(t, result.Point.IsCritical)
	})

	t.Run("another user's session", func(t *testing.T) {
		_, err := f.monitoring.Ingest(ctx, IngestInput{
			UserID:     "user-1",
			SessionID:  &other.ID,
			DataType:   model.DataTypeHeartRate,
			Value:      model.ScalarValue(110),
			MeasuredAt: time.Now(),
		})
		assert.True(t, model.IsValidation(err))
	})

	t.Run("unknown session", func(t *testing.T) {
		missing := uuid.New().String()
		_, err := f.monitoring.Ingest(ctx, IngestInput{
			UserID:     "user-1",
			SessionID:  &missing,
			DataType:   model.DataTypeHeartRate,
			Value:      model.ScalarValue(110),
			MeasuredAt: time.Now(),
		})
		assert.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("ended session", func(t *testing.T) {
		_, err := f.monitoring.EndSession(ctx, own.ID)
		require.NoError(t, err)

		_, err = f.monitoring.Ingest(ctx, IngestInput{
			UserID:     "user-1",
			SessionID:  &own.ID,
			DataType:   model.DataTypeHeartRate,
			Value:      model.ScalarValue(110),
			MeasuredAt: time.Now(),
		})
		assert.True(t, model.IsValidation(err))
	})
}

// racingSessionRepository runs beforeLock ahead of LockByID, standing in for a
// status change committed between session resolution and the ingest transaction
type racingSessionRepository struct {
	SessionRepositoryInterface
	beforeLock func()
}

func (r *racingSessionRepository) LockByID(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	if r.beforeLock != nil {
		r.beforeLock()
		r.beforeLock = nil
	}
	return r.SessionRepositoryInterface.LockByID(ctx, sessionID)
}

func TestIngest_SessionEndedMidIngest(t *testing.T) {
	racing := &racingSessionRepository{}
	f := newFixture(t, withSessionRepo(func(inner SessionRepositoryInterface) SessionRepositoryInterface {
		racing.SessionRepositoryInterface = inner
		return racing
	}))
	ctx := context.Background()

	endBeforeLock := func(session *model.MonitoringSession) {
		racing.beforeLock = func() {
			_, err := f.monitoring.EndSession(ctx, session.ID)
			require.NoError(t, err)
		}
	}

	t.Run("implicit session is dropped from the point", func(t *testing.T) {
		session := f.startSession(t, "user-1", heartRateThresholds(60, 100))
		endBeforeLock(session)

		result := f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(150))
		assert.Nil(t, result.Point.SessionID)
		assert.False(t, result.Point.IsCritical)
		assert.Nil(t, result.Alert)

		alerts, err := f.store.Alerts().ListBySession(ctx, session.ID)
		require.NoError(t, err)
		assert.Empty(t, alerts)
	})

	t.Run("explicit session is rejected", func(t *testing.T) {
		session := f.startSession(t, "user-2", heartRateThresholds(60, 100))
		endBeforeLock(session)

		_, err := f.monitoring.Ingest(ctx, IngestInput{
			UserID:     "user-2",
			SessionID:  &session.ID,
			DataType:   model.DataTypeHeartRate,
			Value:      model.ScalarValue(150),
			MeasuredAt: time.Now(),
		})
		assert.True(t, model.IsValidation(err))

		points, err := f.store.Measurements().List(ctx, model.MeasurementFilter{UserID: "user-2", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, points)
	})
}

func TestIngest_UsesThresholdsCurrentAtCommit(t *testing.T) {
	racing := &racingSessionRepository{}
	f := newFixture(t, withSessionRepo(func(inner SessionRepositoryInterface) SessionRepositoryInterface {
		racing.SessionRepositoryInterface = inner
		return racing
	}))
	ctx := context.Background()

	session := f.startSession(t, "user-1", heartRateThresholds(60, 100))
	racing.beforeLock = func() {
		_, err := f.monitoring.UpdateThresholds(ctx, session.ID, heartRateThresholds(60, 160))
		require.NoError(t, err)
	}

	result := f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(150))
	require.NotNil(t, result.Point.SessionID)
	assert.Equal(t, session.ID, *result.Point.SessionID)
	assert.False(t, result.Point.IsCritical)
}

func TestIngest_ValidationRejectsBeforeStorage(t *testing.T) {
	measurements := new(MockMeasurementRepository)
	f := newFixture(t, withMeasurementRepo(measurements))
	ctx := context.Background()
	badSession := "not-a-uuid"

	tests := []struct {
		name  string
		input IngestInput
		field string
	}{
		{
			name:  "missing user",
			input: IngestInput{DataType: "heart_rate", Value: model.ScalarValue(70), MeasuredAt: time.Now()},
			field: "user_id",
		},
		{
			name:  "malformed data type",
			input: IngestInput{UserID: "u", DataType: "Heart Rate", Value: model.ScalarValue(70), MeasuredAt: time.Now()},
			field: "data_type",
		},
		{
			name:  "missing value",
			input: IngestInput{UserID: "u", DataType: "heart_rate", MeasuredAt: time.Now()},
			field: "value",
		},
		{
			name:  "scalar blood pressure",
			input: IngestInput{UserID: "u", DataType: "blood_pressure", Value: model.ScalarValue(120), MeasuredAt: time.Now()},
			field: "value",
		},
		{
			name:  "missing measurement time",
			input: IngestInput{UserID: "u", DataType: "heart_rate", Value: model.ScalarValue(70)},
			field: "measured_at",
		},
		{
			name:  "measurement far in the future",
			input: IngestInput{UserID: "u", DataType: "heart_rate", Value: model.ScalarValue(70), MeasuredAt: time.Now().Add(time.Hour)},
			field: "measured_at",
		},
		{
			name:  "malformed session id",
			input: IngestInput{UserID: "u", SessionID: &badSession, DataType: "heart_rate", Value: model.ScalarValue(70), MeasuredAt: time.Now()},
			field: "session_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.monitoring.Ingest(ctx, tt.input)
			var ve *model.ValidationError
			require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	measurements.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestIngest_StorageFailureIsReturnedAndNoAlertCreated(t *testing.T) {
	measurements := new(MockMeasurementRepository)
	alerts := new(MockAlertRepository)
	f := newFixture(t, withMeasurementRepo(measurements), withAlertRepo(alerts))

	f.startSession(t, "user-1", heartRateThresholds(60, 100))
	storageErr := &model.StorageError{Op: "save measurement point", Err: errors.New("connection reset")}
	measurements.On("Save", mock.Anything, mock.Anything).Return(storageErr)

	_, err := f.monitoring.Ingest(context.Background(), IngestInput{
		UserID:     "user-1",
		DataType:   model.DataTypeHeartRate,
		Value:      model.ScalarValue(150),
		MeasuredAt: time.Now(),
	})

	require.Error(t, err)
	assert.True(t, model.IsStorage(err))
	alerts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestIngest_AlertFailureKeepsMeasurement(t *testing.T) {
	alerts := new(MockAlertRepository)
	f := newFixture(t, withAlertRepo(alerts), withDedup(15*time.Minute))
	ctx := context.Background()

	session := f.startSession(t, "user-1", heartRateThresholds(60, 100))
	alerts.On("Create", mock.Anything, mock.Anything).Return(&model.StorageError{Op: "create alert", Err: errors.New("disk full")})

	result, err := f.monitoring.Ingest(ctx, IngestInput{
		UserID:     "user-1",
		DataType:   model.DataTypeHeartRate,
		Value:      model.ScalarValue(150),
		MeasuredAt: time.Now(),
	})

	require.NoError(t, err)
	assert.True(t, result.Point.IsCritical)
	assert.Nil(t, result.Alert)
	assert.False(t, result.Suppressed)

	points, err := f.monitoring.ListMeasurements(ctx, session.ID, MeasurementQuery{})
	require.NoError(t, err)
	assert.Len(t, points, 1, "measurement survives the failed alert")

	assert.Equal(t, 1, f.logs.FilterMessage("threshold alert not created, measurement kept").Len())

	claimed, err := f.suppressor.Claim(ctx, "alert:dedup:user-1:"+session.ID+":heart_rate", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "dedup key released after failed alert")
}

func TestIngest_DispatchRefusalDoesNotFailIngest(t *testing.T) {
	f := newFixture(t)
	f.notifier.ExpectedCalls = nil
	f.notifier.On("Dispatch", "user-1", mock.Anything).Return(false)

	f.startSession(t, "user-1", heartRateThresholds(60, 100))
	result := f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(40))

	require.NotNil(t, result.Alert)
	assert.Equal(t, 1, f.logs.FilterMessage("alert not queued for notification").Len())
}

func TestIngest_ThresholdChangeIsNotRetroactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.startSession(t, "user-1", heartRateThresholds(60, 100))
	first := f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(110))
	require.True(t, first.Point.IsCritical)

	_, err := f.monitoring.UpdateThresholds(ctx, session.ID, heartRateThresholds(60, 120))
	require.NoError(t, err)

	second := f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(110))
	assert.False(t, second.Point.IsCritical)

	points, err := f.monitoring.ListMeasurements(ctx, session.ID, MeasurementQuery{})
	require.NoError(t, err)
	require.Len(t, points, 2)
	for _, p := range points {
		assert.Equal(t, p.ID == first.Point.ID, p.IsCritical)
	}
}

func TestCreateSession_SingleActiveSessionPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.startSession(t, "user-1", nil)

	_, err := f.monitoring.CreateSession(ctx, CreateSessionInput{UserID: "user-1", Type: model.SessionTypeScheduled})
	assert.True(t, errors.Is(err, model.ErrConflict))

	_, err = f.monitoring.CreateSession(ctx, CreateSessionInput{UserID: "user-2", Type: model.SessionTypeEmergency})
	assert.NoError(t, err, "other users are unaffected")
}

func TestCreateSession_ConcurrentCreatesYieldOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.monitoring.CreateSession(ctx, CreateSessionInput{UserID: "user-1", Type: model.SessionTypeContinuous})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, model.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
}

func TestCreateSession_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.monitoring.CreateSession(ctx, CreateSessionInput{Type: model.SessionTypeContinuous})
	assert.True(t, model.IsValidation(err))

	_, err = f.monitoring.CreateSession(ctx, CreateSessionInput{UserID: "user-1", Type: "hourly"})
	assert.True(t, model.IsValidation(err))

	_, err = f.monitoring.CreateSession(ctx, CreateSessionInput{
		UserID:     "user-1",
		Type:       model.SessionTypeContinuous,
		Thresholds: heartRateThresholds(100, 60),
	})
	assert.True(t, model.IsValidation(err))
}

func TestCreateSession_DefaultThresholds(t *testing.T) {
	f := newFixture(t)
	f.monitoring.cfg.ApplyDefaultThresholds = true

	session := f.startSession(t, "user-1", nil)
	assert.Contains(t, session.Thresholds, model.DataTypeHeartRate)
	assert.Contains(t, session.Thresholds, model.DataTypeOxygenSaturation)

	explicit := f.startSession(t, "user-2", heartRateThresholds(40, 180))
	assert.Len(t, explicit.Thresholds, 1)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.startSession(t, "user-1", heartRateThresholds(60, 100))

	paused, err := f.monitoring.PauseSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPaused, paused.Status)

	active, err := f.monitoring.GetActiveSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, active, "paused session is not active")

	result := f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(150))
	assert.False(t, result.Point.IsCritical, "paused session does not evaluate thresholds")

	_, err = f.monitoring.PauseSession(ctx, session.ID)
	assert.True(t, errors.Is(err, model.ErrConflict))

	resumed, err := f.monitoring.ResumeSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusActive, resumed.Status)

	ended, err := f.monitoring.EndSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, ended.Status)
	require.NotNil(t, ended.EndedAt)

	_, err = f.monitoring.EndSession(ctx, session.ID)
	assert.True(t, errors.Is(err, model.ErrConflict), "completed is terminal")
	_, err = f.monitoring.ResumeSession(ctx, session.ID)
	assert.True(t, errors.Is(err, model.ErrConflict))
	_, err = f.monitoring.TerminateSession(ctx, session.ID)
	assert.True(t, errors.Is(err, model.ErrConflict))
	_, err = f.monitoring.UpdateThresholds(ctx, session.ID, heartRateThresholds(50, 110))
	assert.True(t, errors.Is(err, model.ErrConflict))

	next := f.startSession(t, "user-1", nil)
	assert.NotEqual(t, session.ID, next.ID, "a new session can start after the previous one ended")
}

func TestResumeSession_RefusedWhileAnotherIsActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.startSession(t, "user-1", nil)
	_, err := f.monitoring.PauseSession(ctx, first.ID)
	require.NoError(t, err)

	f.startSession(t, "user-1", nil)

	_, err = f.monitoring.ResumeSession(ctx, first.ID)
	assert.True(t, errors.Is(err, model.ErrConflict))
}

func TestTerminateSession(t *testing.T) {
	f := newFixture(t)

	session := f.startSession(t, "user-1", nil)
	terminated, err := f.monitoring.TerminateSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusTerminated, terminated.Status)
	assert.NotNil(t, terminated.EndedAt)
}

func TestGetSession_NotFoundAndMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.monitoring.GetSession(ctx, uuid.New().String())
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = f.monitoring.GetSession(ctx, "42")
	assert.True(t, model.IsValidation(err))
}

func TestAuthorizeSession(t *testing.T) {
	provider := "dr-kim"
	session := &model.MonitoringSession{ID: "s", UserID: "user-1", ProviderID: &provider}

	assert.NoError(t, AuthorizeSession(session, "user-1"))
	assert.NoError(t, AuthorizeSession(session, "dr-kim"))
	assert.True(t, errors.Is(AuthorizeSession(session, "user-2"), model.ErrForbidden))
}

func TestQueryMeasurements_LimitPolicy(t *testing.T) {
	measurements := new(MockMeasurementRepository)
	f := newFixture(t, withMeasurementRepo(measurements))
	ctx := context.Background()

	tests := []struct {
		requested int
		expected  int
	}{
		{requested: 0, expected: 100},
		{requested: -5, expected: 100},
		{requested: 25, expected: 25},
		{requested: 5000, expected: 1000},
	}

	for _, tt := range tests {
		measurements.On("List", ctx, mock.MatchedBy(func(filter model.MeasurementFilter) bool {
			return filter.Limit == tt.expected && filter.UserID == "user-1"
		})).Return([]model.MeasurementPoint{}, nil).Once()

		_, err := f.monitoring.QueryMeasurements(ctx, "user-1", MeasurementQuery{Limit: tt.requested})
		require.NoError(t, err)
	}

	measurements.AssertExpectations(t)
}

func TestQueryMeasurements_FiltersByTypeAndSince(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	_, err := f.monitoring.Ingest(ctx, IngestInput{UserID: "user-1", DataType: "heart_rate", Value: model.ScalarValue(70), MeasuredAt: old})
	require.NoError(t, err)
	f.ingest(t, "user-1", model.DataTypeHeartRate, model.ScalarValue(75))
	f.ingest(t, "user-1", model.DataTypeTemperature, model.ScalarValue(36.6))

	since := time.Now().Add(-time.Hour)
	points, err := f.monitoring.QueryMeasurements(ctx, "user-1", MeasurementQuery{
		DataTypes: []string{model.DataTypeHeartRate},
		Since:     &since,
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, model.ScalarValue(75), points[0].Value)

	_, err = f.monitoring.QueryMeasurements(ctx, "user-1", MeasurementQuery{DataTypes: []string{"DROP TABLE"}})
	assert.True(t, model.IsValidation(err))
}
