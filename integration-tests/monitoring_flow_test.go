package integration_tests

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/handler"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/notification"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/service"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMonitoringFlowIntegration walks a patient through session creation, ingestion,
// alerting, asynchronous notification and acknowledgement
func TestMonitoringFlowIntegration(t *testing.T) {
	env := setupTestEnv(t)
	userID := "patient-" + uuid.NewString()

	w := env.request(t, "POST", "/api/v1/sessions", userID,
		`{"session_type":"continuous","alert_thresholds":{"heart_rate":{"min":50,"max":110},"blood_pressure":{"systolic_max":140,"diastolic_max":90},"oxygen_saturation":{"min":92}}}`, nil)
	statusOK(t, w, http.StatusCreated)
	session := decodeBody[model.MonitoringSession](t, w)
	assert.Equal(t, model.SessionStatusActive, session.Status)

	t.Run("second active session conflicts", func(t *testing.T) {
		w := env.request(t, "POST", "/api/v1/sessions", userID, `{"session_type":"scheduled"}`, nil)
		statusOK(t, w, http.StatusConflict)
		assert.Equal(t, api.CodeConflict, decodeBody[api.ErrorResponse](t, w).Code)
	})

	t.Run("normal readings do not alert", func(t *testing.T) {
		for _, body := range []string{
			`{"data_type":"heart_rate","value":72}`,
			`{"data_type":"blood_pressure","value":{"systolic":120,"diastolic":80}}`,
			`{"data_type":"oxygen_saturation","value":100}`,
			`{"data_type":"steps","value":4000}`,
		} {
			w := env.request(t, "POST", "/api/v1/measurements", userID, body, nil)
			statusOK(t, w, http.StatusCreated)
			result := decodeBody[service.IngestResult](t, w)
			assert.False(t, result.Point.IsCritical, body)
			assert.Nil(t, result.Alert, body)
			require.NotNil(t, result.Point.SessionID)
			assert.Equal(t, session.ID, *result.Point.SessionID)
		}
	})

	var alertID string
	t.Run("critical reading raises and delivers an alert", func(t *testing.T) {
		w := env.request(t, "POST", "/api/v1/measurements", userID,
			`{"data_type":"blood_pressure","value":{"systolic":145,"diastolic":85},"unit":"mmHg"}`, nil)
		statusOK(t, w, http.StatusCreated)
		result := decodeBody[service.IngestResult](t, w)
		assert.True(t, result.Point.IsCritical)
		require.NotNil(t, result.Alert)
		assert.Equal(t, model.SeverityHigh, result.Alert.Severity)
		assert.Equal(t, model.AlertTypeThresholdExceeded, result.Alert.Type)
		alertID = result.Alert.ID

		assert.Eventually(t, func() bool {
			return env.inbox.UnreadCount(userID) == 1
		}, 2*time.Second, 10*time.Millisecond, "dispatcher delivers to the inbox")

		notifications := env.inbox.List(userID, true)
		require.Len(t, notifications, 1)
		assert.Equal(t, alertID, notifications[0].AlertID)
	})

	t.Run("repeat breach within the dedup window is suppressed", func(t *testing.T) {
		w := env.request(t, "POST", "/api/v1/measurements", userID,
			`{"data_type":"blood_pressure","value":{"systolic":150,"diastolic":95}}`, nil)
		statusOK(t, w, http.StatusCreated)
		result := decodeBody[service.IngestResult](t, w)
		assert.True(t, result.Point.IsCritical)
		assert.Nil(t, result.Alert)
		assert.True(t, result.Suppressed)
	})

	t.Run("oxygen saturation has no ceiling", func(t *testing.T) {
		w := env.request(t, "POST", "/api/v1/measurements", userID, `{"data_type":"oxygen_saturation","value":100}`, nil)
		statusOK(t, w, http.StatusCreated)
		assert.False(t, decodeBody[service.IngestResult](t, w).Point.IsCritical)
	})

	t.Run("measurements are listed newest first and filtered by type", func(t *testing.T) {
		w := env.request(t, "GET", "/api/v1/sessions/"+session.ID+"/measurements?data_type=blood_pressure", userID, "", nil)
		statusOK(t, w, http.StatusOK)
		points := decodeBody[[]model.MeasurementPoint](t, w)
		require.Len(t, points, 3)
		for i := 1; i < len(points); i++ {
			assert.False(t, points[i].MeasuredAt.After(points[i-1].MeasuredAt))
		}
		for _, p := range points {
			assert.Equal(t, "blood_pressure", p.DataType)
		}

		w = env.request(t, "GET", "/api/v1/measurements?limit=2", userID, "", nil)
		statusOK(t, w, http.StatusOK)
		assert.Len(t, decodeBody[[]model.MeasurementPoint](t, w), 2)
	})

	t.Run("alerts are scoped to their owner", func(t *testing.T) {
		w := env.request(t, "GET", "/api/v1/alerts", userID, "", nil)
		statusOK(t, w, http.StatusOK)
		alerts := decodeBody[[]model.Alert](t, w)
		require.Len(t, alerts, 1)
		assert.Equal(t, alertID, alerts[0].ID)

		w = env.request(t, "GET", "/api/v1/alerts", "patient-"+uuid.NewString(), "", nil)
		statusOK(t, w, http.StatusOK)
		assert.Empty(t, decodeBody[[]model.Alert](t, w))

		w = env.request(t, "POST", "/api/v1/alerts/"+alertID+"/acknowledge", "patient-"+uuid.NewString(), "", nil)
		statusOK(t, w, http.StatusForbidden)
	})

	t.Run("acknowledging clears the active list and releases dedup", func(t *testing.T) {
		w := env.request(t, "POST", "/api/v1/alerts/"+alertID+"/acknowledge", userID, "", nil)
		statusOK(t, w, http.StatusOK)
		acked := decodeBody[model.Alert](t, w)
		assert.True(t, acked.Acknowledged)
		require.NotNil(t, acked.AcknowledgedBy)
		assert.Equal(t, userID, *acked.AcknowledgedBy)

		w = env.request(t, "GET", "/api/v1/sessions/"+session.ID+"/alerts", userID, "", nil)
		statusOK(t, w, http.StatusOK)
		assert.Empty(t, decodeBody[[]model.Alert](t, w))

		w = env.request(t, "POST", "/api/v1/measurements", userID, `{"data_type":"heart_rate","value":130}`, nil)
		statusOK(t, w, http.StatusCreated)
		assert.NotNil(t, decodeBody[service.IngestResult](t, w).Alert, "different data type is never deduplicated against blood pressure")

		w = env.request(t, "POST", "/api/v1/alerts/"+uuid.NewString()+"/acknowledge", userID, "", nil)
		statusOK(t, w, http.StatusNotFound)
	})

	t.Run("ending the session stops threshold evaluation", func(t *testing.T) {
		w := env.request(t, "POST", "/api/v1/sessions/"+session.ID+"/end", userID, "", nil)
		statusOK(t, w, http.StatusOK)
		ended := decodeBody[model.MonitoringSession](t, w)
		assert.Equal(t, model.SessionStatusCompleted, ended.Status)
		assert.NotNil(t, ended.EndedAt)

		w = env.request(t, "POST", "/api/v1/sessions/"+session.ID+"/end", userID, "", nil)
		statusOK(t, w, http.StatusConflict)

		w = env.request(t, "GET", "/api/v1/sessions/active", userID, "", nil)
		statusOK(t, w, http.StatusNotFound)

		w = env.request(t, "POST", "/api/v1/measurements", userID, `{"data_type":"heart_rate","value":250}`, nil)
		statusOK(t, w, http.StatusCreated)
		result := decodeBody[service.IngestResult](t, w)
		assert.False(t, result.Point.IsCritical)
		assert.Nil(t, result.Point.SessionID)
	})

	t.Run("notifications are readable over HTTP", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			return len(env.inbox.List(userID, false)) == 2
		}, 2*time.Second, 10*time.Millisecond)

		w := env.request(t, "GET", "/api/v1/notifications?unread=true", userID, "", nil)
		statusOK(t, w, http.StatusOK)
		assert.Equal(t, "2", w.Header().Get("X-Unread-Count"))
		notifications := decodeBody[[]model.Notification](t, w)
		require.NotEmpty(t, notifications)

		w = env.request(t, "POST", "/api/v1/notifications/"+notifications[0].ID+"/read", userID, "", nil)
		statusOK(t, w, http.StatusNoContent)
		assert.Equal(t, 1, env.inbox.UnreadCount(userID))
	})

	assert.Equal(t, 2.0, alertsCreated(t, env))
}

func alertsCreated(t *testing.T, env *testEnv) float64 {
	t.Helper()
	families, err := env.registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != "monitoring_alerts_created_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// TestDataSharingIntegration covers a provider reading a patient's shared data with a token
func TestDataSharingIntegration(t *testing.T) {
	env := setupTestEnv(t)
	userID := "patient-" + uuid.NewString()

	for _, body := range []string{
		`{"data_type":"heart_rate","value":64}`,
		`{"data_type":"heart_rate","value":66}`,
		`{"data_type":"glucose","value":5.4}`,
	} {
		statusOK(t, env.request(t, "POST", "/api/v1/measurements", userID, body, nil), http.StatusCreated)
	}

	w := env.request(t, "POST", "/api/v1/shares", userID,
		`{"provider_address":"dr.kim@clinic.example","data_types":["heart_rate"],"duration_days":7}`, nil)
	statusOK(t, w, http.StatusCreated)
	grant := decodeBody[service.ShareGrant](t, w)
	require.NotEmpty(t, grant.AccessToken)
	require.NotNil(t, grant.Share.EndDate)
	assert.WithinDuration(t, grant.Share.StartDate.AddDate(0, 0, 7), *grant.Share.EndDate, time.Second)
	assert.NotContains(t, w.Body.String(), "token_hash")

	shareHeaders := map[string]string{handler.HeaderShareToken: grant.AccessToken}

	w = env.request(t, "GET", "/api/v1/shared/measurements", "", "", shareHeaders)
	statusOK(t, w, http.StatusOK)
	shared := decodeBody[api.SharedMeasurementsResponse](t, w)
	require.Len(t, shared.Measurements, 2)
	for _, p := range shared.Measurements {
		assert.Equal(t, "heart_rate", p.DataType)
	}

	w = env.request(t, "GET", "/api/v1/shared/measurements?data_type=glucose", "", "", shareHeaders)
	statusOK(t, w, http.StatusForbidden)

	w = env.request(t, "GET", "/api/v1/shared/measurements", "", "", map[string]string{handler.HeaderShareToken: "not-a-token"})
	statusOK(t, w, http.StatusForbidden)

	w = env.request(t, "GET", "/api/v1/shares", userID, "", nil)
	statusOK(t, w, http.StatusOK)
	shares := decodeBody[[]model.DataShare](t, w)
	require.Len(t, shares, 1)
	assert.True(t, shares[0].Active)

	w = env.request(t, "POST", "/api/v1/shares/"+grant.Share.ID+"/revoke", "patient-"+uuid.NewString(), "", nil)
	statusOK(t, w, http.StatusForbidden)

	w = env.request(t, "POST", "/api/v1/shares/"+grant.Share.ID+"/revoke", userID, "", nil)
	statusOK(t, w, http.StatusOK)
	assert.False(t, decodeBody[model.DataShare](t, w).Active)

	w = env.request(t, "GET", "/api/v1/shared/measurements", "", "", shareHeaders)
	statusOK(t, w, http.StatusForbidden)
}

// TestAlertStreamIntegration subscribes over a websocket and receives the alert raised by an ingest
func TestAlertStreamIntegration(t *testing.T) {
	env := setupTestEnv(t)
	userID := "patient-" + uuid.NewString()

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, userID))
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	assert.Eventually(t, func() bool {
		return env.hub.ClientCount(userID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	statusOK(t, env.request(t, "POST", "/api/v1/sessions", userID,
		`{"session_type":"emergency","alert_thresholds":{"temperature":{"min":35,"max":38}}}`, nil), http.StatusCreated)

	w := env.request(t, "POST", "/api/v1/measurements", userID, `{"data_type":"temperature","value":39.4}`, nil)
	statusOK(t, w, http.StatusCreated)
	result := decodeBody[service.IngestResult](t, w)
	require.NotNil(t, result.Alert)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var event notification.Event
	require.NoError(t, json.Unmarshal(message, &event))
	assert.Equal(t, "alert.created", event.Type)
	assert.Equal(t, notification.UserTopic(userID), event.Topic)
	assert.Equal(t, result.Alert.ID, event.ResourceID)

	var alert model.Alert
	require.NoError(t, json.Unmarshal(event.Data, &alert))
	assert.Equal(t, "temperature", alert.DataType)

	// The inbox receives the same alert through the fanout
	assert.Eventually(t, func() bool {
		return env.inbox.UnreadCount(userID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w = env.request(t, "GET", "/api/v1/ws", "", "", nil)
	statusOK(t, w, http.StatusUnauthorized)
}
