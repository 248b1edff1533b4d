package integration_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/audit"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/azure"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/guard"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/handler"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/metrics"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/middleware"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/notification"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/pdf"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/repository"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/server"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testIssuer = "health-monitoring"
	testSecret = "integration-test-secret-0123456789"
)

// testEnv is a fully wired API backed by PostgreSQL when TEST_DATABASE_URL is set, memory otherwise
type testEnv struct {
	router     *gin.Engine
	inbox      *notification.Inbox
	hub        *notification.Hub
	dispatcher *notification.Dispatcher
	registry   *prometheus.Registry
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	logger := zap.NewNop()

	var (
		tx           service.Transactor
		sessions     service.SessionRepositoryInterface
		measurements service.MeasurementRepositoryInterface
		alerts       service.AlertRepositoryInterface
		shares       service.ShareRepositoryInterface
		reports      service.ReportRepositoryInterface
		auditLogger  *audit.Logger
	)
	if dbURL := os.Getenv("TEST_DATABASE_URL"); dbURL != "" {
		db := setupTestDatabase(t, ctx, dbURL)
		tx = repository.NewTxManager(db, logger)
		sessions = repository.NewSessionRepository(db, logger)
		measurements = repository.NewMeasurementRepository(db, logger)
		alerts = repository.NewAlertRepository(db, logger)
		shares = repository.NewShareRepository(db, logger)
		reports = repository.NewReportRepository(db, logger)
		auditLogger = audit.NewLogger(db, logger)
	} else {
		store := repository.NewMemoryStore()
		tx = store
		sessions = store.Sessions()
		measurements = store.Measurements()
		alerts = store.Alerts()
		shares = store.Shares()
		reports = store.Reports()
		auditLogger = audit.NewLogger(nil, logger)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	inbox := notification.NewInbox(50)
	hub := notification.NewHub(logger)
	dispatcher := notification.NewDispatcher(notification.Fanout{inbox, hub}, notification.DispatcherConfig{
		QueueSize: 16,
		Workers:   2,
	}, collector, logger)
	dispatcher.Start()
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Stop(stopCtx)
	})

	alertService := service.NewAlertService(tx, alerts, sessions, guard.NewLocalSuppressor(),
		dispatcher, auditLogger, collector, 15*time.Minute, logger)
	monitoringService := service.NewMonitoringService(tx, sessions, measurements, alertService,
		guard.NewLocalLocker(), auditLogger, collector, service.DefaultMonitoringConfig(), logger)

	router, err := server.NewRouter(ctx, server.Dependencies{
		Monitoring: monitoringService,
		Alerts:     alertService,
		Sharing: service.NewSharingService(shares, measurements, nil, auditLogger,
			service.DefaultSharingConfig(), logger),
		Reports: service.NewReportService(sessions, measurements, alerts, reports,
			azure.NewMemoryBlobStorage(logger), pdf.NewPDFGenerator(logger), auditLogger, logger),
		Inbox:        inbox,
		Hub:          hub,
		Auth:         middleware.AuthConfig{Secret: []byte(testSecret), Issuer: testIssuer},
		Metrics:      collector,
		Gatherer:     reg,
		HealthChecks: map[string]handler.Check{},
	}, logger)
	require.NoError(t, err)

	return &testEnv{router: router, inbox: inbox, hub: hub, dispatcher: dispatcher, registry: reg}
}

func setupTestDatabase(t *testing.T, ctx context.Context, dbURL string) *pgxpool.Pool {
	t.Helper()

	config, err := pgxpool.ParseConfig(dbURL)
	require.NoError(t, err, "Should be able to parse database URL")

	db, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err, "Should be able to connect to database")
	t.Cleanup(db.Close)

	require.NoError(t, db.Ping(ctx), "Should be able to ping database")
	require.NoError(t, repository.Migrate(ctx, db, zap.NewNop()), "Should be able to apply migrations")
	return db
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := middleware.SignToken([]byte(testSecret), testIssuer, userID, time.Hour)
	require.NoError(t, err)
	return signed
}

func (e *testEnv) request(t *testing.T, method, path, userID string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func statusOK(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, w.Body.String())
}

