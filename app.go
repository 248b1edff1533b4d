package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/audit"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/azure"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/config"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/guard"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/handler"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/metrics"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/middleware"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/notification"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/pdf"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/repository"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/security"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/server"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// storage bundles the repositories behind the selected driver
type storage struct {
	tx           service.Transactor
	sessions     service.SessionRepositoryInterface
	measurements service.MeasurementRepositoryInterface
	alerts       service.AlertRepositoryInterface
	shares       service.ShareRepositoryInterface
	reports      service.ReportRepositoryInterface
}

// app is the fully wired service with the resources it must release
type app struct {
	deps       server.Dependencies
	dispatcher *notification.Dispatcher
	closers    []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newLogger builds the zap logger for the configured environment, level and format
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Server.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	}

	if cfg.Logging.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
		}
		zcfg.Level = level
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json":
		zcfg.Encoding = "json"
		zcfg.EncoderConfig = zap.NewProductionEncoderConfig()
	case "console":
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zcfg.Build()
}

// newPool opens and pings the PostgreSQL pool
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// buildApp wires storage, coordination, notification and services from cfg
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	checks := map[string]handler.Check{}

	// Storage
	var (
		store       storage
		auditLogger *audit.Logger
	)
	switch cfg.Storage.Driver {
	case "memory":
		mem := repository.NewMemoryStore()
		store = storage{
			tx:           mem,
			sessions:     mem.Sessions(),
			measurements: mem.Measurements(),
			alerts:       mem.Alerts(),
			shares:       mem.Shares(),
			reports:      mem.Reports(),
		}
		auditLogger = audit.NewLogger(nil, logger)
		logger.Warn("using in-memory storage, data is lost on restart")
	default:
		pool, err := newPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		logger.Info("Successfully connected to database")

		if err := repository.Migrate(ctx, pool, logger); err != nil {
			return nil, err
		}

		store = storage{
			tx:           repository.NewTxManager(pool, logger),
			sessions:     repository.NewSessionRepository(pool, logger),
			measurements: repository.NewMeasurementRepository(pool, logger),
			alerts:       repository.NewAlertRepository(pool, logger),
			shares:       repository.NewShareRepository(pool, logger),
			reports:      repository.NewReportRepository(pool, logger),
		}
		auditLogger = audit.NewLogger(pool, logger)
		checks["database"] = pool.Ping
	}

	// Coordination
	var (
		locker     guard.Locker     = guard.NewLocalLocker()
		suppressor guard.Suppressor = guard.NewLocalSuppressor()
		limiter    guard.RateLimiter
	)
	if cfg.RateLimit.Requests > 0 {
		limiter = guard.NewLocalRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}

		locker = guard.NewRedisLocker(client, logger)
		suppressor = guard.NewRedisSuppressor(client, logger)
		if cfg.RateLimit.Requests > 0 {
			limiter = guard.NewRedisRateLimiter(client, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger)
		}
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("Successfully connected to redis")
	}

	// Blob storage for reports
	blobs, err := newBlobStorage(ctx, cfg.Azure.Storage, logger)
	if err != nil {
		return nil, err
	}

	var encryptor *security.Encryptor
	if cfg.Sharing.EncryptionKey != "" {
		encryptor, err = security.NewEncryptorFromBase64(cfg.Sharing.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid share encryption key: %w", err)
		}
	} else {
		logger.Warn("share encryption key not set, provider addresses are stored in clear text")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// Notification
	inbox := notification.NewInbox(cfg.Monitoring.InboxCapacity)
	hub := notification.NewHub(logger, notification.WithAllowedOrigins(cfg.Server.AllowedOrigins))
	a.dispatcher = notification.NewDispatcher(
		notification.Fanout{inbox, hub},
		notification.DispatcherConfig{
			QueueSize:    cfg.Monitoring.DispatchQueueSize,
			Workers:      cfg.Monitoring.DispatchWorkers,
			PerUserRate:  float64(cfg.Monitoring.DispatchRatePerMin) / 60,
			PerUserBurst: cfg.Monitoring.DispatchRatePerMin,
		},
		collector,
		logger,
	)

	// Services
	alertService := service.NewAlertService(
		store.tx,
		store.alerts,
		store.sessions,
		suppressor,
		a.dispatcher,
		auditLogger,
		collector,
		cfg.Monitoring.DedupWindow,
		logger,
	)
	monitoringService := service.NewMonitoringService(
		store.tx,
		store.sessions,
		store.measurements,
		alertService,
		locker,
		auditLogger,
		collector,
		service.MonitoringConfig{
			DefaultQueryLimit:      cfg.Monitoring.DefaultQueryLimit,
			MaxQueryLimit:          cfg.Monitoring.MaxQueryLimit,
			ApplyDefaultThresholds: cfg.Monitoring.DefaultThresholds,
			SessionLockTTL:         cfg.Monitoring.SessionLockTTL,
		},
		logger,
	)
	sharingService := service.NewSharingService(
		store.shares,
		store.measurements,
		encryptor,
		auditLogger,
		service.SharingConfig{
			DefaultDurationDays: cfg.Sharing.DefaultDurationDays,
			MaxDurationDays:     cfg.Sharing.MaxDurationDays,
			DefaultQueryLimit:   cfg.Monitoring.DefaultQueryLimit,
			MaxQueryLimit:       cfg.Monitoring.MaxQueryLimit,
		},
		logger,
	)
	reportService := service.NewReportService(
		store.sessions,
		store.measurements,
		store.alerts,
		store.reports,
		blobs,
		pdf.NewPDFGenerator(logger),
		auditLogger,
		logger,
	)

	a.deps = server.Dependencies{
		Monitoring: monitoringService,
		Alerts:     alertService,
		Sharing:    sharingService,
		Reports:    reportService,
		Inbox:      inbox,
		Hub:        hub,
		Auth: middleware.AuthConfig{
			Secret:              []byte(cfg.Auth.JWTSecret),
			Issuer:              cfg.Auth.Issuer,
			AllowHeaderIdentity: cfg.Server.Environment != "production",
		},
		RateLimiter:    limiter,
		Metrics:        collector,
		Gatherer:       reg,
		HealthChecks:   checks,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}

	ok = true
	return a, nil
}

// newBlobStorage connects to Azure Blob Storage, or keeps reports in memory when no credentials are set
func newBlobStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (azure.ReportStore, error) {
	if !cfg.Enabled() {
		logger.Warn("azure storage not configured, reports are kept in memory")
		return azure.NewMemoryBlobStorage(logger), nil
	}

	var (
		client *azure.BlobStorageClient
		err    error
	)
	if cfg.ConnectionString != "" {
		client, err = azure.NewBlobStorageClientFromConnectionString(cfg.ConnectionString, cfg.ReportContainer, logger)
	} else {
		client, err = azure.NewBlobStorageClient(cfg.AccountName, cfg.AccountKey, cfg.ReportContainer, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report blob storage client: %w", err)
	}
	if err := client.EnsureContainer(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare report container: %w", err)
	}
	return client, nil
}
