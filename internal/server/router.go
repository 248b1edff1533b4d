// Package server assembles the HTTP router from handlers and middleware.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/guard"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/handler"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/metrics"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/middleware"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/notification"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/service"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies are the wired services the router exposes
type Dependencies struct {
	Monitoring *service.MonitoringService
	Alerts     *service.AlertService
	Sharing    *service.SharingService
	Reports    *service.ReportService
	Inbox      *notification.Inbox
	Hub        *notification.Hub

	Auth           middleware.AuthConfig
	RateLimiter    guard.RateLimiter
	Metrics        *metrics.Collector
	Gatherer       prometheus.Gatherer
	HealthChecks   map[string]handler.Check
	AllowedOrigins []string
}

// NewRouter builds the gin engine with the full middleware chain and all API routes
func NewRouter(ctx context.Context, deps Dependencies, logger *zap.Logger) (*gin.Engine, error) {
	doc, err := api.LoadSpec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load API contract: %w", err)
	}
	validator, err := middleware.OpenAPIValidatorMiddleware(doc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build request validator: %w", err)
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := gin.New()

	// Recovery must be first
	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID, handler.HeaderShareToken},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Location", middleware.HeaderRequestID, "X-Unread-Count"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.AuditContextMiddleware())
	r.Use(middleware.RequestLoggingMiddleware(logger, "/health", "/metrics"))
	r.Use(middleware.ErrorLoggingMiddleware(logger))
	r.Use(middleware.MetricsMiddleware(deps.Metrics))

	health := handler.NewHealthHandler(deps.HealthChecks, logger)
	r.GET("/health", health.GetHealth)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	monitoring := handler.NewMonitoringHandler(deps.Monitoring, logger)
	alerts := handler.NewAlertHandler(deps.Alerts, deps.Monitoring, logger)
	shares := handler.NewShareHandler(deps.Sharing, logger)
	reports := handler.NewReportHandler(deps.Reports, logger)
	notifications := handler.NewNotificationHandler(deps.Inbox, deps.Hub, logger)

	rateLimit := middleware.RateLimitMiddleware(deps.RateLimiter, logger)

	// Providers authenticate with a share token instead of a user identity
	shared := r.Group("/api/v1/shared")
	shared.Use(rateLimit, validator)
	shared.GET("/measurements", shares.AccessSharedMeasurements)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(deps.Auth, logger), rateLimit, validator)
	{
		v1.POST("/sessions", monitoring.CreateSession)
		v1.GET("/sessions", monitoring.ListSessions)
		v1.GET("/sessions/active", monitoring.GetActiveSession)
		v1.GET("/sessions/:id", monitoring.GetSession)
		v1.PUT("/sessions/:id/thresholds", monitoring.UpdateThresholds)
		v1.POST("/sessions/:id/pause", monitoring.PauseSession)
		v1.POST("/sessions/:id/resume", monitoring.ResumeSession)
		v1.POST("/sessions/:id/end", monitoring.EndSession)
		v1.GET("/sessions/:id/measurements", monitoring.ListSessionMeasurements)
		v1.GET("/sessions/:id/alerts", alerts.ListSessionAlerts)
		v1.POST("/sessions/:id/report", reports.GenerateSessionReport)

		v1.POST("/measurements", monitoring.IngestMeasurement)
		v1.GET("/measurements", monitoring.ListMeasurements)

		v1.GET("/alerts", alerts.ListActiveAlerts)
		v1.POST("/alerts", alerts.CreateAlert)
		v1.POST("/alerts/:id/acknowledge", alerts.AcknowledgeAlert)
		v1.POST("/alerts/:id/resolve", alerts.ResolveAlert)

		v1.POST("/shares", shares.CreateShare)
		v1.GET("/shares", shares.ListShares)
		v1.POST("/shares/:id/revoke", shares.RevokeShare)

		v1.GET("/reports/:id", reports.GetReport)

		v1.GET("/notifications", notifications.ListNotifications)
		v1.POST("/notifications/:id/read", notifications.MarkRead)
		v1.GET("/ws", notifications.Stream)
	}

	return r, nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
