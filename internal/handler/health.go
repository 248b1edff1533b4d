package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"go.uber.org/zap"
)

const (
	serviceName    = "health-monitoring"
	serviceVersion = "1.0.0"
)

// Check tests one dependency
type Check func(ctx context.Context) error

// HealthHandler implements the health check endpoint
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. checks is keyed by dependency name.
func NewHealthHandler(checks map[string]Check, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// GetHealth reports healthy only when every dependency answers
func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	response := api.HealthResponse{
		Status:  "healthy",
		Service: serviceName,
		Version: serviceVersion,
		Checks:  make(map[string]string, len(names)),
	}

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Error("health check failed: dependency unreachable",
				zap.Error(err),
				zap.String("dependency", name),
			)
			response.Status = "unhealthy"
			response.Checks[name] = "disconnected"
			if response.Error == nil {
				response.Error = stringPtr(err.Error())
			}
			continue
		}
		response.Checks[name] = "connected"
	}

	if response.Error != nil {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}
