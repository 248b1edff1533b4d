package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/guard"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"go.uber.org/zap"
)

// RateLimitMiddleware admits a bounded number of requests per caller, keyed by
// user ID when authenticated and client IP otherwise. Limiter failures let the
// request through.
func RateLimitMiddleware(limiter guard.RateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := "ratelimit:ip:" + c.ClientIP()
		if userID := c.GetString(ContextUserID); userID != "" {
			key = "ratelimit:user:" + userID
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable, admitting request",
				zap.Error(err),
				zap.String("key", key),
			)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, api.ErrorResponse{
				Code:    api.CodeRateLimited,
				Message: "Too many requests",
			})
			return
		}

		c.Next()
	}
}
