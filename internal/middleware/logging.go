package middleware

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hobbong21/khub-personal-healthdata-sub007/internal/audit"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context keys set by the middleware chain
const (
	ContextRequestID = "request_id"
	ContextUserID    = "user_id"
)

// HeaderRequestID carries the request ID in both directions
const HeaderRequestID = "X-Request-ID"

// upstream request IDs are echoed into headers and logs, so only plain tokens are accepted
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestLoggingMiddleware writes one access log line per request. Requests to
// quietPaths (health checks and scrapes) are logged at debug level unless they fail.
func RequestLoggingMiddleware(logger *zap.Logger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level, msg := accessLevel(status)
		if _, ok := quiet[c.Request.URL.Path]; ok && status < http.StatusBadRequest {
			level = zapcore.DebugLevel
		}
		ce := logger.Check(level, msg)
		if ce == nil {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		userID := c.GetString(ContextUserID)
		if userID == "" {
			userID = "anonymous"
		}

		ce.Write(
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("user_id", userID),
			zap.Int("status", status),
			zap.Int("response_bytes", c.Writer.Size()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("request_id", c.GetString(ContextRequestID)),
			zap.Time("timestamp", start),
		)
	}
}

func accessLevel(status int) (zapcore.Level, string) {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel, "Request completed with server error"
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel, "Request completed with client error"
	default:
		return zapcore.InfoLevel, "Request completed"
	}
}

// ErrorLoggingMiddleware logs the errors handlers attached with c.Error.
// Private errors carry a stack trace, public ones were already shown to the caller.
func ErrorLoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}

		base := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(ContextRequestID)),
			zap.String("user_id", c.GetString(ContextUserID)),
		}
		for i, err := range c.Errors {
			fields := append(base[:len(base):len(base)],
				zap.Error(err.Err),
				zap.Int("error_index", i),
				zap.Bool("public", err.IsType(gin.ErrorTypePublic)),
			)
			if !err.IsType(gin.ErrorTypePublic) {
				fields = append(fields, zap.Stack("stack_trace"))
			}
			logger.Error("Request error occurred", fields...)
		}
	}
}

// RecoveryMiddleware turns a handler panic into a 500 with the standard error body
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error("Panic recovered",
				zap.Any("error", rec),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString(ContextRequestID)),
				zap.Stack("stack_trace"),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{
				Code:    api.CodeInternal,
				Message: "Internal server error",
			})
		}()

		c.Next()
	}
}

// RequestIDMiddleware keeps a well-formed upstream X-Request-ID or assigns a new one
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if !requestIDPattern.MatchString(requestID) {
			requestID = uuid.NewString()
		}

		c.Set(ContextRequestID, requestID)
		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}

// AuditContextMiddleware attaches the HTTP caller to the request context for audit entries
func AuditContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithClient(c.Request.Context(), audit.Client{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: c.GetString(ContextRequestID),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
