package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedRouter(core zapcore.Core, quiet ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware(), RequestLoggingMiddleware(zap.New(core), quiet...))
	return router
}

// Every request yields exactly one access line whose level follows the status class
func TestProperty_AccessLogLevelFollowsStatus(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("one access line per request at the status level", prop.ForAll(
		func(method string, status int, userID string) bool {
			core, logs := observer.New(zapcore.DebugLevel)
			router := newLoggedRouter(core)
			router.Handle(method, "/api/v1/sessions/:id", func(c *gin.Context) {
				if userID != "" {
					c.Set(ContextUserID, userID)
				}
				c.Status(status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(method, "/api/v1/sessions/abc?limit=5", nil))

			entries := logs.All()
			if len(entries) != 1 {
				t.Logf("expected one access line, got %d", len(entries))
				return false
			}
			wantLevel, _ := accessLevel(status)
			fields := entries[0].ContextMap()
			wantUser := userID
			if wantUser == "" {
				wantUser = "anonymous"
			}
			return entries[0].Level == wantLevel &&
				fields["route"] == "/api/v1/sessions/:id" &&
				fields["path"] == "/api/v1/sessions/abc" &&
				fields["query"] == "limit=5" &&
				fields["method"] == method &&
				fields["user_id"] == wantUser &&
				fields["status"] == int64(status) &&
				fields["request_id"] != ""
		},
		gen.OneConstOf("GET", "POST", "PUT", "DELETE"),
		gen.OneConstOf(200, 201, 204, 400, 403, 404, 409, 429, 500, 503),
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Upstream IDs are kept only when they are short plain tokens
func TestProperty_RequestIDSanitized(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("unsafe upstream IDs are replaced", prop.ForAll(
		func(raw string) bool {
			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.Use(RequestIDMiddleware())
			router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest("GET", "/ping", nil)
			req.Header.Set(HeaderRequestID, raw)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			got := w.Header().Get(HeaderRequestID)
			if requestIDPattern.MatchString(raw) {
				return got == raw
			}
			return got != raw && requestIDPattern.MatchString(got)
		},
		gen.OneGenOf(
			gen.Identifier(),
			gen.AnyString(),
			gen.Const(strings.Repeat("a", 129)),
			gen.Const("id with spaces"),
		),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestRequestLogging_QuietPaths(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := newLoggedRouter(core, "/health")
	router.GET("/health", func(c *gin.Context) {
		if c.Query("fail") != "" {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 0, logs.Len(), "healthy checks stay below info")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health?fail=1", nil))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
}

func TestRequestLogging_UnmatchedRoute(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := newLoggedRouter(core)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", nil))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "unmatched", logs.All()[0].ContextMap()["route"])
}

func TestErrorLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorLoggingMiddleware(zap.New(core)))
	router.GET("/api/v1/alerts/:id", func(c *gin.Context) {
		_ = c.Error(errors.New("database unavailable"))
		_ = c.Error(errors.New("alert not found")).SetType(gin.ErrorTypePublic)
		c.Status(http.StatusInternalServerError)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/alerts/a-1", nil))

	entries := logs.FilterMessage("Request error occurred").All()
	require.Len(t, entries, 2)

	private := entries[0].ContextMap()
	assert.Equal(t, "database unavailable", private["error"])
	assert.Equal(t, "/api/v1/alerts/:id", private["route"])
	assert.Contains(t, private, "stack_trace")

	public := entries[1].ContextMap()
	assert.Equal(t, true, public["public"])
	assert.NotContains(t, public, "stack_trace")
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())

	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = c.GetString(ContextRequestID)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(HeaderRequestID))

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set(HeaderRequestID, "upstream-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "upstream-id", seen)
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.New(core)))
	router.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}
