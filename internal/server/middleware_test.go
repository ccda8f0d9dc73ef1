package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoBrian/RailBridge/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLimiter struct {
	allowed bool
	info    ratelimit.Info
	err     error
}

func (l *fakeLimiter) Allow(ctx context.Context, key string) (bool, ratelimit.Info, error) {
	return l.allowed, l.info, l.err
}

func newTestEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(requestID())
	engine.Use(requestLogging(slog.New(slog.NewJSONHandler(nopWriter{}, nil))))
	engine.Use(cors())
	return engine
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	engine := newTestEngine()
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestRequestIDPropagatesExisting(t *testing.T) {
	engine := newTestEngine()
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "fixed-id")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, "fixed-id", w.Header().Get(requestIDHeader))
}

func TestCORSHandlesPreflight(t *testing.T) {
	engine := newTestEngine()
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitSkipsHealth(t *testing.T) {
	engine := gin.New()
	engine.Use(rateLimit(&fakeLimiter{allowed: false}))
	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitRejectsWhenExceeded(t *testing.T) {
	engine := gin.New()
	engine.Use(rateLimit(&fakeLimiter{allowed: false, info: ratelimit.Info{Limit: 10, Remaining: 0, Reset: 123}}))
	engine.GET("/verify", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/verify", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	engine := gin.New()
	engine.Use(rateLimit(&fakeLimiter{err: errors.New("redis down")}))
	engine.GET("/verify", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/verify", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitAllowsAndSetsHeaders(t *testing.T) {
	engine := gin.New()
	engine.Use(rateLimit(&fakeLimiter{allowed: true, info: ratelimit.Info{Limit: 10, Remaining: 9, Reset: 123}}))
	engine.GET("/verify", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/verify", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
}
