package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// prometheus.MustRegister panics on duplicate registration against the
// default registry, so every test in this file shares one instance.
var (
	sharedMetrics *Metrics
	sharedOnce    sync.Once
)

func testMetrics() *Metrics {
	sharedOnce.Do(func() {
		sharedMetrics = New()
	})
	return sharedMetrics
}

func TestMiddlewarePassesInstrumentedRequestThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := testMetrics()
	engine := gin.New()
	engine.Use(m.Middleware())
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecordVerifyAndSettleDoNotPanic(t *testing.T) {
	m := testMetrics()
	assert.NotPanics(t, func() {
		m.RecordVerify("eip155:1", "exact", true)
		m.RecordVerify("eip155:1", "exact", false)
		m.RecordSettle("eip155:1", "exact", true)
		m.RecordSettle("eip155:1", "exact", false)
	})
}

func TestRecordBridgeJobLifecycleDoesNotPanic(t *testing.T) {
	m := testMetrics()
	assert.NotPanics(t, func() {
		m.RecordBridgeJobStart()
		m.RecordBridgeJobTerminal("eip155:1", "eip155:8453", "completed", 0)
	})
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := testMetrics()
	engine := gin.New()
	engine.GET("/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "facilitator_requests_total")
}

func TestOutcomeMapsBooleanToLabel(t *testing.T) {
	assert.Equal(t, "success", outcome(true))
	assert.Equal(t, "failure", outcome(false))
}
