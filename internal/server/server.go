// Package server wires the HTTP surface: middleware chain, route table,
// and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoBrian/RailBridge/internal/bridge"
	"github.com/MarcoBrian/RailBridge/internal/cache"
	"github.com/MarcoBrian/RailBridge/internal/config"
	"github.com/MarcoBrian/RailBridge/internal/health"
	"github.com/MarcoBrian/RailBridge/internal/metrics"
	"github.com/MarcoBrian/RailBridge/internal/orchestrator"
	"github.com/MarcoBrian/RailBridge/internal/ratelimit"
)

// Server owns the gin engine and the dependencies its handlers need.
type Server struct {
	engine       *gin.Engine
	httpServer   *http.Server
	facilitator  *orchestrator.Facilitator
	bridgeStore  bridge.Store
	bridgeWorker *bridge.Worker
	metrics      *metrics.Metrics
	logger       *slog.Logger
	cfg          *config.Config
}

var (
	fallbackMetrics     *metrics.Metrics
	fallbackMetricsOnce sync.Once
)

// New assembles the middleware chain (Recovery -> RequestID -> Logging ->
// CORS -> Metrics -> RateLimit) and the route table.
func New(
	cfg *config.Config,
	facilitator *orchestrator.Facilitator,
	bridgeStore bridge.Store,
	bridgeWorker *bridge.Worker,
	redisClient *cache.Client,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		// metrics.New registers on the default Prometheus registry, which
		// panics on a second registration, so every nil caller shares one.
		fallbackMetricsOnce.Do(func() { fallbackMetrics = metrics.New() })
		m = fallbackMetrics
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	checker := health.NewChecker(redisClient, "1.0.0")

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitRequests, time.Duration(cfg.RateLimitWindowSeconds)*time.Second)
	}

	engine.Use(gin.Recovery())
	engine.Use(requestID())
	engine.Use(requestLogging(logger))
	engine.Use(cors())
	engine.Use(m.Middleware())
	engine.Use(rateLimit(limiter))

	s := &Server{
		engine:       engine,
		facilitator:  facilitator,
		bridgeStore:  bridgeStore,
		bridgeWorker: bridgeWorker,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}

	engine.POST("/verify", s.handleVerify)
	engine.POST("/settle", s.handleSettle)
	engine.GET("/supported", s.handleSupported)
	engine.GET("/health", checker.HealthHandler())
	engine.GET("/ready", checker.ReadyHandler())
	engine.GET("/metrics", m.Handler())
	engine.GET("/admin/bridge-jobs/:id", s.handleGetBridgeJob)
	engine.POST("/admin/bridge-jobs/:id/cancel", s.handleCancelBridgeJob)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start runs the HTTP server until the process is asked to stop.
func (s *Server) Start() error {
	s.logger.Info("facilitator listening", "port", s.cfg.Port, "environment", s.cfg.Environment)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
