// Package health implements liveness and readiness checks.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoBrian/RailBridge/internal/cache"
)

// Status is a check's reported state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is one dependency's health result.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the /ready payload.
type Response struct {
	Status  Status  `json:"status"`
	Checks  []Check `json:"checks"`
	Version string  `json:"version"`
}

// Checker runs dependency checks concurrently.
type Checker struct {
	redis   *cache.Client
	version string
}

// NewChecker constructs a Checker. redis may be nil if the service is
// running in degraded mode without a cache.
func NewChecker(redisClient *cache.Client, version string) *Checker {
	return &Checker{redis: redisClient, version: version}
}

// HealthHandler is the liveness probe: always 200 once the process is up.
func (c *Checker) HealthHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{
			"status":      string(StatusHealthy),
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"facilitator": "cross-chain-evm",
		})
	}
}

// ReadyHandler is the readiness probe: runs all checks concurrently and
// returns 503 if the aggregate status is not healthy.
func (c *Checker) ReadyHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checks := c.runChecks(ctx.Request.Context())
		overall := calculateOverallStatus(checks)
		status := 200
		if overall != StatusHealthy {
			status = 503
		}
		ctx.JSON(status, Response{Status: overall, Checks: checks, Version: c.version})
	}
}

func (c *Checker) runChecks(ctx context.Context) []Check {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks []Check
	)

	add := func(chk Check) {
		mu.Lock()
		defer mu.Unlock()
		checks = append(checks, chk)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		add(c.checkRedis(ctx))
	}()

	wg.Wait()
	return checks
}

func (c *Checker) checkRedis(ctx context.Context) Check {
	if c.redis == nil {
		return Check{Name: "redis", Status: StatusDegraded, Message: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(pingCtx); err != nil {
		return Check{Name: "redis", Status: StatusUnhealthy, Message: err.Error()}
	}
	return Check{Name: "redis", Status: StatusHealthy}
}

func calculateOverallStatus(checks []Check) Status {
	overall := StatusHealthy
	for _, chk := range checks {
		if chk.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if chk.Status == StatusDegraded {
			overall = StatusDegraded
		}
	}
	return overall
}
