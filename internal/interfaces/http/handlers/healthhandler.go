package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/finrelay/finrelay/internal/infrastructure/accumulator"
	"github.com/finrelay/finrelay/internal/shared/logger"
	"github.com/finrelay/finrelay/internal/shared/version"
)

// BatchStatsProvider reports the open accumulation windows.
type BatchStatsProvider interface {
	AllStats(ctx context.Context) ([]accumulator.Stats, error)
}

// LimiterStatsProvider reports current rate limit consumption.
type LimiterStatsProvider interface {
	Usage(ctx context.Context) map[string]int
	Limits() map[string]int
}

// HealthHandler reports process health plus pipeline diagnostics: window
// fill levels and rate limit headroom.
type HealthHandler struct {
	redis   *redis.Client
	batches BatchStatsProvider
	limiter LimiterStatsProvider
	logger  logger.Interface
}

func NewHealthHandler(redisClient *redis.Client, batches BatchStatsProvider, limiter LimiterStatsProvider, log logger.Interface) *HealthHandler {
	return &HealthHandler{
		redis:   redisClient,
		batches: batches,
		limiter: limiter,
		logger:  log,
	}
}

type batchStatus struct {
	BatchType   string  `json:"batch_type"`
	WindowID    int64   `json:"window_id"`
	RecordCount int     `json:"record_count"`
	WindowAge   float64 `json:"window_age_seconds"`
	Ready       bool    `json:"ready"`
}

type healthStatus struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Redis     string         `json:"redis"`
	Batches   []batchStatus  `json:"batches"`
	RateLimit rateLimitState `json:"rate_limit"`
}

type rateLimitState struct {
	Usage  map[string]int `json:"usage"`
	Limits map[string]int `json:"limits"`
}

// Liveness handles GET /health/live.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// BatchStats handles GET /health/batches.
func (h *HealthHandler) BatchStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	stats, err := h.batches.AllStats(ctx)
	if err != nil {
		h.logger.Errorw("failed to read batch stats", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "batch stats unavailable"})
		return
	}

	batches := make([]batchStatus, 0, len(stats))
	for _, s := range stats {
		batches = append(batches, batchStatus{
			BatchType:   string(s.BatchType),
			WindowID:    s.WindowID,
			RecordCount: s.RecordCount,
			WindowAge:   s.WindowAge.Seconds(),
			Ready:       s.Ready,
		})
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// HealthCheck handles GET /health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{
		Status:  "ok",
		Version: version.Version,
		Redis:   "ok",
		Batches: []batchStatus{},
	}
	code := http.StatusOK

	if err := h.redis.Ping(ctx).Err(); err != nil {
		h.logger.Warnw("health check: redis unreachable", "error", err)
		status.Status = "degraded"
		status.Redis = "unreachable"
		code = http.StatusServiceUnavailable
	}

	if stats, err := h.batches.AllStats(ctx); err == nil {
		for _, s := range stats {
			status.Batches = append(status.Batches, batchStatus{
				BatchType:   string(s.BatchType),
				WindowID:    s.WindowID,
				RecordCount: s.RecordCount,
				WindowAge:   s.WindowAge.Seconds(),
				Ready:       s.Ready,
			})
		}
	} else {
		h.logger.Warnw("health check: failed to read batch stats", "error", err)
	}

	status.RateLimit = rateLimitState{
		Usage:  h.limiter.Usage(ctx),
		Limits: h.limiter.Limits(),
	}

	c.JSON(code, status)
}
