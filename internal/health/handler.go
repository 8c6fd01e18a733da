// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/logging"
)

// Handler manages health check endpoints.
type Handler struct {
	cache *cache.Client
	db    *gorm.DB
}

// NewHandler creates a new health check handler.
func NewHandler(cacheClient *cache.Client, db *gorm.DB) *Handler {
	return &Handler{cache: cacheClient, db: db}
}

type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live; it never checks dependencies.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready; 503 if any dependency is unhealthy.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	pgStatus := h.checkPostgres(ctx)
	checks["postgres"] = pgStatus
	if pgStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.cache == nil {
		return "healthy"
	}
	if err := h.cache.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkPostgres(ctx context.Context) string {
	if h.db == nil {
		return "healthy"
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		logging.Error(ctx, "postgres handle unavailable", zap.Error(err))
		return "unhealthy"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		logging.Error(ctx, "postgres health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
