// Package ratelimit enforces request rate limits using Redis or in-memory storage.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/quillapp/quill-server/internal/config"
	"github.com/quillapp/quill-server/internal/logging"
	"github.com/quillapp/quill-server/internal/metrics"
)

// RateLimiter holds the per-endpoint limiter instances.
type RateLimiter struct {
	apiPublic *limiter.Limiter
	apiRooms  *limiter.Limiter
	wsIP      *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter builds a RateLimiter, preferring a Redis-backed store and
// falling back to an in-process memory store when no client is supplied.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	publicRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid API public rate: %w", err)
	}
	roomsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIRooms)
	if err != nil {
		return nil, fmt.Errorf("invalid API rooms rate: %w", err)
	}
	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "quill:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("create redis limiter store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store")
	}

	return &RateLimiter{
		apiPublic: limiter.New(store, publicRate),
		apiRooms:  limiter.New(store, roomsRate),
		wsIP:      limiter.New(store, wsRate),
		store:     store,
	}, nil
}

// Public rate-limits unauthenticated endpoints (signup, token issuance) by IP.
func (rl *RateLimiter) Public() gin.HandlerFunc {
	return rl.middleware(rl.apiPublic, "api_public", func(c *gin.Context) string { return c.ClientIP() })
}

// Rooms rate-limits room creation, keyed by authenticated user ID when present.
func (rl *RateLimiter) Rooms() gin.HandlerFunc {
	return rl.middleware(rl.apiRooms, "api_rooms", userOrIPKey)
}

func userOrIPKey(c *gin.Context) string {
	if uid, ok := c.Get("user_id"); ok {
		if s, ok := uid.(string); ok && s != "" {
			return s
		}
	}
	return c.ClientIP()
}

func (rl *RateLimiter) middleware(instance *limiter.Limiter, endpoint string, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		ctx := c.Request.Context()

		lctx, err := instance.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(endpoint, "limit_reached").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message":     "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(endpoint).Inc()
		c.Next()
	}
}

// CheckWebSocket enforces the per-IP websocket-connect limit before the
// upgrade happens. Returns true if the connection should proceed.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	lctx, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "websocket rate limiter store failed", zap.Error(err))
		return true
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"message": "too many connections from this address"})
		return false
	}
	return true
}
