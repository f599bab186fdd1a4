// Package ratelimit implements rate limiting logic using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/config"
	"github.com/Clay-Ferguson/quanta-chat-plugin/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter enforces one configured rate across three surfaces: the HTTP
// API (keyed by client IP), WebSocket upgrades (keyed by client IP) and
// inbound frames (keyed by the sender's public key). Key prefixes keep the
// budgets independent.
type RateLimiter struct {
	limiter     *limiter.Limiter
	store       limiter.Store
	redisClient *redis.Client
}

// NewRateLimiter creates a new RateLimiter instance. When redisClient is nil
// the limiter falls back to an in-process memory store, which is fine for a
// single instance but not shared across a fleet.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		limiter:     limiter.New(store, rate),
		store:       store,
		redisClient: redisClient,
	}, nil
}

// Middleware returns a Gin middleware enforcing the API rate limit per
// client IP. Store failures fail open: limiting is protection, not a
// dependency worth taking the API down for.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := rl.limiter.Get(ctx, c.ClientIP())
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		c.Next()
	}
}

// CheckUpgrade reports whether a WebSocket upgrade from this IP is within
// the limit. Fails open on store errors.
func (rl *RateLimiter) CheckUpgrade(ctx context.Context, clientIP string) bool {
	lctx, err := rl.limiter.Get(ctx, "upgrade:"+clientIP)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed (upgrade)", zap.Error(err))
		return true
	}
	return !lctx.Reached
}

// CheckFrame reports whether another inbound frame from this public key is
// within the limit. Callers drop the frame when false. Fails open on store
// errors.
func (rl *RateLimiter) CheckFrame(ctx context.Context, publicKey string) bool {
	lctx, err := rl.limiter.Get(ctx, "frame:"+publicKey)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed (frame)", zap.Error(err))
		return true
	}
	return !lctx.Reached
}
