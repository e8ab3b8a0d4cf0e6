package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"callrelay-backend/internal/database"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
)

// RateLimiter implements Redis-based fixed-window rate limiting. While Redis
// is degraded it falls back to per-process token buckets.
type RateLimiter struct {
	redis    *database.RedisClient
	requests int
	window   time.Duration

	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

// NewRateLimiter creates a new rate limiter allowing requests per window.
// redisClient may be nil to rate limit in memory only.
func NewRateLimiter(redisClient *database.RedisClient, requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 100
	}
	if window < time.Second {
		window = time.Minute
	}
	return &RateLimiter{
		redis:    redisClient,
		requests: requests,
		window:   window,
		fallback: make(map[string]*rate.Limiter),
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		}

		allowed, remaining, err := rl.checkRateLimit(c.Request.Context(), identifier)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("Rate limiting in memory",
				zap.Error(err))
			allowed, remaining = rl.checkInMemory(identifier)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			abortWith(c, apperrors.RateLimitExceededError())
			return
		}
		c.Next()
	}
}

// checkRateLimit counts the request in the current Redis window
func (rl *RateLimiter) checkRateLimit(ctx context.Context, identifier string) (bool, int, error) {
	if rl.redis == nil {
		return false, 0, database.ErrRedisDegraded
	}

	window := time.Now().Unix() / int64(rl.window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%d", identifier, window)

	count, err := rl.redis.SafeIncr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		rl.redis.SafeExpire(ctx, key, rl.window)
	}

	remaining := rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return int(count) <= rl.requests, remaining, nil
}

func (rl *RateLimiter) checkInMemory(identifier string) (bool, int) {
	rl.mu.Lock()
	limiter, ok := rl.fallback[identifier]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.requests)), rl.requests)
		rl.fallback[identifier] = limiter
	}
	rl.mu.Unlock()

	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}
