package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/biboandbobo2/psych-dev-backend/internal/handlers"
	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/utils"
)

// RateLimiter enforces fixed per-minute request budgets per client IP,
// counted in redis so limits hold across replicas.
type RateLimiter struct {
	rdb *redis.Client
	log *logger.Logger
}

func NewRateLimiter(ctx context.Context, baseLog *logger.Logger) (*RateLimiter, error) {
	log := baseLog.With("service", "RateLimiter")
	rdb := redis.NewClient(&redis.Options{
		Addr:     utils.GetEnv("REDIS_ADDR", "localhost:6379", log),
		Password: utils.GetEnv("REDIS_PASSWORD", "", log),
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RateLimiter{rdb: rdb, log: log}, nil
}

func (rl *RateLimiter) Close() error {
	if rl == nil || rl.rdb == nil {
		return nil
	}
	return rl.rdb.Close()
}

// Limit returns middleware allowing perMinute requests per client IP for
// the named operation. A nil limiter is a no-op, and redis errors fail
// open so an unavailable redis never takes the API down with it.
func (rl *RateLimiter) Limit(name string, perMinute int) gin.HandlerFunc {
	if rl == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%s", name, c.ClientIP())

		count, err := rl.rdb.Incr(c.Request.Context(), key).Result()
		if err != nil {
			rl.log.Warn("rate limit check failed, allowing request", "key", key, "error", err)
			c.Next()
			return
		}
		if count == 1 {
			if err := rl.rdb.Expire(c.Request.Context(), key, time.Minute).Err(); err != nil {
				rl.log.Warn("rate limit expire failed", "key", key, "error", err)
			}
		}
		if count > int64(perMinute) {
			handlers.RespondError(c, http.StatusTooManyRequests, handlers.CodeRateLimited,
				"too many requests, try again in a minute")
			return
		}
		c.Next()
	}
}
