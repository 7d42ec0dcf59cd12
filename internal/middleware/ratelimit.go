package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"plaza/internal/models"
	"plaza/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

// ThrottleBypassed reports whether request throttling is disabled for the environment.
// Dev, test and load-test workflows are not throttled.
func ThrottleBypassed(env string) bool {
	switch env {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// CheckRateLimit increments the fixed-window counter for resource/id.
// Returns true if allowed, false if the limit is exceeded.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("ratelimit_incr").Inc()
		return false, err
	}
	if cnt == 1 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			observability.RedisErrorRate.WithLabelValues("ratelimit_expire").Inc()
		}
	}
	return cnt <= int64(limit), nil
}

// RateLimiter throttles requests per caller with Redis counters.
type RateLimiter struct {
	rdb    *redis.Client
	bypass bool
	policy FailPolicy
}

// NewRateLimiter creates a limiter. When bypass is true every request is admitted.
func NewRateLimiter(rdb *redis.Client, bypass bool, policy FailPolicy) *RateLimiter {
	return &RateLimiter{rdb: rdb, bypass: bypass, policy: policy}
}

// Limit returns a Fiber middleware enforcing `limit` requests per `window` for the named resource.
// It keys by authenticated user id when present, otherwise by remote IP.
func (l *RateLimiter) Limit(resource string, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if l.bypass || limit <= 0 {
			return c.Next()
		}

		var id string
		if uid, ok := c.Locals(LocalUserID).(uint); ok {
			id = "user:" + strconv.FormatUint(uint64(uid), 10)
		} else {
			id = "ip:" + c.IP()
		}

		allowed, err := CheckRateLimit(c.UserContext(), l.rdb, resource, id, limit, window)
		if err != nil {
			if l.policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit fail-closed",
					"resource", resource, "error", err)
				return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
					Error: "rate limit unavailable",
					Code:  models.CodeInternal,
				})
			}
			return c.Next()
		}

		if !allowed {
			retry := int(window.Round(time.Second) / time.Second)
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewDenialError(models.CodeRateLimit, "rate limit exceeded", retry, nil))
		}
		return c.Next()
	}
}
