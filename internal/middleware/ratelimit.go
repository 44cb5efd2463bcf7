package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"kortrade/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

var errNoLimiterStore = errors.New("rate limit store not configured")

// Limit is a per-route request budget counted in Redis.
type Limit struct {
	Name   string
	Max    int
	Window time.Duration
	// FailClosed answers 503 when Redis is down. Routes that cost money
	// (SMS) or guard credentials use it; everything else fails open.
	FailClosed bool
}

// throttleDisabled is true in local and test envs so manual testing and
// load scripts are not throttled.
func throttleDisabled() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// Consume counts one hit in a fixed window keyed by key and reports
// whether it fits in max. It ignores APP_ENV so business quotas such as
// the hourly SMS cap always apply.
func Consume(ctx context.Context, rdb *redis.Client, key string, max int, window time.Duration) (bool, int64, error) {
	if rdb == nil {
		return false, 0, errNoLimiterStore
	}
	n, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := rdb.Expire(ctx, key, window).Err(); err != nil {
			return false, n, err
		}
	}
	return n <= int64(max), n, nil
}

// Allow applies l to the caller identified by who.
func Allow(ctx context.Context, rdb *redis.Client, l Limit, who string) (bool, int64, error) {
	if throttleDisabled() {
		return true, 0, nil
	}
	return Consume(ctx, rdb, "rl:"+l.Name+":"+who, l.Max, l.Window)
}

// Throttle enforces l per member, or per IP for anonymous requests. When
// l.Name is empty the route path is used.
func Throttle(rdb *redis.Client, l Limit) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := l
		if limit.Name == "" {
			limit.Name = c.Path()
		}
		who := "ip:" + c.IP()
		if uid := c.Locals("userID"); uid != nil {
			who = fmt.Sprintf("user:%v", uid)
		}

		ok, used, err := Allow(c.UserContext(), rdb, limit, who)
		if err != nil {
			if !limit.FailClosed {
				return c.Next()
			}
			Component("ratelimit").WarnContext(c.UserContext(), "limiter store unavailable, rejecting",
				slog.String("limit", limit.Name), slog.Any("error", err))
			return models.RespondWithError(c, fiber.StatusServiceUnavailable,
				models.NewUnavailableError("잠시 후 다시 시도해주세요", err))
		}
		if used > 0 {
			c.Set("X-RateLimit-Limit", strconv.Itoa(limit.Max))
			c.Set("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(limit.Max)-used), 10))
		}
		if !ok {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(limit.Window.Seconds())))
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitedError("요청이 너무 많습니다. 잠시 후 다시 시도해주세요."))
		}
		return c.Next()
	}
}
