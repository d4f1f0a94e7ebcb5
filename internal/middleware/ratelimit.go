package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit caps mutating requests per client IP and path using a Redis
// counter with a one minute window. Without Redis, or on cache errors, it
// fails open: the ledger's own concurrency control remains the backstop.
func RateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := "rl:op:" + c.IP() + ":" + c.Path()
		// Incr and Expire go in one MULTI/EXEC so a dropped connection can
		// never leave a counter without a TTL.
		pipe := cache.TxPipeline()
		incr := pipe.Incr(c.UserContext(), key)
		pipe.ExpireNX(c.UserContext(), key, time.Minute)
		if _, err := pipe.Exec(c.UserContext()); err != nil {
			return c.Next()
		}
		if cnt := incr.Val(); cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
