// Package ratelimit provides rate limiting middleware for query endpoints
package ratelimit

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/constructa/listquery/internal/pkg/log"
	"github.com/constructa/listquery/internal/types"
)

// Config holds the configuration for rate limiting middleware
type Config struct {
	// Max requests per caller within Window
	Max    int
	Window time.Duration

	// Next defines a function to skip this middleware when returned true
	Next func(c *fiber.Ctx) bool

	// Custom key generator (optional - uses the authenticated user, then the IP)
	KeyGenerator func(c *fiber.Ctx) string

	// LimitReached defines the response when rate limit is exceeded
	LimitReached func(c *fiber.Ctx) error
}

// configDefault sets default configuration values
func configDefault(config Config) Config {
	if config.Max <= 0 {
		config.Max = 120
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	if config.KeyGenerator == nil {
		config.KeyGenerator = CallerKey
	}

	if config.LimitReached == nil {
		window := config.Window
		config.LimitReached = func(c *fiber.Ctx) error {
			log.WarnWithContext(c.UserContext(), "[RateLimit] Rate limit exceeded for %s on %s", CallerKey(c), c.Path())

			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"code":       "RATE_LIMIT_EXCEEDED",
				"message":    fmt.Sprintf("Too many queries. Please try again in %s.", window),
				"retryAfter": int(window.Seconds()),
			})
		}
	}

	return config
}

// CallerKey identifies the caller by user id when authenticated, else by IP
func CallerKey(c *fiber.Ctx) string {
	if user, ok := c.Locals(types.UserCtxName).(types.UserContext); ok {
		return "user:" + user.UserID.String()
	}
	return "ip:" + c.IP()
}

// New creates a new rate limiting middleware handler
func New(config Config) fiber.Handler {
	cfg := configDefault(config)

	return limiter.New(limiter.Config{
		Max:          cfg.Max,
		Expiration:   cfg.Window,
		KeyGenerator: cfg.KeyGenerator,
		LimitReached: cfg.LimitReached,
		Next:         cfg.Next,
	})
}
