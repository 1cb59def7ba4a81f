package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"flowboard/internal/services"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Credential endpoints (per IP) - login/register brute force protection
	AuthMax        int
	AuthExpiration time.Duration

	// WebSocket connection attempts (per IP)
	WebSocketMax        int
	WebSocketExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 200/min - generous for a board client polling nothing
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		// Credential attempts: 10 per 15 minutes
		AuthMax:        10,
		AuthExpiration: 15 * time.Minute,

		// Board reconnects: 30/min covers flaky networks without
		// tolerating a reconnect storm
		WebSocketMax:        30,
		WebSocketExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_AUTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.AuthMax = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WEBSOCKET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WebSocketMax = n
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 1000
		config.AuthMax = 100
		config.WebSocketMax = 200
		log.Println("⚠️ [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a per-IP rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// WebSocketRateLimiter limits board WebSocket connection attempts per IP
func WebSocketRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.WebSocketMax,
		Expiration: config.WebSocketExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ws:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] WebSocket connection limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many connection attempts. Please wait before reconnecting.",
				"retry_after": int(config.WebSocketExpiration.Seconds()),
			})
		},
	})
}

// AuthRateLimiter limits credential attempts per IP with a Redis-backed
// counter so the limit holds across instances. Without Redis it falls back
// to the in-memory fiber limiter.
func AuthRateLimiter(config *RateLimitConfig, redis *services.RedisService) fiber.Handler {
	if redis == nil {
		return limiter.New(limiter.Config{
			Max:        config.AuthMax,
			Expiration: config.AuthExpiration,
			KeyGenerator: func(c *fiber.Ctx) string {
				return "auth:" + c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return tooManyAuthAttempts(c, config)
			},
		})
	}

	return func(c *fiber.Ctx) error {
		key := "ratelimit:auth:" + c.IP()
		_, exceeded, err := redis.CheckRateLimit(c.Context(), key, int64(config.AuthMax), config.AuthExpiration)
		if err != nil {
			// Redis trouble must not lock users out
			log.Printf("⚠️ [RATE-LIMIT] Redis check failed, allowing request: %v", err)
			return c.Next()
		}
		if exceeded {
			log.Printf("🚫 [RATE-LIMIT] Auth limit reached for IP: %s", c.IP())
			return tooManyAuthAttempts(c, config)
		}
		return c.Next()
	}
}

func tooManyAuthAttempts(c *fiber.Ctx, config *RateLimitConfig) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       "Too many authentication attempts. Please wait before trying again.",
		"retry_after": int(config.AuthExpiration.Seconds()),
	})
}
