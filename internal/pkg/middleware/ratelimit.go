package middleware

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// limiterPingTimeout bounds the startup check of the shared limiter store.
const limiterPingTimeout = 2 * time.Second

type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// Cache, when set, shares limiter counters across instances.
	Cache *redis.Client
	// Skip exempts matching requests.
	Skip func(c *fiber.Ctx) bool
	Log  *zap.Logger
}

// NewLimiterStorage puts limiter state into its own database of the same
// server the cache client points at (the cache uses DB 0). The server is
// pinged first because the storage constructor panics when it is down.
func NewLimiterStorage(cacheClient *redis.Client) (fiber.Storage, error) {
	if cacheClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), limiterPingTimeout)
		defer cancel()
		if err := cacheClient.Ping(ctx).Err(); err != nil {
			return nil, err
		}
	}

	host := "localhost"
	port := 6379
	password := ""
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		password = cacheClient.Options().Password
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 2,
		Reset:    false,
	}), nil
}

// RateLimit limits requests per client IP and answers 429 as JSON.
// Counters stay in process memory when the shared store is unreachable.
func RateLimit(cfg RateLimitConfig) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	lc := limiter.Config{
		Next:       cfg.Skip,
		Max:        cfg.Max,
		Expiration: cfg.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
		},
	}
	if cfg.Cache != nil {
		storage, err := NewLimiterStorage(cfg.Cache)
		if err != nil {
			log := cfg.Log
			if log == nil {
				log = zap.NewNop()
			}
			log.Warn("rate limiter falling back to in-memory counters", zap.Error(err))
		} else {
			lc.Storage = storage
		}
	}
	return limiter.New(lc)
}
