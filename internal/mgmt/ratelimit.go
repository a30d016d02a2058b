package mgmt

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimitConfig holds rate limiter configuration for the management API.
// This is a per-client-IP token bucket, independent of the per-user command
// limiter that gates Slack invocations.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	if cfg.Burst < 1 {
		cfg.Burst = cfg.RPS * 2
	}

	var mu sync.Mutex
	clients := make(map[string]*tokenBucket)

	// Evict buckets idle long enough to have fully refilled.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			now := time.Now()
			for k, b := range clients {
				if now.Sub(b.lastRefill) > 10*time.Minute {
					delete(clients, k)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *fiber.Ctx) error {
		if isProbePath(c.Path()) {
			return c.Next()
		}

		clientIP := c.IP()

		mu.Lock()
		bucket, ok := clients[clientIP]
		if !ok {
			bucket = newTokenBucket(cfg.RPS, cfg.Burst)
			clients[clientIP] = bucket
		}
		allowed := bucket.allow()
		mu.Unlock()

		if !allowed {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}
