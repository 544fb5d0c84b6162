// ratelimit.go provides Gin middleware that enforces per-caller rate limits,
// returning 429 responses when the configured requests-per-minute threshold is
// exceeded. With a Redis client the limit is enforced cluster-wide through
// redis_rate's GCRA implementation; without one, a local token bucket covers
// single-instance deployments.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries (local limiter only)
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200, // Higher limit for authenticated API usage
		BurstSize:         50,  // Allow burst for pages that load multiple resources
		CleanupInterval:   5 * time.Minute,
	}
}

// AdminRateLimitConfig returns stricter limits for admin mutation endpoints
func AdminRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimiter enforces a token-bucket limit per key. When rdb is set, the
// bucket state lives in Redis and is shared across instances; otherwise it is
// kept in-process.
type RateLimiter struct {
	config  RateLimitConfig
	redis   *redis_rate.Limiter
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
}

// rateLimitEntry tracks request counts for a single caller (local mode)
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a rate limiter backed by Redis when rdb is non-nil.
func NewRateLimiter(config RateLimitConfig, rdb *redis.Client) *RateLimiter {
	rl := &RateLimiter{
		config: config,
		stopCh: make(chan struct{}),
	}

	if rdb != nil {
		rl.redis = redis_rate.NewLimiter(rdb)
		return rl
	}

	rl.entries = make(map[string]*rateLimitEntry)
	go rl.cleanup()
	return rl
}

// cleanup periodically removes expired local entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				// Remove entries that haven't been accessed in 10 minutes
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow reports whether a request for key may proceed, plus how many requests
// remain in the current window.
func (rl *RateLimiter) Allow(c *gin.Context, key string) (bool, int) {
	if rl.redis != nil {
		limit := redis_rate.Limit{
			Rate:   rl.config.RequestsPerMinute,
			Burst:  rl.config.BurstSize,
			Period: time.Minute,
		}
		res, err := rl.redis.Allow(c.Request.Context(), key, limit)
		if err != nil {
			// Redis trouble should not take the API down with it.
			slog.Warn("rate limiter unavailable, allowing request", "error", err)
			return true, rl.config.BurstSize
		}
		return res.Allowed > 0, res.Remaining
	}

	return rl.allowLocal(key)
}

// allowLocal implements the in-process token bucket.
func (rl *RateLimiter) allowLocal(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]

	if !exists {
		// New caller, give them full burst
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, rl.config.BurstSize - 1
	}

	// Calculate tokens to add based on time elapsed
	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	tokensToAdd := elapsed.Seconds() * tokensPerSecond

	// Update tokens (capped at burst size)
	entry.tokens = min(float64(rl.config.BurstSize), entry.tokens+tokensToAdd)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true, int(entry.tokens)
	}

	return false, 0
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		allowed, remaining := limiter.Allow(c, key)
		if !allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting
// Priority: resolved principal > IP address
func getRateLimitKey(c *gin.Context) string {
	if p := PrincipalFrom(c); p != nil {
		if p.PersonID != "" {
			return "person:" + p.PersonID
		}
		if p.IdpID != "" {
			return "idp:" + p.IdpID
		}
	}

	// Fall back to IP address
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

// Helper function for min (Go 1.21+ has this built-in, but for compatibility)
func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
