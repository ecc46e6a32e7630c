package http

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/marketplace-kit/session-service/internal/config"
	apperrors "github.com/marketplace-kit/session-service/pkg/util"
)

// RateLimiter throttles unauthenticated endpoints per client IP. State
// is in-process; a multi-instance deployment rate-limits per instance.
type RateLimiter struct {
	mu       sync.RWMutex
	visitors map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter builds a limiter from configuration.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimiter{
		visitors: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// Handle rejects callers that exhausted their token bucket.
func (rl *RateLimiter) Handle(c *fiber.Ctx) error {
	if !rl.limiterFor(c.IP()).Allow() {
		return apperrors.NewDomainError("RATE_LIMITED", "too many requests", fiber.StatusTooManyRequests, nil)
	}
	return c.Next()
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.visitors[ip]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok = rl.visitors[ip]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rl.limit, rl.burst)
	rl.visitors[ip] = limiter
	return limiter
}
