package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marketplace-kit/session-service/internal/persistence"
)

const probeTimeout = 2 * time.Second

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	postgres    *persistence.Postgres
	redis       *persistence.Redis
	startedAt   time.Time
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string, postgres *persistence.Postgres, redis *persistence.Redis) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		postgres:    postgres,
		redis:       redis,
		startedAt:   time.Now(),
	}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "alive",
		"service":    h.serviceName,
		"version":    h.version,
		"uptime_sec": int(time.Since(h.startedAt) / time.Second),
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

func probe(ctx context.Context, dep pinger) fiber.Map {
	start := time.Now()
	err := dep.Ping(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return fiber.Map{"status": "unavailable", "error": err.Error(), "latency_ms": latency}
	}
	return fiber.Map{"status": "ok", "latency_ms": latency}
}

// Ready reports readiness. Sessions live in redis and accounts in
// postgres, so either store failing keeps the instance out of rotation.
// Both probes run in parallel inside one timeout window.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
	defer cancel()

	checks := map[string]pinger{
		"postgres": h.postgres,
		"redis":    h.redis,
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		deps  = fiber.Map{}
		ready = true
	)
	for name, dep := range checks {
		wg.Add(1)
		go func(name string, dep pinger) {
			defer wg.Done()
			result := probe(ctx, dep)
			mu.Lock()
			deps[name] = result
			if result["status"] != "ok" {
				ready = false
			}
			mu.Unlock()
		}(name, dep)
	}
	wg.Wait()

	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": deps,
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": deps,
		},
	})
}
