package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// AvailabilityChecker reports connection state without blocking
type AvailabilityChecker interface {
	Available() bool
}

// HealthHandler reports dependency status on /ping
type HealthHandler struct {
	cache    Pinger
	broker   AvailabilityChecker
	database Pinger
}

// NewHealthHandler creates a health handler. Any dependency may be nil.
func NewHealthHandler(cache Pinger, broker AvailabilityChecker, database Pinger) *HealthHandler {
	return &HealthHandler{cache: cache, broker: broker, database: database}
}

// HandleCheckHealth handles GET /ping
// Always returns 200; degraded dependencies are reported in the body
func (h *HealthHandler) HandleCheckHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	checks := fiber.Map{
		"redis":    pingStatus(ctx, h.cache),
		"database": pingStatus(ctx, h.database),
		"broker":   "disabled",
	}
	if h.broker != nil {
		if h.broker.Available() {
			checks["broker"] = "ok"
		} else {
			checks["broker"] = "unavailable"
		}
	}

	status := "ok"
	for _, v := range checks {
		if v == "unavailable" {
			status = "degraded"
		}
	}

	return c.JSON(fiber.Map{"status": status, "checks": checks})
}

func pingStatus(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "unavailable"
	}
	return "ok"
}
