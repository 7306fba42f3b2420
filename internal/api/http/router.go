package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-bridge/internal/api/http/handlers"
	"github.com/spec-kit/ticket-bridge/internal/gateway"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Webhook *gateway.Gateway
	Health  *handlers.HealthHandler
	Metrics *handlers.MetricsHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("Ok")
	})

	app.Post("/webhooks/merciyanis", cfg.Webhook.Handle)

	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)
}
