package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketbot/internal/api/http/handlers"
	"github.com/spec-kit/ticketbot/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Metrics        *handlers.MetricsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/login", cfg.Auth.Login)

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireRole(auth.RoleAdmin, auth.RoleViewer))
	protected.Get("/metrics", cfg.Metrics.Get)

	guild := protected.Group("/guilds/:guild")
	guild.Get("/tickets", cfg.Tickets.Overview)
	guild.Post("/tickets/close-all", auth.RequireRole(auth.RoleAdmin), cfg.Tickets.CloseAll)
	guild.Get("/tickets/:id", cfg.Tickets.GetTicket)
	guild.Get("/tickets/:id/history", cfg.Tickets.History)
	guild.Get("/tickets/:id/transcript", cfg.Tickets.Transcript)
	guild.Post("/tickets/:id/force-close", auth.RequireRole(auth.RoleAdmin), cfg.Tickets.ForceClose)
	guild.Post("/tickets/:id/priority", auth.RequireRole(auth.RoleAdmin), cfg.Tickets.SetPriority)
	guild.Get("/transcripts", cfg.Tickets.ListTranscripts)
}
