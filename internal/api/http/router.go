package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/presence-service/internal/api/http/handlers"
	"github.com/spec-kit/presence-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Presence       *handlers.PresenceHandler
	Hub            *handlers.HubHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)

	presence := api.Group("/presence")
	presence.Get("/roster", cfg.Presence.Roster)
	presence.Get("/statuses", cfg.Presence.Statuses)

	// Registered after the public routes so the guard only sees requests they did not answer.
	protected := presence.Group("", cfg.AuthMiddleware.Handle, auth.RequireActiveUser())
	protected.Post("/connect", cfg.Presence.Connect)
	protected.Post("/disconnect", cfg.Presence.Disconnect)
	protected.Put("/status", cfg.Presence.ChangeStatus)
	protected.Get("/me", cfg.Presence.Me)
	protected.Get("/sessions", cfg.Presence.Sessions)

	app.Get("/hubs/presence", cfg.AuthMiddleware.Optional, cfg.Hub.Upgrade, cfg.Hub.Serve())
}
