package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Agent          *handlers.AgentHandler
	Chat           *handlers.ChatHandler
	Stream         *handlers.StreamHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/status", cfg.Tickets.GetStatus)
	tickets.Post("/:id/request-human", cfg.Tickets.RequestHuman)
	tickets.Post("/:id/close", cfg.Tickets.CloseTicket)
	tickets.Post("/:id/rate", cfg.Tickets.RateTicket)
	tickets.Post("/:id/messages", cfg.Tickets.SendMessage)

	agent := protected.Group("/agent", auth.RequireAgent())
	agent.Get("/queue", cfg.Agent.Queue)
	agent.Post("/tickets/:id/claim", cfg.Agent.Claim)
	agent.Post("/tickets/:id/finalize", cfg.Agent.Finalize)

	chat := protected.Group("/chat")
	chat.Get("/:session", cfg.Chat.History)
	chat.Post("/:session/messages", cfg.Chat.SendMessage)
	chat.Post("/:session/request-human", cfg.Chat.RequestHuman)
	chat.Post("/:session/resolved", cfg.Chat.MarkResolved)
	chat.Delete("/:session", cfg.Chat.Reset)

	stream := protected.Group("/stream")
	stream.Get("/", cfg.Stream.Open)
	stream.Post("/:conn/join", cfg.Stream.Join)
	stream.Post("/:conn/leave", cfg.Stream.Leave)
}
