package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

// AgentHandler serves the agent dashboard: the queue and the claim/finalize
// transitions.
type AgentHandler struct {
	tickets *service.TicketService
}

// NewAgentHandler constructs handler.
func NewAgentHandler(ticketService *service.TicketService) *AgentHandler {
	return &AgentHandler{tickets: ticketService}
}

// Queue GET /agent/queue.
func (h *AgentHandler) Queue(c *fiber.Ctx) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	limit, offset := pageWindow(c)
	tickets, err := h.tickets.ListQueue(c.UserContext(), caller, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketsFromDomain(tickets)})
}

// Claim POST /agent/tickets/:id/claim. A lost race answers 409.
func (h *AgentHandler) Claim(c *fiber.Ctx) error {
	return runTicketOperation(c, http.StatusOK, h.tickets.Claim)
}

// Finalize POST /agent/tickets/:id/finalize.
func (h *AgentHandler) Finalize(c *fiber.Ctx) error {
	return runTicketOperation(c, http.StatusOK, h.tickets.Finalize)
}
