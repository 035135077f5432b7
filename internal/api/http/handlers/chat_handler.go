package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

// ChatHandler exposes the triage conversation.
type ChatHandler struct {
	chat *service.ChatService
}

// NewChatHandler constructs handler.
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chatService}
}

// SendMessage POST /chat/:session/messages.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	var req dto.ChatMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.chat.ProcessMessage(c.UserContext(), caller, c.Params("session"), req.Text)
	if err != nil {
		return err
	}

	resp := dto.ChatReplyResponse{
		Reply:             result.Reply,
		IsInScope:         result.IsInScope,
		SuggestEscalation: result.SuggestEscalation,
		Escalation:        result.Escalation,
		Resolved:          result.Resolved,
		FallbackUsed:      result.FallbackUsed,
		UserMessages:      result.UserMessages,
	}
	if result.Ticket != nil {
		ticket := dto.TicketFromDomain(result.Ticket)
		resp.Ticket = &ticket
	}
	return c.JSON(fiber.Map{"data": resp})
}

// History GET /chat/:session.
func (h *ChatHandler) History(c *fiber.Ctx) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	session := c.Params("session")
	history, err := h.chat.History(c.UserContext(), caller, session)
	if err != nil {
		return err
	}
	if history == nil {
		history = []domain.ChatMessage{}
	}
	return c.JSON(fiber.Map{"data": dto.ChatHistoryResponse{Session: session, Messages: history}})
}

// RequestHuman POST /chat/:session/request-human.
func (h *ChatHandler) RequestHuman(c *fiber.Ctx) error {
	return h.sessionTicket(c, h.chat.RequestHuman)
}

// MarkResolved POST /chat/:session/resolved.
func (h *ChatHandler) MarkResolved(c *fiber.Ctx) error {
	return h.sessionTicket(c, h.chat.MarkResolved)
}

// Reset DELETE /chat/:session.
func (h *ChatHandler) Reset(c *fiber.Ctx) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	if err := h.chat.ResetSession(c.UserContext(), caller, c.Params("session")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func (h *ChatHandler) sessionTicket(c *fiber.Ctx, op func(context.Context, domain.Caller, string) (*domain.Ticket, error)) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := op(c.UserContext(), caller, c.Params("session"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketFromDomain(ticket)})
}
