package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/triage"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

// maxMessageRunes bounds a single chat line.
const maxMessageRunes = 4000

// ChatService ties the triage conversation to the ticket lifecycle: it opens
// tickets, surfaces escalation suggestions and resolves tickets on
// confirmation. It never escalates on its own.
type ChatService struct {
	engine        *triage.Engine
	tickets       *TicketService
	conversations repository.ConversationRepository
	notifier      *NotificationService
	logger        *zap.Logger
}

// ChatDependencies bundles collaborators for the chat service.
type ChatDependencies struct {
	Engine        *triage.Engine
	Tickets       *TicketService
	Conversations repository.ConversationRepository
	Notifier      *NotificationService
	Logger        *zap.Logger
}

// ChatResult is returned for every processed user message.
type ChatResult struct {
	Reply             string
	IsInScope         bool
	SuggestEscalation bool
	Escalation        *domain.EscalationDecision
	Ticket            *domain.Ticket
	Resolved          bool
	FallbackUsed      bool
	UserMessages      int
}

// NewChatService constructs the orchestrator.
func NewChatService(deps ChatDependencies) *ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewNotificationService(nil, logger, nil)
	}
	return &ChatService{
		engine:        deps.Engine,
		tickets:       deps.Tickets,
		conversations: deps.Conversations,
		notifier:      notifier,
		logger:        logger,
	}
}

// ProcessMessage runs one user message through triage. The first in-scope
// message of a session opens a ticket; a strong confirmation resolves it.
func (s *ChatService) ProcessMessage(ctx context.Context, caller domain.Caller, session, text string) (*ChatResult, error) {
	key, err := sessionKey(caller, session)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if err := validateText(text); err != nil {
		return nil, err
	}

	reply, err := s.engine.Respond(ctx, key, text)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	result := &ChatResult{
		Reply:        reply.Text,
		IsInScope:    reply.InScope,
		Resolved:     reply.Resolved,
		FallbackUsed: reply.FallbackUsed,
		UserMessages: reply.UserMessages,
	}

	ticket, err := s.boundTicket(ctx, key)
	if err != nil {
		return nil, err
	}

	switch {
	case reply.Resolved:
		ticket, err = s.resolve(ctx, caller, key, ticket, reply.History)
		if err != nil {
			return nil, err
		}
	case reply.InScope && !active(ticket):
		priority, category := triage.InferPriority(text)
		ticket, err = s.openTicket(ctx, caller, key, bindingOf(ticket), TicketCreateInput{
			Subject:     triage.SuggestTitle([]domain.ChatMessage{{Sender: domain.SenderUser, Text: text}}),
			Description: text,
			Priority:    priority,
			Category:    category,
		})
		if err != nil {
			return nil, err
		}
	}
	result.Ticket = ticket

	if reply.Escalation.ShouldEscalate && (!active(ticket) || ticket.Status == domain.TicketStatusOpen) {
		decision := reply.Escalation
		result.SuggestEscalation = true
		result.Escalation = &decision
		s.logger.Info("escalation suggested",
			zap.String("session", key),
			zap.String("reason", decision.Reason),
			zap.Int("user_messages", reply.UserMessages))
	}
	return result, nil
}

// RequestHuman queues the session's ticket for an agent, opening it first
// when the conversation has none or its last one is already resolved.
func (s *ChatService) RequestHuman(ctx context.Context, caller domain.Caller, session string) (*domain.Ticket, error) {
	key, err := sessionKey(caller, session)
	if err != nil {
		return nil, err
	}
	history, err := s.engine.History(ctx, key)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	ticket, err := s.boundTicket(ctx, key)
	if err != nil {
		return nil, err
	}
	transcript := triage.Transcript(history)
	if !active(ticket) {
		ticket, err = s.openTicket(ctx, caller, key, bindingOf(ticket), ticketInputFromHistory(history))
		if err != nil {
			return nil, err
		}
		transcript = ""
	}
	return s.tickets.requestHumanAttention(ctx, caller, ticket.ID, transcript)
}

// MarkResolved closes the session's problem as solved by the user, opening a
// ticket with the full transcript when none exists yet.
func (s *ChatService) MarkResolved(ctx context.Context, caller domain.Caller, session string) (*domain.Ticket, error) {
	key, err := sessionKey(caller, session)
	if err != nil {
		return nil, err
	}
	history, err := s.engine.History(ctx, key)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	ticket, err := s.boundTicket(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, caller, key, ticket, history)
}

// SendLiveMessage relays a chat line between the creator and the agents
// watching a ticket.
func (s *ChatService) SendLiveMessage(ctx context.Context, caller domain.Caller, ticketID int64, text string) (*events.ReceiveMessagePayload, error) {
	text = strings.TrimSpace(text)
	if err := validateText(text); err != nil {
		return nil, err
	}
	ticket, err := s.tickets.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAgent && !ticket.IsCreator(caller.Email) && !ticket.IsAssignedTo(caller.Email) {
		return nil, apperrors.NewForbidden("not a participant of this ticket")
	}
	if ticket.Status == domain.TicketStatusResolved {
		return nil, apperrors.NewConflict("ticket is already resolved", map[string]any{"id": ticketID})
	}
	payload := s.notifier.LiveMessage(ctx, ticket.ID, caller, text)
	return &payload, nil
}

// History returns the stored conversation of a session.
func (s *ChatService) History(ctx context.Context, caller domain.Caller, session string) ([]domain.ChatMessage, error) {
	key, err := sessionKey(caller, session)
	if err != nil {
		return nil, err
	}
	history, err := s.engine.History(ctx, key)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return history, nil
}

// ResetSession forgets the conversation and its ticket binding. The ticket
// itself is untouched.
func (s *ChatService) ResetSession(ctx context.Context, caller domain.Caller, session string) error {
	key, err := sessionKey(caller, session)
	if err != nil {
		return err
	}
	if err := s.engine.Reset(ctx, key); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

// resolve applies the direct path to Resolved. Unclaimed tickets skip
// InService; a ticket already with an agent is closed by its creator.
func (s *ChatService) resolve(ctx context.Context, caller domain.Caller, key string, ticket *domain.Ticket, history []domain.ChatMessage) (*domain.Ticket, error) {
	if ticket == nil {
		input := ticketInputFromHistory(history)
		var err error
		ticket, err = s.openTicket(ctx, caller, key, 0, input)
		if err != nil {
			return nil, err
		}
	}
	switch {
	case ticket.Status.Unclaimed():
		return s.tickets.ResolveBySelfService(ctx, caller, ticket.ID)
	case ticket.Status == domain.TicketStatusInService:
		return s.tickets.CloseByCreator(ctx, caller, ticket.ID)
	default:
		return ticket, nil
	}
}

// openTicket creates a ticket and binds it to the session in place of
// previous (0 when nothing was bound). When a concurrent message bound a
// live ticket first, that ticket wins and the new one is discarded.
func (s *ChatService) openTicket(ctx context.Context, caller domain.Caller, key string, previous int64, input TicketCreateInput) (*domain.Ticket, error) {
	ticket, err := s.tickets.CreateTicket(ctx, caller, input)
	if err != nil {
		return nil, err
	}
	bound, err := s.conversations.SwapTicket(ctx, key, previous, ticket.ID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if bound != ticket.ID {
		winner, err := s.boundTicket(ctx, key)
		if err != nil {
			return nil, err
		}
		if active(winner) {
			s.logger.Info("session already bound, discarding duplicate ticket",
				zap.String("session", key),
				zap.Int64("ticket_id", winner.ID),
				zap.Int64("duplicate_id", ticket.ID))
			if _, err := s.tickets.discardDuplicate(ctx, ticket.ID); err != nil {
				s.logger.Warn("discard duplicate ticket", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
			}
			return winner, nil
		}
		if err := s.conversations.BindTicket(ctx, key, ticket.ID); err != nil {
			return nil, apperrors.NewInternalError(err)
		}
	}
	s.logger.Info("ticket opened from chat", zap.String("session", key), zap.Int64("ticket_id", ticket.ID))
	return ticket, nil
}

// active reports whether ticket still belongs to the ongoing problem. A
// resolved binding is kept for confirmations but a new problem in the same
// session opens a fresh ticket.
func active(ticket *domain.Ticket) bool {
	return ticket != nil && ticket.Status != domain.TicketStatusResolved
}

func bindingOf(ticket *domain.Ticket) int64 {
	if ticket == nil {
		return 0
	}
	return ticket.ID
}

// boundTicket returns the session's ticket, or nil when none is bound or the
// bound ticket no longer exists.
func (s *ChatService) boundTicket(ctx context.Context, key string) (*domain.Ticket, error) {
	id, err := s.conversations.TicketFor(ctx, key)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if id == 0 {
		return nil, nil
	}
	ticket, err := s.tickets.load(ctx, id)
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		return nil, nil
	}
	return ticket, err
}

func ticketInputFromHistory(history []domain.ChatMessage) TicketCreateInput {
	var userText []string
	for _, msg := range history {
		if msg.Sender == domain.SenderUser {
			userText = append(userText, msg.Text)
		}
	}
	priority, category := triage.InferPriority(strings.Join(userText, " "))
	return TicketCreateInput{
		Subject:     triage.SuggestTitle(history),
		Description: triage.Transcript(history),
		Priority:    priority,
		Category:    category,
	}
}

func sessionKey(caller domain.Caller, session string) (string, error) {
	session = strings.TrimSpace(session)
	if session == "" {
		return "", apperrors.NewValidationError("session is required", map[string]any{"field": "session"})
	}
	email := strings.ToLower(strings.TrimSpace(caller.Email))
	if email == "" {
		return "", apperrors.NewValidationError("caller identity is required", nil)
	}
	// Sessions are scoped to their owner so one user cannot read or drive
	// another's conversation.
	return email + "/" + session, nil
}

func validateText(text string) error {
	if text == "" {
		return apperrors.NewValidationError("message text is required", map[string]any{"field": "text"})
	}
	if len([]rune(text)) > maxMessageRunes {
		return apperrors.NewValidationError("message too long", map[string]any{"max_runes": maxMessageRunes})
	}
	return nil
}
