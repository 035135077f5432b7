package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// Broadcaster is the fan-out primitive notifications go through.
type Broadcaster interface {
	Broadcast(ctx context.Context, group string, name events.EventName, payload any) error
}

// NotificationService turns ticket changes into group broadcasts. Delivery
// failures are logged and counted, never returned.
type NotificationService struct {
	broadcaster Broadcaster
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewNotificationService creates the service.
func NewNotificationService(broadcaster Broadcaster, logger *zap.Logger, metrics *observability.Metrics) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// TicketQueued tells every agent that a user is waiting.
func (n *NotificationService) TicketQueued(ctx context.Context, ticket *domain.Ticket) {
	n.emit(ctx, events.AgentsGroup, events.EventNewUserInQueue, events.NewUserInQueuePayload{
		TicketID:     ticket.ID,
		Title:        ticket.Subject,
		CreatorEmail: ticket.CreatorEmail,
		Priority:     ticket.Priority,
		Category:     ticket.Category,
	})
}

// TicketAssumed goes to the ticket's watchers and to the other agents so
// their queues drop the ticket.
func (n *NotificationService) TicketAssumed(ctx context.Context, ticket *domain.Ticket, agent domain.Caller) {
	payload := events.TicketAssumedPayload{
		TicketID:   ticket.ID,
		AgentEmail: agent.Email,
		AgentName:  agent.Name,
	}
	n.emit(ctx, events.TicketGroup(ticket.ID), events.EventTicketAssumed, payload)
	n.emit(ctx, events.AgentsGroup, events.EventTicketAssumed, payload)
}

// StatusChanged reports a status transition to the ticket group.
func (n *NotificationService) StatusChanged(ctx context.Context, ticket *domain.Ticket, old domain.TicketStatus) {
	if old == ticket.Status {
		return
	}
	n.emit(ctx, events.TicketGroup(ticket.ID), events.EventTicketStatusChanged, events.TicketStatusChangedPayload{
		TicketID:  ticket.ID,
		OldStatus: old,
		NewStatus: ticket.Status,
	})
}

// SurveyRequested asks the creator's client to show the satisfaction survey.
func (n *NotificationService) SurveyRequested(ctx context.Context, ticket *domain.Ticket) {
	n.emit(ctx, events.TicketGroup(ticket.ID), events.EventShowSatisfactionSurvey, events.ShowSatisfactionSurveyPayload{
		TicketID:     ticket.ID,
		CreatorEmail: ticket.CreatorEmail,
	})
}

// LiveMessage relays a chat line to the ticket group and returns what was
// sent.
func (n *NotificationService) LiveMessage(ctx context.Context, ticketID int64, sender domain.Caller, text string) events.ReceiveMessagePayload {
	name := strings.TrimSpace(sender.Name)
	if name == "" {
		name = sender.Email
	}
	payload := events.ReceiveMessagePayload{
		TicketID:    ticketID,
		MessageID:   uuid.NewString(),
		SenderName:  name,
		SenderEmail: sender.Email,
		Text:        text,
		SentAt:      n.now().UTC(),
	}
	n.emit(ctx, events.TicketGroup(ticketID), events.EventReceiveMessage, payload)
	return payload
}

func (n *NotificationService) emit(ctx context.Context, group string, name events.EventName, payload any) {
	if n == nil || n.broadcaster == nil {
		return
	}
	// The state change already happened; a caller going away must not
	// suppress the notification.
	err := n.broadcaster.Broadcast(context.WithoutCancel(ctx), group, name, payload)
	n.metrics.RecordBroadcast(string(name), err)
	if err != nil {
		n.logger.Warn("broadcast failed",
			zap.String("group", group),
			zap.String("event", string(name)),
			zap.Error(err))
		return
	}
	n.logger.Debug("broadcast sent", zap.String("group", group), zap.String("event", string(name)))
}
