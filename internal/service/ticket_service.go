package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

// TicketService owns the ticket status field and the legality of every
// transition. Guards are evaluated against a fresh read and the write is
// conditioned on the status that was read.
type TicketService struct {
	tickets  repository.TicketRepository
	notifier *NotificationService
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Notifier   *NotificationService
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Subject     string
	Description string
	Priority    domain.TicketPriority
	Category    domain.TicketCategory
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	Statuses []domain.TicketStatus
	// AssignedToMe restricts an agent's listing to tickets they hold.
	AssignedToMe bool
	SearchTerm   *string
	Limit        int
	Offset       int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewNotificationService(nil, logger, deps.Metrics)
	}
	return &TicketService{
		tickets:  deps.TicketRepo,
		notifier: notifier,
		logger:   logger,
		metrics:  deps.Metrics,
	}
}

// CreateTicket opens a ticket in Open for the caller.
func (s *TicketService) CreateTicket(ctx context.Context, caller domain.Caller, input TicketCreateInput) (*domain.Ticket, error) {
	creator := strings.TrimSpace(caller.Email)
	if creator == "" {
		return nil, apperrors.NewValidationError("creator identity is required", nil)
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return nil, apperrors.NewValidationError("subject is required", map[string]any{"field": "subject"})
	}

	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}
	category := input.Category
	if category == "" {
		category = domain.CategoryGeneral
	}
	if !category.Valid() {
		return nil, apperrors.NewValidationError("invalid category", map[string]any{"category": category})
	}

	ticket := &domain.Ticket{
		Subject:      subject,
		Description:  strings.TrimSpace(input.Description),
		Status:       domain.TicketStatusOpen,
		CreatorEmail: creator,
		Priority:     priority,
		Category:     category,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	s.metrics.RecordTransition("create", "ok")
	s.logger.Info("ticket created",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("creator", ticket.CreatorEmail),
		zap.String("priority", string(ticket.Priority)))
	return ticket, nil
}

// GetTicket returns a ticket visible to the caller: its creator or any agent.
func (s *TicketService) GetTicket(ctx context.Context, caller domain.Caller, id int64) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAgent && !ticket.IsCreator(caller.Email) {
		return nil, apperrors.NewForbidden("ticket belongs to another user")
	}
	return ticket, nil
}

// ListTickets returns the caller's tickets; agents see every ticket unless
// AssignedToMe is set.
func (s *TicketService) ListTickets(ctx context.Context, caller domain.Caller, filter TicketListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		Statuses:   filter.Statuses,
		SearchTerm: filter.SearchTerm,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	email := caller.Email
	switch {
	case !caller.IsAgent:
		repoFilter.CreatorEmail = &email
	case filter.AssignedToMe:
		repoFilter.AssignedAgent = &email
	}
	tickets, err := s.tickets.ListWithFilter(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return tickets, nil
}

// ListQueue returns unclaimed tickets for agents.
func (s *TicketService) ListQueue(ctx context.Context, caller domain.Caller, limit, offset int) ([]domain.Ticket, error) {
	if !caller.IsAgent {
		return nil, apperrors.NewForbidden("agent capability required")
	}
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusAwaitingAgent, domain.TicketStatusOpen},
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return tickets, nil
}

// RequestHumanAttention puts the ticket in the agents' queue. Repeating the
// request while AwaitingAgent notifies the agents again.
func (s *TicketService) RequestHumanAttention(ctx context.Context, caller domain.Caller, id int64) (*domain.Ticket, error) {
	return s.requestHumanAttention(ctx, caller, id, "")
}

// requestHumanAttention appends transcript, when given, to the annotation so
// the agent sees the conversation that led to the request.
func (s *TicketService) requestHumanAttention(ctx context.Context, caller domain.Caller, id int64, transcript string) (*domain.Ticket, error) {
	note := "Usuário solicitou atendimento humano."
	if strings.TrimSpace(transcript) != "" {
		note += "\n" + transcript
	}
	before, after, err := s.transition(ctx, id, domain.EventRequestHumanAttention,
		func(t *domain.Ticket) error {
			if !t.IsCreator(caller.Email) {
				return apperrors.NewForbidden("only the ticket creator can request a human")
			}
			return nil
		},
		func(*domain.Ticket) repository.StatusUpdate {
			return repository.StatusUpdate{Annotation: note}
		})
	if err != nil {
		return nil, err
	}
	s.notifier.StatusChanged(ctx, after, before.Status)
	s.notifier.TicketQueued(ctx, after)
	return after, nil
}

// Claim assigns the ticket to the calling agent. Of concurrent claims on the
// same ticket exactly one succeeds; the others get Conflict.
func (s *TicketService) Claim(ctx context.Context, caller domain.Caller, id int64) (*domain.Ticket, error) {
	agent := strings.TrimSpace(caller.Email)
	before, after, err := s.transition(ctx, id, domain.EventClaim,
		func(*domain.Ticket) error {
			if !caller.IsAgent || agent == "" {
				return apperrors.NewForbidden("agent capability required")
			}
			return nil
		},
		func(*domain.Ticket) repository.StatusUpdate {
			return repository.StatusUpdate{
				AssignedAgent: &agent,
				Annotation:    fmt.Sprintf("Chamado assumido por %s.", agent),
			}
		})
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeConflict) {
			s.metrics.RecordClaimConflict()
		}
		return nil, err
	}
	s.notifier.TicketAssumed(ctx, after, caller)
	s.notifier.StatusChanged(ctx, after, before.Status)
	return after, nil
}

// Finalize resolves an InService ticket on behalf of an agent.
func (s *TicketService) Finalize(ctx context.Context, caller domain.Caller, id int64) (*domain.Ticket, error) {
	before, after, err := s.transition(ctx, id, domain.EventFinalize,
		func(t *domain.Ticket) error {
			if !caller.IsAgent && !t.IsAssignedTo(caller.Email) {
				return apperrors.NewForbidden("only agents can finalize tickets")
			}
			return nil
		},
		func(*domain.Ticket) repository.StatusUpdate {
			return repository.StatusUpdate{Annotation: fmt.Sprintf("Atendimento finalizado por %s.", caller.Email)}
		})
	if err != nil {
		return nil, err
	}
	s.notifier.StatusChanged(ctx, after, before.Status)
	s.notifier.SurveyRequested(ctx, after)
	return after, nil
}

// CloseByCreator lets the creator end an InService ticket.
func (s *TicketService) CloseByCreator(ctx context.Context, caller domain.Caller, id int64) (*domain.Ticket, error) {
	before, after, err := s.transition(ctx, id, domain.EventUserCloses,
		func(t *domain.Ticket) error {
			if !t.IsCreator(caller.Email) {
				return apperrors.NewForbidden("only the ticket creator can close it")
			}
			return nil
		},
		func(*domain.Ticket) repository.StatusUpdate {
			return repository.StatusUpdate{Annotation: "Chamado encerrado pelo usuário."}
		})
	if err != nil {
		return nil, err
	}
	s.notifier.StatusChanged(ctx, after, before.Status)
	s.notifier.SurveyRequested(ctx, after)
	return after, nil
}

// ResolveBySelfService moves an unclaimed ticket straight to Resolved when
// the creator confirms the problem is gone.
func (s *TicketService) ResolveBySelfService(ctx context.Context, caller domain.Caller, id int64) (*domain.Ticket, error) {
	before, after, err := s.transition(ctx, id, domain.EventSelfResolve,
		func(t *domain.Ticket) error {
			if !t.IsCreator(caller.Email) {
				return apperrors.NewForbidden("only the ticket creator can mark it resolved")
			}
			return nil
		},
		func(*domain.Ticket) repository.StatusUpdate {
			return repository.StatusUpdate{Annotation: "Resolvido pelo próprio usuário no autoatendimento."}
		})
	if err != nil {
		return nil, err
	}
	s.notifier.StatusChanged(ctx, after, before.Status)
	s.notifier.SurveyRequested(ctx, after)
	return after, nil
}

// discardDuplicate resolves a ticket that lost the race to become a chat
// session's ticket. Nobody watches it yet, so no events are published.
func (s *TicketService) discardDuplicate(ctx context.Context, id int64) (*domain.Ticket, error) {
	_, after, err := s.transition(ctx, id, domain.EventSelfResolve,
		func(*domain.Ticket) error { return nil },
		func(*domain.Ticket) repository.StatusUpdate {
			return repository.StatusUpdate{Annotation: "Chamado duplicado da mesma conversa; descartado."}
		})
	return after, err
}

// Rate records the creator's satisfaction rating once.
func (s *TicketService) Rate(ctx context.Context, caller domain.Caller, id int64, rating int) (*domain.Ticket, error) {
	_, after, err := s.transition(ctx, id, domain.EventRate,
		func(t *domain.Ticket) error {
			if !t.IsCreator(caller.Email) {
				return apperrors.NewForbidden("only the ticket creator can rate it")
			}
			if err := domain.ValidateRating(rating); err != nil {
				return apperrors.NewValidationError(err.Error(), map[string]any{"rating": rating})
			}
			if t.Status != domain.TicketStatusResolved {
				return apperrors.NewValidationError("only resolved tickets can be rated",
					map[string]any{"status": t.Status.String()})
			}
			if t.Rating != nil {
				return apperrors.NewConflict("ticket already rated", map[string]any{"rating": *t.Rating})
			}
			return nil
		},
		func(*domain.Ticket) repository.StatusUpdate {
			return repository.StatusUpdate{Rating: &rating}
		})
	if err != nil {
		return nil, err
	}
	return after, nil
}

// transition runs read, guard, legality check and conditional write. It
// returns the ticket as read and as written.
func (s *TicketService) transition(
	ctx context.Context,
	id int64,
	event domain.TicketEvent,
	guard func(*domain.Ticket) error,
	update func(*domain.Ticket) repository.StatusUpdate,
) (*domain.Ticket, *domain.Ticket, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := guard(current); err != nil {
		s.metrics.RecordTransition(string(event), "rejected")
		return nil, nil, err
	}

	next, ok := current.Status.Next(event)
	if !ok {
		s.metrics.RecordTransition(string(event), "conflict")
		return nil, nil, illegalTransition(current, event)
	}

	updated, err := s.tickets.UpdateStatus(ctx, id, current.Status, next, update(current))
	switch {
	case errors.Is(err, repository.ErrConflict):
		s.metrics.RecordTransition(string(event), "conflict")
		s.logger.Info("transition lost a concurrent update",
			zap.Int64("ticket_id", id),
			zap.String("event", string(event)),
			zap.String("expected", current.Status.String()))
		return nil, nil, conflictFor(event, id)
	case errors.Is(err, repository.ErrNotFound):
		return nil, nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	case err != nil:
		return nil, nil, apperrors.NewInternalError(err)
	}

	s.metrics.RecordTransition(string(event), "ok")
	s.logger.Info("ticket transitioned",
		zap.Int64("ticket_id", id),
		zap.String("event", string(event)),
		zap.String("from", current.Status.String()),
		zap.String("to", updated.Status.String()))
	return current, updated, nil
}

func (s *TicketService) load(ctx context.Context, id int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return ticket, nil
}

func illegalTransition(ticket *domain.Ticket, event domain.TicketEvent) error {
	details := map[string]any{"status": ticket.Status.String(), "event": string(event)}
	if event == domain.EventClaim {
		return apperrors.NewConflict("ticket is already being handled", details)
	}
	return apperrors.NewConflict(fmt.Sprintf("cannot %s a ticket that is %s", event, ticket.Status), details)
}

func conflictFor(event domain.TicketEvent, id int64) error {
	details := map[string]any{"id": id, "event": string(event)}
	switch event {
	case domain.EventClaim:
		return apperrors.NewConflict("ticket is already being handled", details)
	case domain.EventRate:
		return apperrors.NewConflict("ticket already rated", details)
	default:
		return apperrors.NewConflict("ticket changed concurrently, reload and retry", details)
	}
}
