package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject     string                `json:"subject"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Category    domain.TicketCategory `json:"category"`
}

// RateTicketRequest payload.
type RateTicketRequest struct {
	Rating int `json:"rating"`
}

// LiveMessageRequest payload for the live chat between creator and agent.
type LiveMessageRequest struct {
	Text string `json:"text"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID            int64                 `json:"id"`
	Subject       string                `json:"subject"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	CreatorEmail  string                `json:"creator_email"`
	AssignedAgent *string               `json:"assigned_agent"`
	Rating        *int                  `json:"rating"`
	Priority      domain.TicketPriority `json:"priority"`
	Category      domain.TicketCategory `json:"category"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// TicketStatusResponse is served to clients that poll for status.
type TicketStatusResponse struct {
	TicketID      int64               `json:"ticket_id"`
	Status        domain.TicketStatus `json:"status"`
	AssignedAgent *string             `json:"assigned_agent"`
	Rating        *int                `json:"rating"`
}

// TicketFromDomain maps a ticket to its response.
func TicketFromDomain(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:            ticket.ID,
		Subject:       ticket.Subject,
		Description:   ticket.Description,
		Status:        ticket.Status,
		CreatorEmail:  ticket.CreatorEmail,
		AssignedAgent: ticket.AssignedAgent,
		Rating:        ticket.Rating,
		Priority:      ticket.Priority,
		Category:      ticket.Category,
		CreatedAt:     ticket.CreatedAt,
		UpdatedAt:     ticket.UpdatedAt,
	}
}

// TicketsFromDomain maps a slice.
func TicketsFromDomain(tickets []domain.Ticket) []TicketResponse {
	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, TicketFromDomain(&tickets[i]))
	}
	return items
}
