package events

import (
	"strconv"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventName identifies a notification delivered to group members.
type EventName string

const (
	EventNewUserInQueue         EventName = "NewUserInQueue"
	EventTicketAssumed          EventName = "TicketAssumed"
	EventTicketStatusChanged    EventName = "TicketStatusChanged"
	EventShowSatisfactionSurvey EventName = "ShowSatisfactionSurvey"
	EventReceiveMessage         EventName = "ReceiveMessage"

	// EventTicketStatusSnapshot is emitted by the status reconciler, never by
	// a transition.
	EventTicketStatusSnapshot EventName = "TicketStatusSnapshot"
	EventHeartbeat            EventName = "Heartbeat"
)

// AgentsGroup is joined by every connected agent dashboard.
const AgentsGroup = "agents"

// TicketGroup returns the group key for one ticket.
func TicketGroup(ticketID int64) string {
	return "ticket-" + strconv.FormatInt(ticketID, 10)
}

// Event is a single notification as delivered to a connection.
type Event struct {
	ID        string    `json:"id"`
	Name      EventName `json:"name"`
	Group     string    `json:"group"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewUserInQueuePayload payload.
type NewUserInQueuePayload struct {
	TicketID     int64                 `json:"ticket_id"`
	Title        string                `json:"title"`
	CreatorEmail string                `json:"creator_email"`
	Priority     domain.TicketPriority `json:"priority"`
	Category     domain.TicketCategory `json:"category"`
}

// TicketAssumedPayload payload.
type TicketAssumedPayload struct {
	TicketID   int64  `json:"ticket_id"`
	AgentEmail string `json:"agent_email"`
	AgentName  string `json:"agent_name,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	TicketID  int64               `json:"ticket_id"`
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// ShowSatisfactionSurveyPayload payload.
type ShowSatisfactionSurveyPayload struct {
	TicketID     int64  `json:"ticket_id"`
	CreatorEmail string `json:"creator_email"`
}

// ReceiveMessagePayload payload.
type ReceiveMessagePayload struct {
	TicketID    int64     `json:"ticket_id"`
	MessageID   string    `json:"message_id"`
	SenderName  string    `json:"sender_name"`
	SenderEmail string    `json:"sender_email"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
}

// TicketStatusSnapshotPayload carries the authoritative status re-read by the
// reconciler.
type TicketStatusSnapshotPayload struct {
	TicketID      int64               `json:"ticket_id"`
	Status        domain.TicketStatus `json:"status"`
	AssignedAgent *string             `json:"assigned_agent,omitempty"`
	Rating        *int                `json:"rating,omitempty"`
}
