package dto

import "github.com/spec-kit/helpdesk-service/internal/domain"

// ChatMessageRequest payload.
type ChatMessageRequest struct {
	Text string `json:"text"`
}

// ChatReplyResponse is returned for every triage message.
type ChatReplyResponse struct {
	Reply             string                     `json:"reply"`
	IsInScope         bool                       `json:"is_in_scope"`
	SuggestEscalation bool                       `json:"suggest_escalation"`
	Escalation        *domain.EscalationDecision `json:"escalation,omitempty"`
	Ticket            *TicketResponse            `json:"ticket,omitempty"`
	Resolved          bool                       `json:"resolved"`
	FallbackUsed      bool                       `json:"fallback_used"`
	UserMessages      int                        `json:"user_messages"`
}

// ChatHistoryResponse lists a session's conversation.
type ChatHistoryResponse struct {
	Session  string               `json:"session"`
	Messages []domain.ChatMessage `json:"messages"`
}

// StreamGroupRequest selects a group to join or leave on an open stream.
type StreamGroupRequest struct {
	TicketID *int64 `json:"ticket_id"`
	Agents   bool   `json:"agents"`
}

// StreamOpenedPayload is the first frame of every stream.
type StreamOpenedPayload struct {
	ConnectionID string   `json:"connection_id"`
	Groups       []string `json:"groups"`
}
