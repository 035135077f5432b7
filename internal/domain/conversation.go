package domain

import "time"

// Sender identifies who wrote a conversation entry.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ChatMessage is one entry of a triage conversation.
type ChatMessage struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// EscalationDecision is computed per decision point and never stored.
type EscalationDecision struct {
	ShouldEscalate       bool           `json:"should_escalate"`
	SuggestedTitle       string         `json:"suggested_title"`
	SuggestedDescription string         `json:"suggested_description"`
	Priority             TicketPriority `json:"priority"`
	Category             TicketCategory `json:"category"`
	Reason               string         `json:"reason"`
}

// Caller is the identity context supplied with each request. The core only
// authorizes against it.
type Caller struct {
	Email   string
	Name    string
	IsAgent bool
}

// CountUserMessages returns how many entries were written by the user.
func CountUserMessages(history []ChatMessage) int {
	count := 0
	for _, msg := range history {
		if msg.Sender == SenderUser {
			count++
		}
	}
	return count
}
