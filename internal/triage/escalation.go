package triage

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

const (
	ReasonBelowThreshold    = "below_message_threshold"
	ReasonUserAskedForHuman = "user_requested_human"
	ReasonUnresolved        = "unresolved_after_repeated_attempts"
	ReasonNoUnresolved      = "no_unresolved_signal"

	maxTitleRunes = 80
)

// Policy holds the tunable escalation thresholds.
type Policy struct {
	// MinUserMessages is the number of user messages before escalation is
	// evaluated at all.
	MinUserMessages int
	// ProposeTicketMessages is the stricter count required, together with an
	// unresolved signal, before a ticket is proposed without an explicit
	// request for a human.
	ProposeTicketMessages int
	// ContextWindow is how many recent entries are inspected.
	ContextWindow int
}

// DefaultPolicy returns the consolidated thresholds (5 / 7 / 5).
func DefaultPolicy() Policy {
	return Policy{MinUserMessages: 5, ProposeTicketMessages: 7, ContextWindow: 5}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MinUserMessages <= 0 {
		p.MinUserMessages = def.MinUserMessages
	}
	if p.ProposeTicketMessages < p.MinUserMessages {
		p.ProposeTicketMessages = p.MinUserMessages + (def.ProposeTicketMessages - def.MinUserMessages)
	}
	if p.ContextWindow <= 0 {
		p.ContextWindow = def.ContextWindow
	}
	return p
}

// EvaluateEscalation decides whether the conversation should be handed to a
// human. It never escalates before MinUserMessages user messages.
func EvaluateEscalation(history []domain.ChatMessage, classifier Classifier, policy Policy) domain.EscalationDecision {
	policy = policy.withDefaults()
	userMessages := userTexts(history)

	priority, category := InferPriority(strings.Join(userMessages, " "))
	decision := domain.EscalationDecision{
		SuggestedTitle:       SuggestTitle(history),
		SuggestedDescription: Transcript(history),
		Priority:             priority,
		Category:             category,
	}

	if len(userMessages) < policy.MinUserMessages {
		decision.Reason = ReasonBelowThreshold
		return decision
	}

	recent := userMessages
	if len(recent) > policy.ContextWindow {
		recent = recent[len(recent)-policy.ContextWindow:]
	}

	for _, text := range recent {
		if classifier.WantsHuman(text) {
			decision.ShouldEscalate = true
			decision.Reason = ReasonUserAskedForHuman
			return decision
		}
	}

	if len(userMessages) >= policy.ProposeTicketMessages {
		for _, text := range recent {
			if classifier.HasUnresolvedSignal(text) {
				decision.ShouldEscalate = true
				decision.Reason = fmt.Sprintf("%s (%d mensagens)", ReasonUnresolved, len(userMessages))
				return decision
			}
		}
	}

	decision.Reason = ReasonNoUnresolved
	return decision
}

// SuggestTitle builds a ticket subject from the first substantial user
// message.
func SuggestTitle(history []domain.ChatMessage) string {
	for _, msg := range history {
		if msg.Sender != domain.SenderUser {
			continue
		}
		text := strings.Join(strings.Fields(msg.Text), " ")
		if utf8.RuneCountInString(text) <= 3 {
			continue
		}
		return truncateRunes(text, maxTitleRunes)
	}
	return "Atendimento via chat"
}

// Transcript renders the conversation as plain text for a ticket description.
func Transcript(history []domain.ChatMessage) string {
	var b strings.Builder
	for i, msg := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch msg.Sender {
		case domain.SenderUser:
			b.WriteString("Usuário: ")
		default:
			b.WriteString("Assistente: ")
		}
		b.WriteString(strings.TrimSpace(msg.Text))
	}
	return b.String()
}

func userTexts(history []domain.ChatMessage) []string {
	out := make([]string, 0, len(history))
	for _, msg := range history {
		if msg.Sender == domain.SenderUser {
			out = append(out, msg.Text)
		}
	}
	return out
}

func truncateRunes(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}
