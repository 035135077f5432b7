package triage

import (
	"unicode/utf8"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Resolution is the outcome of inspecting one user message for
// confirmation language.
type Resolution struct {
	Strong   bool
	Negative bool
}

// Resolved is true only for a strong confirmation without negative signals.
func (r Resolution) Resolved() bool {
	return r.Strong && !r.Negative
}

// Classifier decides relevance and resolution for user messages. The
// rule-based implementation can be swapped for a model-backed one without
// touching the ticket lifecycle.
type Classifier interface {
	InScope(text string, history []domain.ChatMessage) bool
	DetectResolution(text string) Resolution
	HasUnresolvedSignal(text string) bool
	WantsHuman(text string) bool
}

// RuleClassifier is the keyword-table Classifier.
type RuleClassifier struct {
	contextWindow int
}

// NewRuleClassifier builds a classifier that looks back contextWindow
// history entries when judging short follow-ups.
func NewRuleClassifier(contextWindow int) *RuleClassifier {
	if contextWindow <= 0 {
		contextWindow = 5
	}
	return &RuleClassifier{contextWindow: contextWindow}
}

// InScope reports whether the message is an IT support matter. Messages
// without IT keywords still count when they are follow-ups to a recent IT
// exchange: short replies, acknowledgements, resolution statements and
// requests for a human.
func (c *RuleClassifier) InScope(text string, history []domain.ChatMessage) bool {
	normalized := Normalize(text)
	if itKeywords.matches(normalized) {
		return true
	}
	if !c.isFollowUp(normalized) {
		return false
	}
	start := len(history) - c.contextWindow
	if start < 0 {
		start = 0
	}
	for _, entry := range history[start:] {
		if itKeywords.matches(Normalize(entry.Text)) {
			return true
		}
	}
	return false
}

func (c *RuleClassifier) isFollowUp(normalized string) bool {
	if utf8.RuneCountInString(normalized) <= 3 {
		return true
	}
	if _, ok := acknowledgements[normalized]; ok {
		return true
	}
	return strongResolution.matches(normalized) ||
		negativeSignals.matches(normalized) ||
		humanRequests.matches(normalized)
}

// DetectResolution classifies confirmation and negative language.
func (c *RuleClassifier) DetectResolution(text string) Resolution {
	normalized := Normalize(text)
	return Resolution{
		Strong:   strongResolution.matches(normalized),
		Negative: negativeSignals.matches(normalized),
	}
}

// HasUnresolvedSignal reports frustration or still-broken markers.
func (c *RuleClassifier) HasUnresolvedSignal(text string) bool {
	return unresolvedSignals.matches(Normalize(text))
}

// WantsHuman reports an explicit request for a human agent.
func (c *RuleClassifier) WantsHuman(text string) bool {
	return humanRequests.matches(Normalize(text))
}
