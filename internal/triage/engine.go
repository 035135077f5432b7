package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// Reply sources reported to metrics.
const (
	SourceModel      = "model"
	SourceFallback   = "fallback"
	SourceOutOfScope = "out_of_scope"
	SourceResolution = "resolution"
)

// Reply is the engine's answer to one user message.
type Reply struct {
	Text         string
	Source       string
	InScope      bool
	FallbackUsed bool
	Resolved     bool
	Escalation   domain.EscalationDecision
	UserMessages int
	// History is the conversation including this exchange.
	History []domain.ChatMessage
}

// EngineDependencies groups collaborators for the triage engine.
type EngineDependencies struct {
	Conversations repository.ConversationRepository
	// Model is optional; without it every in-scope reply uses the local
	// solution table.
	Model      LanguageModel
	Classifier Classifier
	Policy     Policy
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Engine runs the conversational triage for chat sessions.
type Engine struct {
	conversations repository.ConversationRepository
	model         LanguageModel
	classifier    Classifier
	policy        Policy
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

// NewEngine wires the triage engine.
func NewEngine(deps EngineDependencies) *Engine {
	policy := deps.Policy.withDefaults()
	classifier := deps.Classifier
	if classifier == nil {
		classifier = NewRuleClassifier(policy.ContextWindow)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		conversations: deps.Conversations,
		model:         deps.Model,
		classifier:    classifier,
		policy:        policy,
		logger:        logger,
		metrics:       deps.Metrics,
		now:           time.Now,
	}
}

// Classifier exposes the strategy in use.
func (e *Engine) Classifier() Classifier {
	return e.classifier
}

// History returns the stored conversation for a session.
func (e *Engine) History(ctx context.Context, sessionKey string) ([]domain.ChatMessage, error) {
	return e.conversations.History(ctx, sessionKey)
}

// Respond classifies the message, produces a reply and records both entries
// in the session's conversation. Language-model failures never surface as
// errors; only conversation store failures do.
func (e *Engine) Respond(ctx context.Context, sessionKey, text string) (*Reply, error) {
	history, err := e.conversations.History(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	reply := &Reply{InScope: e.classifier.InScope(text, history)}

	userEntry := domain.ChatMessage{Sender: domain.SenderUser, Text: text, Timestamp: e.now().UTC()}
	working := append(append(make([]domain.ChatMessage, 0, len(history)+2), history...), userEntry)

	switch {
	case !reply.InScope:
		reply.Text = outOfScopeReply
		reply.Source = SourceOutOfScope
	case e.classifier.DetectResolution(text).Resolved():
		reply.Resolved = true
		reply.Text = resolvedReply
		reply.Source = SourceResolution
	default:
		reply.Text, reply.FallbackUsed = e.generate(ctx, sessionKey, text, working)
		reply.Source = SourceModel
		if reply.FallbackUsed {
			reply.Source = SourceFallback
		}
		reply.Escalation = EvaluateEscalation(working, e.classifier, e.policy)
	}

	botEntry := domain.ChatMessage{Sender: domain.SenderBot, Text: reply.Text, Timestamp: e.now().UTC()}
	if err := e.conversations.Append(ctx, sessionKey, userEntry, botEntry); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	reply.History = append(working, botEntry)
	reply.UserMessages = domain.CountUserMessages(reply.History)
	e.metrics.RecordTriageReply(reply.Source)
	return reply, nil
}

func (e *Engine) generate(ctx context.Context, sessionKey, text string, history []domain.ChatMessage) (string, bool) {
	if e.model == nil {
		return FallbackSolution(text), true
	}

	answer, err := e.model.Complete(ctx, SystemPrompt, history)
	if err == nil {
		return answer, false
	}
	if !errors.Is(err, ErrModelUnavailable) {
		err = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	e.logger.Warn("language model failed, using local solution",
		zap.String("session", sessionKey),
		zap.Bool("fallback_used", true),
		zap.Error(err))
	return FallbackSolution(text), true
}

// Reset restarts the conversation for a session.
func (e *Engine) Reset(ctx context.Context, sessionKey string) error {
	return e.conversations.Reset(ctx, sessionKey)
}
