package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/triage"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

type chatFixture struct {
	*fixture
	chat          *ChatService
	conversations repository.ConversationRepository
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	f := newFixture(t)
	conversations := repository.NewMemoryConversationRepository(time.Hour)
	engine := triage.NewEngine(triage.EngineDependencies{
		Conversations: conversations,
		Policy:        triage.DefaultPolicy(),
		Logger:        zap.NewNop(),
		Metrics:       f.metrics,
	})
	chat := NewChatService(ChatDependencies{
		Engine:        engine,
		Tickets:       f.tickets,
		Conversations: conversations,
		Notifier:      NewNotificationService(f.hub, zap.NewNop(), f.metrics),
		Logger:        zap.NewNop(),
	})
	return &chatFixture{fixture: f, chat: chat, conversations: conversations}
}

func TestOffTopicMessageOpensNoTicket(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	result, err := f.chat.ProcessMessage(ctx, creator, "s1", "qual a receita de bolo?")
	require.NoError(t, err)
	assert.False(t, result.IsInScope)
	assert.Nil(t, result.Ticket)

	result, err = f.chat.ProcessMessage(ctx, creator, "s1", "ok")
	require.NoError(t, err)
	assert.False(t, result.IsInScope)
	assert.Nil(t, result.Ticket)

	all, err := f.tickets.ListTickets(ctx, agentA, TicketListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFirstInScopeMessageOpensTicket(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	result, err := f.chat.ProcessMessage(ctx, creator, "s1", "O servidor de arquivos caiu")
	require.NoError(t, err)
	assert.True(t, result.IsInScope)
	assert.True(t, result.FallbackUsed)
	require.NotNil(t, result.Ticket)
	assert.Equal(t, domain.TicketStatusOpen, result.Ticket.Status)
	assert.Equal(t, "O servidor de arquivos caiu", result.Ticket.Subject)
	assert.Equal(t, domain.TicketPriorityCritical, result.Ticket.Priority)
	assert.Equal(t, domain.CategoryInfrastructure, result.Ticket.Category)

	again, err := f.chat.ProcessMessage(ctx, creator, "s1", "já reiniciei o servidor")
	require.NoError(t, err)
	require.NotNil(t, again.Ticket)
	assert.Equal(t, result.Ticket.ID, again.Ticket.ID)

	bound, err := f.conversations.TicketFor(ctx, "maria@example.com/s1")
	require.NoError(t, err)
	assert.Equal(t, result.Ticket.ID, bound)
}

func TestSessionsAreScopedToCaller(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.chat.ProcessMessage(ctx, creator, "shared", "minha impressora travou")
	require.NoError(t, err)

	history, err := f.chat.History(ctx, other, "shared")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = f.chat.ProcessMessage(ctx, creator, " ", "oi")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
	_, err = f.chat.ProcessMessage(ctx, creator, "s1", "   ")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestConfirmationResolvesDirectly(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	first, err := f.chat.ProcessMessage(ctx, creator, "s1", "minha impressora travou")
	require.NoError(t, err)
	require.NotNil(t, first.Ticket)
	watcher := f.subscribe(t, creator.Email, events.TicketGroup(first.Ticket.ID))

	polite, err := f.chat.ProcessMessage(ctx, creator, "s1", "ok")
	require.NoError(t, err)
	assert.False(t, polite.Resolved)
	assert.Equal(t, domain.TicketStatusOpen, polite.Ticket.Status)

	done, err := f.chat.ProcessMessage(ctx, creator, "s1", "funcionou, obrigado")
	require.NoError(t, err)
	assert.True(t, done.Resolved)
	require.NotNil(t, done.Ticket)
	assert.Equal(t, domain.TicketStatusResolved, done.Ticket.Status)
	assert.Nil(t, done.Ticket.AssignedAgent)

	assert.Equal(t,
		[]events.EventName{events.EventTicketStatusChanged, events.EventShowSatisfactionSurvey},
		names(drain(watcher)))

	rated, err := f.tickets.Rate(ctx, creator, done.Ticket.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, *rated.Rating)
}

func TestEscalationSuggestedButNotApplied(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	agents := f.subscribe(t, agentA.Email, events.AgentsGroup)

	messages := []string{
		"meu computador nao liga",
		"o computador continua desligado",
		"tentei outra tomada no computador",
		"computador ainda nao liga",
	}
	for _, text := range messages {
		result, err := f.chat.ProcessMessage(ctx, creator, "s1", text)
		require.NoError(t, err)
		assert.False(t, result.SuggestEscalation, text)
	}

	result, err := f.chat.ProcessMessage(ctx, creator, "s1", "quero falar com um atendente")
	require.NoError(t, err)
	assert.True(t, result.SuggestEscalation)
	require.NotNil(t, result.Escalation)
	assert.Equal(t, triage.ReasonUserAskedForHuman, result.Escalation.Reason)
	assert.Equal(t, domain.TicketStatusOpen, result.Ticket.Status)
	assert.Empty(t, drain(agents))

	queued, err := f.chat.RequestHuman(ctx, creator, "s1")
	require.NoError(t, err)
	assert.Equal(t, result.Ticket.ID, queued.ID)
	assert.Equal(t, domain.TicketStatusAwaitingAgent, queued.Status)
	assert.Contains(t, queued.Description, "Usuário: quero falar com um atendente")
	assert.Equal(t, []events.EventName{events.EventNewUserInQueue}, names(drain(agents)))
}

func TestRequestHumanWithoutTicketOpensOne(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	queued, err := f.chat.RequestHuman(ctx, creator, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAwaitingAgent, queued.Status)
	assert.Equal(t, "Atendimento via chat", queued.Subject)
}

func TestMarkResolvedCreatesTicketWithTranscript(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.chat.ProcessMessage(ctx, creator, "s1", "qual a receita de bolo?")
	require.NoError(t, err)

	resolved, err := f.chat.MarkResolved(ctx, creator, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, resolved.Status)
	assert.Contains(t, resolved.Description, "Usuário: qual a receita de bolo?")
	assert.Equal(t, creator.Email, resolved.CreatorEmail)

	// A second confirmation is a no-op on an already resolved ticket.
	again, err := f.chat.MarkResolved(ctx, creator, "s1")
	require.NoError(t, err)
	assert.Equal(t, resolved.ID, again.ID)
}

func TestMarkResolvedWhileInService(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	first, err := f.chat.ProcessMessage(ctx, creator, "s1", "a VPN não conecta")
	require.NoError(t, err)
	_, err = f.tickets.Claim(ctx, agentA, first.Ticket.ID)
	require.NoError(t, err)

	closed, err := f.chat.MarkResolved(ctx, creator, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, closed.Status)
	require.NotNil(t, closed.AssignedAgent)
	assert.Equal(t, agentA.Email, *closed.AssignedAgent)
}

func TestSendLiveMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	ticket := f.open(t)
	watcher := f.subscribe(t, agentA.Email, events.TicketGroup(ticket.ID))

	_, err := f.chat.SendLiveMessage(ctx, other, ticket.ID, "oi")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	sent, err := f.chat.SendLiveMessage(ctx, creator, ticket.ID, "  alguém aí?  ")
	require.NoError(t, err)
	assert.Equal(t, "alguém aí?", sent.Text)
	assert.Equal(t, "Maria", sent.SenderName)

	delivered := drain(watcher)
	require.Len(t, delivered, 1)
	assert.Equal(t, events.EventReceiveMessage, delivered[0].Name)
	payload := delivered[0].Payload.(events.ReceiveMessagePayload)
	assert.Equal(t, creator.Email, payload.SenderEmail)

	_, err = f.tickets.ResolveBySelfService(ctx, creator, ticket.ID)
	require.NoError(t, err)
	_, err = f.chat.SendLiveMessage(ctx, creator, ticket.ID, "obrigada")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
}

func TestResetSessionForgetsBinding(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	first, err := f.chat.ProcessMessage(ctx, creator, "s1", "minha impressora travou")
	require.NoError(t, err)
	require.NoError(t, f.chat.ResetSession(ctx, creator, "s1"))

	second, err := f.chat.ProcessMessage(ctx, creator, "s1", "agora o monitor piscou")
	require.NoError(t, err)
	require.NotNil(t, second.Ticket)
	assert.NotEqual(t, first.Ticket.ID, second.Ticket.ID)
}

func TestNewProblemAfterResolutionOpensFreshTicket(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	first, err := f.chat.ProcessMessage(ctx, creator, "s1", "a impressora não imprime")
	require.NoError(t, err)
	require.NotNil(t, first.Ticket)

	done, err := f.chat.ProcessMessage(ctx, creator, "s1", "funcionou, obrigado")
	require.NoError(t, err)
	require.True(t, done.Resolved)
	assert.Equal(t, domain.TicketStatusResolved, done.Ticket.Status)

	next, err := f.chat.ProcessMessage(ctx, creator, "s1", "agora o wifi caiu e a internet não conecta")
	require.NoError(t, err)
	assert.True(t, next.IsInScope)
	require.NotNil(t, next.Ticket)
	assert.NotEqual(t, first.Ticket.ID, next.Ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, next.Ticket.Status)

	bound, err := f.conversations.TicketFor(ctx, "maria@example.com/s1")
	require.NoError(t, err)
	assert.Equal(t, next.Ticket.ID, bound)

	queued, err := f.chat.RequestHuman(ctx, creator, "s1")
	require.NoError(t, err)
	assert.Equal(t, next.Ticket.ID, queued.ID)
	assert.Equal(t, domain.TicketStatusAwaitingAgent, queued.Status)

	previous, err := f.tickets.GetTicket(ctx, creator, first.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, previous.Status)
}

func TestRequestHumanAfterResolutionOpensNewTicket(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.chat.ProcessMessage(ctx, creator, "s1", "minha impressora travou")
	require.NoError(t, err)
	resolved, err := f.chat.MarkResolved(ctx, creator, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusResolved, resolved.Status)

	queued, err := f.chat.RequestHuman(ctx, creator, "s1")
	require.NoError(t, err)
	assert.NotEqual(t, resolved.ID, queued.ID)
	assert.Equal(t, domain.TicketStatusAwaitingAgent, queued.Status)
}

func TestConcurrentFirstMessagesShareOneTicket(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	ids := make([]int64, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.chat.ProcessMessage(ctx, creator, "s1", "minha impressora travou")
			if assert.NoError(t, err) && assert.NotNil(t, result.Ticket) {
				ids[i] = result.Ticket.ID
			}
		}(i)
	}
	wg.Wait()

	bound, err := f.conversations.TicketFor(ctx, "maria@example.com/s1")
	require.NoError(t, err)
	for _, id := range ids {
		assert.Equal(t, bound, id)
	}

	all, err := f.tickets.ListTickets(ctx, agentA, TicketListFilter{})
	require.NoError(t, err)
	open := 0
	for _, ticket := range all {
		if ticket.Status == domain.TicketStatusOpen {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func TestOpenTicketLosingBindReturnsBoundTicket(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	key := "maria@example.com/s1"

	winner := f.open(t)
	require.NoError(t, f.conversations.BindTicket(ctx, key, winner.ID))

	got, err := f.chat.openTicket(ctx, creator, key, 0, TicketCreateInput{Subject: "Impressora travou"})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)

	all, err := f.tickets.ListTickets(ctx, agentA, TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, ticket := range all {
		if ticket.ID == winner.ID {
			assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
		} else {
			assert.Equal(t, domain.TicketStatusResolved, ticket.Status)
		}
	}

	bound, err := f.conversations.TicketFor(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, bound)
}
