package handlers

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var (
	maria = domain.Caller{Email: "maria@example.com", Name: "Maria"}
	ana   = domain.Caller{Email: "ana@example.com", Name: "Ana", IsAgent: true}
)

func newStreamFixture(t *testing.T) (*StreamHandler, *service.TicketService, *events.Hub) {
	t.Helper()
	repo := repository.NewMemoryTicketRepository()
	hub := events.NewHub(8, zap.NewNop())
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo: repo,
		Notifier:   service.NewNotificationService(hub, zap.NewNop(), nil),
	})
	h := NewStreamHandler(StreamDependencies{
		Hub:       hub,
		Tickets:   tickets,
		Poller:    worker.NewStatusPoller(repo, time.Hour, nil),
		Heartbeat: time.Hour,
	})
	return h, tickets, hub
}

func TestStreamDeliversEventsAndSnapshots(t *testing.T) {
	h, tickets, hub := newStreamFixture(t)
	ctx := context.Background()

	ticket, err := tickets.CreateTicket(ctx, maria, service.TicketCreateInput{Subject: "VPN"})
	require.NoError(t, err)

	s, err := h.openStream(ctx, maria, false, []int64{ticket.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{events.TicketGroup(ticket.ID)}, hub.Groups(s.conn.ID))

	out := &syncBuffer{}
	done := make(chan struct{})
	go func() {
		h.pump(s, bufio.NewWriter(out))
		close(done)
	}()

	require.Eventually(t, func() bool {
		body := out.String()
		return strings.Contains(body, "event: Connected") &&
			strings.Contains(body, "event: TicketStatusSnapshot")
	}, time.Second, 5*time.Millisecond)

	_, err = tickets.RequestHumanAttention(ctx, maria, ticket.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "event: TicketStatusChanged")
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), `"new_status":"AwaitingAgent"`)

	h.CloseAll()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
	assert.Zero(t, hub.ConnectionCount())
}

func TestOpenStreamAuthorization(t *testing.T) {
	h, tickets, hub := newStreamFixture(t)
	ctx := context.Background()

	_, err := h.openStream(ctx, maria, true, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	s, err := h.openStream(ctx, ana, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{s.conn.ID}, hub.Members(events.AgentsGroup))

	ticket, err := tickets.CreateTicket(ctx, maria, service.TicketCreateInput{Subject: "Impressora"})
	require.NoError(t, err)
	require.NoError(t, h.watch(ctx, s, ticket.ID))
	require.NoError(t, h.watch(ctx, s, ticket.ID))
	assert.Len(t, s.watches, 1)

	h.unwatch(s, ticket.ID)
	assert.Empty(t, s.watches)
	assert.Equal(t, []string{events.AgentsGroup}, hub.Groups(s.conn.ID))

	_, err = h.openStream(ctx, domain.Caller{Email: "joao@example.com"}, false, []int64{ticket.ID})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	h.CloseAll()
	assert.Zero(t, hub.ConnectionCount())
}
