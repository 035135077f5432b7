package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/triage"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

type testServer struct {
	app    *fiber.App
	hub    *events.Hub
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	tickets := repository.NewMemoryTicketRepository()
	conversations := repository.NewMemoryConversationRepository(time.Hour)
	hub := events.NewHub(8, logger)
	notifier := service.NewNotificationService(hub, logger, metrics)

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: tickets, Notifier: notifier, Logger: logger, Metrics: metrics,
	})
	chatService := service.NewChatService(service.ChatDependencies{
		Engine: triage.NewEngine(triage.EngineDependencies{
			Conversations: conversations, Policy: triage.DefaultPolicy(), Logger: logger, Metrics: metrics,
		}),
		Tickets:       ticketService,
		Conversations: conversations,
		Notifier:      notifier,
		Logger:        logger,
	})
	tokens := auth.NewTokenManager("test-secret", 10)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:  handlers.NewHealthHandler("helpdesk-service", "test", &persistence.Postgres{}, &persistence.Redis{}),
		Tickets: handlers.NewTicketsHandler(ticketService, chatService),
		Agent:   handlers.NewAgentHandler(ticketService),
		Chat:    handlers.NewChatHandler(chatService),
		Stream: handlers.NewStreamHandler(handlers.StreamDependencies{
			Hub:     hub,
			Tickets: ticketService,
			Poller:  worker.NewStatusPoller(tickets, time.Hour, logger),
			Metrics: metrics,
			Logger:  logger,
		}),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	return &testServer{app: app, hub: hub, tokens: tokens}
}

func (s *testServer) token(t *testing.T, email, name string, agent bool) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(email, name, agent)
	require.NoError(t, err)
	return token
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

type ticketBody struct {
	ID            int64   `json:"id"`
	Subject       string  `json:"subject"`
	Description   string  `json:"description"`
	Status        string  `json:"status"`
	AssignedAgent *string `json:"assigned_agent"`
	Rating        *int    `json:"rating"`
	Priority      string  `json:"priority"`
}

func decodeTicket(t *testing.T, env envelope) ticketBody {
	t.Helper()
	var ticket ticketBody
	require.NoError(t, json.Unmarshal(env.Data, &ticket))
	return ticket
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, stdhttp.MethodGet, "/health/live", "", nil)
	assert.Equal(t, stdhttp.StatusOK, status)

	status, _ = s.do(t, stdhttp.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, stdhttp.StatusOK, status)

	resp, err := s.app.Test(httptest.NewRequest(stdhttp.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, stdhttp.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "helpdesk_stream_connections")
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, stdhttp.MethodGet, "/tickets", "", nil)
	assert.Equal(t, stdhttp.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	user := s.token(t, "maria@example.com", "Maria", false)
	status, env = s.do(t, stdhttp.MethodGet, "/agent/queue", user, nil)
	assert.Equal(t, stdhttp.StatusForbidden, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	maria := s.token(t, "maria@example.com", "Maria", false)
	ana := s.token(t, "ana@example.com", "Ana", true)
	bruno := s.token(t, "bruno@example.com", "Bruno", true)

	status, env := s.do(t, stdhttp.MethodPost, "/tickets", maria, map[string]any{
		"subject": "VPN não conecta", "description": "desde ontem", "priority": "high",
	})
	require.Equal(t, stdhttp.StatusCreated, status)
	created := decodeTicket(t, env)
	assert.Equal(t, "Open", created.Status)
	assert.Equal(t, "HIGH", created.Priority)
	path := fmt.Sprintf("/tickets/%d", created.ID)

	status, env = s.do(t, stdhttp.MethodPost, path+"/request-human", maria, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	assert.Equal(t, "AwaitingAgent", decodeTicket(t, env).Status)

	status, env = s.do(t, stdhttp.MethodGet, "/agent/queue", ana, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	var queue []ticketBody
	require.NoError(t, json.Unmarshal(env.Data, &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, created.ID, queue[0].ID)

	claimPath := fmt.Sprintf("/agent/tickets/%d/claim", created.ID)
	status, env = s.do(t, stdhttp.MethodPost, claimPath, ana, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	claimed := decodeTicket(t, env)
	assert.Equal(t, "InService", claimed.Status)
	require.NotNil(t, claimed.AssignedAgent)
	assert.Equal(t, "ana@example.com", *claimed.AssignedAgent)

	status, env = s.do(t, stdhttp.MethodPost, claimPath, bruno, nil)
	assert.Equal(t, stdhttp.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	status, _ = s.do(t, stdhttp.MethodPost, path+"/messages", maria, map[string]any{"text": "alguma novidade?"})
	assert.Equal(t, stdhttp.StatusCreated, status)

	status, env = s.do(t, stdhttp.MethodPost, fmt.Sprintf("/agent/tickets/%d/finalize", created.ID), ana, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	assert.Equal(t, "Resolved", decodeTicket(t, env).Status)

	status, env = s.do(t, stdhttp.MethodPost, path+"/rate", maria, map[string]any{"rating": 9})
	assert.Equal(t, stdhttp.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, env = s.do(t, stdhttp.MethodPost, path+"/rate", maria, map[string]any{"rating": 5})
	require.Equal(t, stdhttp.StatusOK, status)
	rated := decodeTicket(t, env)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 5, *rated.Rating)

	status, env = s.do(t, stdhttp.MethodGet, path+"/status", maria, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	var snapshot struct {
		Status string `json:"status"`
		Rating *int   `json:"rating"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &snapshot))
	assert.Equal(t, "Resolved", snapshot.Status)
	require.NotNil(t, snapshot.Rating)

	status, _ = s.do(t, stdhttp.MethodPost, path+"/request-human", maria, nil)
	assert.Equal(t, stdhttp.StatusConflict, status)
}

func TestTicketAccessAndValidation(t *testing.T) {
	s := newTestServer(t)
	maria := s.token(t, "maria@example.com", "Maria", false)
	joao := s.token(t, "joao@example.com", "João", false)

	status, env := s.do(t, stdhttp.MethodPost, "/tickets", maria, map[string]any{"subject": "  "})
	assert.Equal(t, stdhttp.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "subject", env.Error.Details["field"])

	status, env = s.do(t, stdhttp.MethodPost, "/tickets", maria, map[string]any{"subject": "Impressora"})
	require.Equal(t, stdhttp.StatusCreated, status)
	created := decodeTicket(t, env)

	status, _ = s.do(t, stdhttp.MethodGet, fmt.Sprintf("/tickets/%d", created.ID), joao, nil)
	assert.Equal(t, stdhttp.StatusForbidden, status)

	status, _ = s.do(t, stdhttp.MethodGet, "/tickets/abc", maria, nil)
	assert.Equal(t, stdhttp.StatusBadRequest, status)

	status, _ = s.do(t, stdhttp.MethodGet, "/tickets/999", maria, nil)
	assert.Equal(t, stdhttp.StatusNotFound, status)

	status, _ = s.do(t, stdhttp.MethodGet, "/tickets?status=Bogus", maria, nil)
	assert.Equal(t, stdhttp.StatusBadRequest, status)

	status, env = s.do(t, stdhttp.MethodGet, "/tickets?status=open", joao, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	var mine []ticketBody
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	assert.Empty(t, mine)

	status, env = s.do(t, stdhttp.MethodPost, fmt.Sprintf("/tickets/%d/close", created.ID), maria, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	assert.Equal(t, "Resolved", decodeTicket(t, env).Status)
}

func TestChatOverHTTP(t *testing.T) {
	s := newTestServer(t)
	maria := s.token(t, "maria@example.com", "Maria", false)

	status, env := s.do(t, stdhttp.MethodPost, "/chat/s1/messages", maria, map[string]any{"text": "minha impressora travou"})
	require.Equal(t, stdhttp.StatusOK, status)
	var reply struct {
		Reply        string      `json:"reply"`
		IsInScope    bool        `json:"is_in_scope"`
		FallbackUsed bool        `json:"fallback_used"`
		Ticket       *ticketBody `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	assert.True(t, reply.IsInScope)
	assert.True(t, reply.FallbackUsed)
	assert.NotEmpty(t, reply.Reply)
	require.NotNil(t, reply.Ticket)
	assert.Equal(t, "Open", reply.Ticket.Status)

	status, env = s.do(t, stdhttp.MethodGet, "/chat/s1", maria, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	var history struct {
		Messages []struct {
			Sender string `json:"sender"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history.Messages, 2)

	status, env = s.do(t, stdhttp.MethodPost, "/chat/s1/request-human", maria, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	queued := decodeTicket(t, env)
	assert.Equal(t, reply.Ticket.ID, queued.ID)
	assert.Equal(t, "AwaitingAgent", queued.Status)

	status, env = s.do(t, stdhttp.MethodPost, "/chat/s1/resolved", maria, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	assert.Equal(t, "Resolved", decodeTicket(t, env).Status)

	status, _ = s.do(t, stdhttp.MethodDelete, "/chat/s1", maria, nil)
	assert.Equal(t, stdhttp.StatusNoContent, status)

	status, env = s.do(t, stdhttp.MethodGet, "/chat/s1", maria, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Empty(t, history.Messages)

	status, _ = s.do(t, stdhttp.MethodPost, "/chat/s1/messages", maria, map[string]any{"text": ""})
	assert.Equal(t, stdhttp.StatusBadRequest, status)
}

func TestStreamAuthorization(t *testing.T) {
	s := newTestServer(t)
	maria := s.token(t, "maria@example.com", "Maria", false)
	joao := s.token(t, "joao@example.com", "João", false)

	status, _ := s.do(t, stdhttp.MethodGet, "/stream?agents=true", maria, nil)
	assert.Equal(t, stdhttp.StatusForbidden, status)

	status, env := s.do(t, stdhttp.MethodPost, "/tickets", maria, map[string]any{"subject": "Impressora"})
	require.Equal(t, stdhttp.StatusCreated, status)
	created := decodeTicket(t, env)

	status, _ = s.do(t, stdhttp.MethodGet, fmt.Sprintf("/stream?ticket=%d", created.ID), joao, nil)
	assert.Equal(t, stdhttp.StatusForbidden, status)

	status, _ = s.do(t, stdhttp.MethodPost, "/stream/unknown/join", maria, map[string]any{"ticket_id": created.ID})
	assert.Equal(t, stdhttp.StatusNotFound, status)

	assert.Zero(t, s.hub.ConnectionCount(), "rejected streams must not stay registered")
}
