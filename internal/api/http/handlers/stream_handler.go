package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

const eventConnected = "Connected"

// StreamDependencies bundles collaborators for the event stream handler.
type StreamDependencies struct {
	Hub       *events.Hub
	Tickets   *service.TicketService
	Poller    *worker.StatusPoller
	Heartbeat time.Duration
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// StreamHandler serves server-sent event streams backed by the hub. Every
// ticket a stream watches also runs a status poller, so the client converges
// to the stored status even when pushed events are dropped.
type StreamHandler struct {
	hub       *events.Hub
	tickets   *service.TicketService
	poller    *worker.StatusPoller
	heartbeat time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	conn      *events.Connection
	caller    domain.Caller
	ctx       context.Context
	cancel    context.CancelFunc
	snapshots chan events.TicketStatusSnapshotPayload
	closeOnce sync.Once

	mu      sync.Mutex
	watches map[int64]*ticketWatch
}

type ticketWatch struct {
	cancel context.CancelFunc
	resync chan struct{}
}

// NewStreamHandler constructs handler.
func NewStreamHandler(deps StreamDependencies) *StreamHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &StreamHandler{
		hub:       deps.Hub,
		tickets:   deps.Tickets,
		poller:    deps.Poller,
		heartbeat: heartbeat,
		metrics:   deps.Metrics,
		logger:    logger,
		streams:   make(map[string]*stream),
	}
}

// Open GET /stream. Query ticket=<id> watches a ticket, agents=true joins
// the agents group.
func (h *StreamHandler) Open(c *fiber.Ctx) error {
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return err
	}
	var ticketIDs []int64
	if raw := strings.TrimSpace(c.Query("ticket")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return apperrors.NewValidationError("invalid ticket id", map[string]any{"ticket": raw})
		}
		ticketIDs = append(ticketIDs, id)
	}

	s, err := h.openStream(c.UserContext(), caller, c.QueryBool("agents", false), ticketIDs)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		h.pump(s, w)
	})
	return nil
}

// Join POST /stream/:conn/join.
func (h *StreamHandler) Join(c *fiber.Ctx) error {
	s, req, err := h.groupRequest(c)
	if err != nil {
		return err
	}
	if req.Agents {
		if err := h.joinAgents(s); err != nil {
			return err
		}
	}
	if req.TicketID != nil {
		if err := h.watch(c.UserContext(), s, *req.TicketID); err != nil {
			return err
		}
	}
	return h.membership(c, s)
}

// Leave POST /stream/:conn/leave.
func (h *StreamHandler) Leave(c *fiber.Ctx) error {
	s, req, err := h.groupRequest(c)
	if err != nil {
		return err
	}
	if req.Agents {
		if err := h.hub.Leave(s.conn.ID, events.AgentsGroup); err != nil {
			return apperrors.NewNotFound("connection", map[string]any{"id": s.conn.ID})
		}
	}
	if req.TicketID != nil {
		h.unwatch(s, *req.TicketID)
	}
	return h.membership(c, s)
}

// CloseAll ends every open stream. Called on shutdown so the server is not
// held open by long-lived responses.
func (h *StreamHandler) CloseAll() {
	h.mu.Lock()
	open := make([]*stream, 0, len(h.streams))
	for _, s := range h.streams {
		open = append(open, s)
	}
	h.mu.Unlock()
	for _, s := range open {
		h.closeStream(s)
	}
}

func (h *StreamHandler) openStream(ctx context.Context, caller domain.Caller, agents bool, ticketIDs []int64) (*stream, error) {
	if agents && !caller.IsAgent {
		return nil, apperrors.NewForbidden("agent capability required")
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &stream{
		conn:      h.hub.Register(caller.Email),
		caller:    caller,
		ctx:       streamCtx,
		cancel:    cancel,
		snapshots: make(chan events.TicketStatusSnapshotPayload, len(domain.AllTicketStatuses())),
		watches:   make(map[int64]*ticketWatch),
	}
	h.mu.Lock()
	h.streams[s.conn.ID] = s
	h.mu.Unlock()
	h.metrics.ConnectionOpened()

	if agents {
		if err := h.joinAgents(s); err != nil {
			h.closeStream(s)
			return nil, err
		}
	}
	for _, id := range ticketIDs {
		if err := h.watch(ctx, s, id); err != nil {
			h.closeStream(s)
			return nil, err
		}
	}
	h.logger.Info("stream opened",
		zap.String("connection_id", s.conn.ID),
		zap.String("owner", caller.Email),
		zap.Strings("groups", h.hub.Groups(s.conn.ID)))
	return s, nil
}

func (h *StreamHandler) pump(s *stream, w *bufio.Writer) {
	defer h.closeStream(s)

	opened := dto.StreamOpenedPayload{ConnectionID: s.conn.ID, Groups: h.hub.Groups(s.conn.ID)}
	if err := writeFrame(w, "", eventConnected, opened); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.conn.Done():
			return
		case evt := <-s.conn.Events():
			if err := writeFrame(w, evt.ID, string(evt.Name), evt); err != nil {
				return
			}
			if s.conn.NeedsResync() {
				h.resync(s)
			}
		case snapshot := <-s.snapshots:
			if err := writeFrame(w, "", string(events.EventTicketStatusSnapshot), snapshot); err != nil {
				return
			}
		case now := <-ticker.C:
			if s.conn.NeedsResync() {
				h.resync(s)
			}
			if err := writeFrame(w, "", string(events.EventHeartbeat), fiber.Map{"at": now.UTC()}); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) closeStream(s *stream) {
	s.closeOnce.Do(func() {
		s.cancel()
		h.hub.Disconnect(s.conn.ID)
		h.mu.Lock()
		delete(h.streams, s.conn.ID)
		h.mu.Unlock()
		h.metrics.ConnectionClosed()
		h.logger.Info("stream closed", zap.String("connection_id", s.conn.ID))
	})
}

func (h *StreamHandler) joinAgents(s *stream) error {
	if !s.caller.IsAgent {
		return apperrors.NewForbidden("agent capability required")
	}
	if err := h.hub.Join(s.conn.ID, events.AgentsGroup); err != nil {
		return apperrors.NewNotFound("connection", map[string]any{"id": s.conn.ID})
	}
	return nil
}

// watch joins the ticket's group and starts its poller. Watching the same
// ticket twice is a no-op.
func (h *StreamHandler) watch(ctx context.Context, s *stream, ticketID int64) error {
	if _, err := h.tickets.GetTicket(ctx, s.caller, ticketID); err != nil {
		return err
	}
	if err := h.hub.Join(s.conn.ID, events.TicketGroup(ticketID)); err != nil {
		return apperrors.NewNotFound("connection", map[string]any{"id": s.conn.ID})
	}

	s.mu.Lock()
	if _, ok := s.watches[ticketID]; ok {
		s.mu.Unlock()
		return nil
	}
	watchCtx, cancel := context.WithCancel(s.ctx)
	tw := &ticketWatch{cancel: cancel, resync: make(chan struct{}, 1)}
	s.watches[ticketID] = tw
	s.mu.Unlock()

	if h.poller == nil {
		return nil
	}
	go func() {
		err := h.poller.Watch(watchCtx, ticketID, tw.resync, func(snapshot events.TicketStatusSnapshotPayload) {
			select {
			case s.snapshots <- snapshot:
			case <-watchCtx.Done():
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Debug("status watch ended",
				zap.String("connection_id", s.conn.ID),
				zap.Int64("ticket_id", ticketID),
				zap.Error(err))
		}
	}()
	return nil
}

func (h *StreamHandler) unwatch(s *stream, ticketID int64) {
	_ = h.hub.Leave(s.conn.ID, events.TicketGroup(ticketID))
	s.mu.Lock()
	tw, ok := s.watches[ticketID]
	delete(s.watches, ticketID)
	s.mu.Unlock()
	if ok {
		tw.cancel()
	}
}

// resync asks every poller of the stream for a fresh snapshot after the hub
// dropped an event for it.
func (h *StreamHandler) resync(s *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tw := range s.watches {
		select {
		case tw.resync <- struct{}{}:
		default:
		}
	}
	h.logger.Debug("stream resync requested", zap.String("connection_id", s.conn.ID))
}

func (h *StreamHandler) groupRequest(c *fiber.Ctx) (*stream, dto.StreamGroupRequest, error) {
	var req dto.StreamGroupRequest
	caller, err := auth.CallerFromContext(c)
	if err != nil {
		return nil, req, err
	}
	if err := c.BodyParser(&req); err != nil {
		return nil, req, apperrors.NewValidationError("invalid payload", nil)
	}
	if !req.Agents && req.TicketID == nil {
		return nil, req, apperrors.NewValidationError("ticket_id or agents required", nil)
	}

	connID := c.Params("conn")
	h.mu.Lock()
	s, ok := h.streams[connID]
	h.mu.Unlock()
	if !ok {
		return nil, req, apperrors.NewNotFound("connection", map[string]any{"id": connID})
	}
	if !strings.EqualFold(s.caller.Email, caller.Email) {
		return nil, req, apperrors.NewForbidden("connection belongs to another user")
	}
	return s, req, nil
}

func (h *StreamHandler) membership(c *fiber.Ctx, s *stream) error {
	return c.JSON(fiber.Map{"data": dto.StreamOpenedPayload{
		ConnectionID: s.conn.ID,
		Groups:       h.hub.Groups(s.conn.ID),
	}})
}

// writeFrame writes one server-sent event. A flush error means the client
// went away.
func writeFrame(w *bufio.Writer, id, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return w.Flush()
}
