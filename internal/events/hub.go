package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDeliveryFailed reports that at least one member did not receive a
	// broadcast. Callers log it; it never invalidates the state change that
	// triggered the broadcast.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrUnknownConnection is returned for ids that were never registered or
	// have already disconnected.
	ErrUnknownConnection = errors.New("unknown connection")
)

// DefaultBufferSize is the per-connection event buffer.
const DefaultBufferSize = 64

// Connection is one live subscriber. Events are read from Events() until
// Done() is closed.
type Connection struct {
	ID    string
	Owner string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	resync    atomic.Bool
}

// Events yields delivered notifications.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection as gone. The hub drops it from every group on
// the next broadcast that reaches it.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// NeedsResync reports, and clears, whether an event was dropped because the
// buffer was full. The consumer should re-read authoritative state.
func (c *Connection) NeedsResync() bool {
	return c.resync.Swap(false)
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Hub keeps group memberships and fans named events out to every member.
// Delivery is at-most-once: sends never block, nothing is replayed.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	groups      map[string]map[string]*Connection
	bufferSize  int
	logger      *zap.Logger
	now         func() time.Time
}

// NewHub creates an empty hub.
func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		groups:      make(map[string]map[string]*Connection),
		bufferSize:  bufferSize,
		logger:      logger,
		now:         time.Now,
	}
}

// Register creates a connection owned by the given identity.
func (h *Hub) Register(owner string) *Connection {
	conn := &Connection{
		ID:     uuid.NewString(),
		Owner:  owner,
		events: make(chan Event, h.bufferSize),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
	return conn
}

// Lookup returns a live connection by id.
func (h *Hub) Lookup(connID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[connID]
	if !ok || conn.closed() {
		return nil, false
	}
	return conn, true
}

// Join adds the connection to a group. Joining twice is a no-op.
func (h *Hub) Join(connID, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[connID]
	if !ok || conn.closed() {
		return ErrUnknownConnection
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Connection)
		h.groups[group] = members
	}
	members[connID] = conn
	return nil
}

// Leave removes the connection from a group.
func (h *Hub) Leave(connID, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[connID]; !ok {
		return ErrUnknownConnection
	}
	h.removeMemberLocked(group, connID)
	return nil
}

// Disconnect closes the connection and drops all of its memberships.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[connID]
	if !ok {
		return
	}
	conn.Close()
	delete(h.connections, connID)
	for group := range h.groups {
		h.removeMemberLocked(group, connID)
	}
}

// Members returns the ids of live connections in a group, sorted.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.groups[group]))
	for id, conn := range h.groups[group] {
		if !conn.closed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Groups returns the groups a connection belongs to, sorted.
func (h *Hub) Groups(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var groups []string
	for group, members := range h.groups {
		if _, ok := members[connID]; ok {
			groups = append(groups, group)
		}
	}
	sort.Strings(groups)
	return groups
}

// Broadcast delivers the event to every member of the group at call time.
// An empty group is not an error. Closed connections found along the way
// are pruned. Members whose buffer is full lose the event and are flagged
// for resync; the returned error wraps ErrDeliveryFailed.
func (h *Hub) Broadcast(ctx context.Context, group string, name EventName, payload any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	h.mu.RLock()
	members := make([]*Connection, 0, len(h.groups[group]))
	for _, conn := range h.groups[group] {
		members = append(members, conn)
	}
	h.mu.RUnlock()

	if len(members) == 0 {
		return nil
	}

	event := Event{
		ID:        uuid.NewString(),
		Name:      name,
		Group:     group,
		Timestamp: h.now().UTC(),
		Payload:   payload,
	}

	var stale []string
	dropped := 0
	for _, conn := range members {
		if conn.closed() {
			stale = append(stale, conn.ID)
			continue
		}
		select {
		case conn.events <- event:
		default:
			conn.resync.Store(true)
			dropped++
		}
	}

	if len(stale) > 0 {
		h.prune(stale)
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %s dropped for %d of %d members of %s",
			ErrDeliveryFailed, name, dropped, len(members), group)
	}
	return nil
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) prune(connIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range connIDs {
		delete(h.connections, id)
		for group := range h.groups {
			h.removeMemberLocked(group, id)
		}
	}
	h.logger.Debug("pruned closed connections", zap.Int("count", len(connIDs)))
}

func (h *Hub) removeMemberLocked(group, connID string) {
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}
