package repository

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// ConversationRepository stores triage conversations keyed by an opaque
// session identifier. Expiry is owned by the implementation's TTL, not by
// the callers.
type ConversationRepository interface {
	History(ctx context.Context, sessionKey string) ([]domain.ChatMessage, error)
	Append(ctx context.Context, sessionKey string, messages ...domain.ChatMessage) error
	// BindTicket associates the session with the ticket opened for it.
	BindTicket(ctx context.Context, sessionKey string, ticketID int64) error
	// SwapTicket binds ticketID only while the session is still bound to
	// expected (0 for none). It returns the binding in effect afterwards, so
	// a caller that lost a concurrent bind learns the winner.
	SwapTicket(ctx context.Context, sessionKey string, expected, ticketID int64) (int64, error)
	// TicketFor returns the bound ticket id, or 0 when none is bound.
	TicketFor(ctx context.Context, sessionKey string) (int64, error)
	Reset(ctx context.Context, sessionKey string) error
}

type memorySession struct {
	messages  []domain.ChatMessage
	ticketID  int64
	expiresAt time.Time
}

// MemoryConversationRepository is the in-process conversation store used
// when Redis is not configured.
type MemoryConversationRepository struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memorySession
}

// NewMemoryConversationRepository builds a store whose sessions expire after
// ttl without activity. A non-positive ttl disables expiry.
func NewMemoryConversationRepository(ttl time.Duration) *MemoryConversationRepository {
	return &MemoryConversationRepository{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*memorySession),
	}
}

func (r *MemoryConversationRepository) History(ctx context.Context, sessionKey string) ([]domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.live(sessionKey)
	if session == nil {
		return []domain.ChatMessage{}, nil
	}
	out := make([]domain.ChatMessage, len(session.messages))
	copy(out, session.messages)
	return out, nil
}

func (r *MemoryConversationRepository) Append(ctx context.Context, sessionKey string, messages ...domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.touch(sessionKey)
	session.messages = append(session.messages, messages...)
	return nil
}

func (r *MemoryConversationRepository) BindTicket(ctx context.Context, sessionKey string, ticketID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touch(sessionKey).ticketID = ticketID
	return nil
}

func (r *MemoryConversationRepository) SwapTicket(ctx context.Context, sessionKey string, expected, ticketID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.touch(sessionKey)
	if session.ticketID == expected {
		session.ticketID = ticketID
	}
	return session.ticketID, nil
}

func (r *MemoryConversationRepository) TicketFor(ctx context.Context, sessionKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if session := r.live(sessionKey); session != nil {
		return session.ticketID, nil
	}
	return 0, nil
}

func (r *MemoryConversationRepository) Reset(ctx context.Context, sessionKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionKey)
	return nil
}

// live returns the session if present and not expired. Caller holds r.mu.
func (r *MemoryConversationRepository) live(sessionKey string) *memorySession {
	session, ok := r.sessions[sessionKey]
	if !ok {
		return nil
	}
	if r.ttl > 0 && r.now().After(session.expiresAt) {
		delete(r.sessions, sessionKey)
		return nil
	}
	return session
}

// touch returns the live session, creating it if needed, and extends its
// expiry. Caller holds r.mu.
func (r *MemoryConversationRepository) touch(sessionKey string) *memorySession {
	session := r.live(sessionKey)
	if session == nil {
		session = &memorySession{}
		r.sessions[sessionKey] = session
	}
	session.expiresAt = r.now().Add(r.ttl)
	return session
}
