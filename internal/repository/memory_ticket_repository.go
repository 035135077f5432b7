package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// MemoryTicketRepository keeps tickets in process memory. It is used when no
// Postgres DSN is configured and by tests.
type MemoryTicketRepository struct {
	mu      sync.Mutex
	nextID  int64
	tickets map[int64]*domain.Ticket
	now     func() time.Time
}

// NewMemoryTicketRepository creates an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[int64]*domain.Ticket),
		now:     time.Now,
	}
}

func (r *MemoryTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := r.now()
	ticket.ID = r.nextID
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	r.tickets[ticket.ID] = cloneTicket(ticket)
	return nil
}

func (r *MemoryTicketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTicket(stored), nil
}

func (r *MemoryTicketRepository) UpdateStatus(ctx context.Context, id int64, expected, next domain.TicketStatus, update StatusUpdate) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Status != expected {
		return nil, ErrConflict
	}
	if update.Rating != nil && stored.Rating != nil {
		return nil, ErrConflict
	}

	stored.Status = next
	if update.AssignedAgent != nil {
		agent := *update.AssignedAgent
		stored.AssignedAgent = &agent
	}
	if update.Rating != nil {
		rating := *update.Rating
		stored.Rating = &rating
	}
	if strings.TrimSpace(update.Annotation) != "" {
		stored.Description = domain.Annotate(stored.Description, update.Annotation)
	}
	stored.UpdatedAt = r.now()
	return cloneTicket(stored), nil
}

func (r *MemoryTicketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	matched := make([]domain.Ticket, 0, len(r.tickets))
	for _, stored := range r.tickets {
		if filter.Matches(stored) {
			matched = append(matched, *cloneTicket(stored))
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	limit, offset := filter.window()
	if offset >= len(matched) {
		return []domain.Ticket{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func cloneTicket(src *domain.Ticket) *domain.Ticket {
	dst := *src
	if src.AssignedAgent != nil {
		agent := *src.AssignedAgent
		dst.AssignedAgent = &agent
	}
	if src.Rating != nil {
		rating := *src.Rating
		dst.Rating = &rating
	}
	return &dst
}
