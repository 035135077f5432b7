package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

var (
	// ErrNotFound is returned when the referenced ticket does not exist.
	ErrNotFound = errors.New("ticket not found")
	// ErrConflict is returned when a conditional write lost against a
	// concurrent change.
	ErrConflict = errors.New("ticket changed concurrently")
)

// StatusUpdate carries the fields written together with a status change.
type StatusUpdate struct {
	AssignedAgent *string
	// Rating is only applied when the stored rating is still null;
	// otherwise the update fails with ErrConflict.
	Rating     *int
	Annotation string
}

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CreatorEmail  *string
	AssignedAgent *string
	Statuses      []domain.TicketStatus
	SearchTerm    *string
	Limit         int
	Offset        int
}

// Matches applies the filter to a single ticket.
func (f TicketFilter) Matches(ticket *domain.Ticket) bool {
	if f.CreatorEmail != nil && !strings.EqualFold(ticket.CreatorEmail, *f.CreatorEmail) {
		return false
	}
	if f.AssignedAgent != nil && !ticket.IsAssignedTo(*f.AssignedAgent) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if ticket.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SearchTerm != nil && strings.TrimSpace(*f.SearchTerm) != "" {
		term := strings.ToLower(strings.TrimSpace(*f.SearchTerm))
		if !strings.Contains(strings.ToLower(ticket.Subject), term) && !strings.Contains(strings.ToLower(ticket.Description), term) {
			return false
		}
	}
	return true
}

func (f TicketFilter) window() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	// UpdateStatus moves the ticket from expected to next in one conditional
	// write. It returns ErrConflict when the stored status is no longer
	// expected and ErrNotFound when the ticket does not exist.
	UpdateStatus(ctx context.Context, id int64, expected, next domain.TicketStatus, update StatusUpdate) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, subject, description, status, creator_email, assigned_agent,
               rating, priority, category, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (subject, description, status, creator_email, assigned_agent, priority, category)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.Subject,
		ticket.Description,
		ticket.Status.String(),
		ticket.CreatorEmail,
		ticket.AssignedAgent,
		string(ticket.Priority),
		string(ticket.Category),
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id int64, expected, next domain.TicketStatus, update StatusUpdate) (*domain.Ticket, error) {
	var annotation *string
	if strings.TrimSpace(update.Annotation) != "" {
		line := domain.AnnotationLine(update.Annotation)
		annotation = &line
	}
	query := `
        UPDATE tickets SET
            status=$3,
            assigned_agent=COALESCE($4, assigned_agent),
            rating=COALESCE($5, rating),
            description=CASE
                WHEN $6::text IS NULL THEN description
                WHEN description = '' THEN $6::text
                ELSE description || E'\n' || $6::text
            END,
            updated_at=NOW()
        WHERE id=$1 AND status=$2 AND ($5::int IS NULL OR rating IS NULL)
        RETURNING ` + ticketColumns
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query,
		id,
		expected.String(),
		next.String(),
		update.AssignedAgent,
		update.Rating,
		annotation,
	))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatorEmail != nil {
		args = append(args, strings.ToLower(*filter.CreatorEmail))
		clauses = append(clauses, fmt.Sprintf("LOWER(creator_email)=$%d", len(args)))
	}
	if filter.AssignedAgent != nil {
		args = append(args, strings.ToLower(*filter.AssignedAgent))
		clauses = append(clauses, fmt.Sprintf("LOWER(assigned_agent)=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status.String())
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(subject) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}

	limit, offset := filter.window()
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at ASC, id ASC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket   domain.Ticket
		status   string
		priority string
		category string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Subject,
		&ticket.Description,
		&status,
		&ticket.CreatorEmail,
		&ticket.AssignedAgent,
		&ticket.Rating,
		&priority,
		&category,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := domain.ParseTicketStatus(status)
	if err != nil {
		return nil, err
	}
	ticket.Status = parsed
	ticket.Priority = domain.TicketPriority(priority)
	ticket.Category = domain.TicketCategory(category)
	return &ticket, nil
}
