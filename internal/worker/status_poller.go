package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// TicketReader is the part of the ticket store the poller reads.
type TicketReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
}

// StatusPoller re-reads authoritative ticket state on a fixed interval. It
// backs up the fan-out, which may drop events, so every watcher converges to
// the stored status.
type StatusPoller struct {
	reader   TicketReader
	interval time.Duration
	logger   *zap.Logger
}

// NewStatusPoller creates a poller.
func NewStatusPoller(reader TicketReader, interval time.Duration, logger *zap.Logger) *StatusPoller {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusPoller{reader: reader, interval: interval, logger: logger}
}

// Snapshot reads the current state of a ticket.
func (p *StatusPoller) Snapshot(ctx context.Context, ticketID int64) (events.TicketStatusSnapshotPayload, error) {
	ticket, err := p.reader.GetByID(ctx, ticketID)
	if err != nil {
		return events.TicketStatusSnapshotPayload{}, err
	}
	return snapshotOf(ticket), nil
}

// Watch emits a snapshot immediately and then whenever the stored state
// differs from the last one emitted. A value on resync forces the next
// read to be emitted even if unchanged. Watch returns when ctx ends or the
// ticket no longer exists.
func (p *StatusPoller) Watch(ctx context.Context, ticketID int64, resync <-chan struct{}, emit func(events.TicketStatusSnapshotPayload)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last *events.TicketStatusSnapshotPayload
	check := func(force bool) error {
		current, err := p.Snapshot(ctx, ticketID)
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("status poll failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
			}
			return nil
		}
		if !force && last != nil && sameSnapshot(*last, current) {
			return nil
		}
		last = &current
		emit(current)
		return nil
	}

	if err := check(true); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resync:
			if err := check(true); err != nil {
				return err
			}
		case <-ticker.C:
			if err := check(false); err != nil {
				return err
			}
		}
	}
}

func snapshotOf(ticket *domain.Ticket) events.TicketStatusSnapshotPayload {
	snapshot := events.TicketStatusSnapshotPayload{TicketID: ticket.ID, Status: ticket.Status}
	if ticket.AssignedAgent != nil {
		agent := *ticket.AssignedAgent
		snapshot.AssignedAgent = &agent
	}
	if ticket.Rating != nil {
		rating := *ticket.Rating
		snapshot.Rating = &rating
	}
	return snapshot
}

func sameSnapshot(a, b events.TicketStatusSnapshotPayload) bool {
	return a.TicketID == b.TicketID &&
		a.Status == b.Status &&
		equalPtr(a.AssignedAgent, b.AssignedAgent) &&
		equalPtr(a.Rating, b.Rating)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
