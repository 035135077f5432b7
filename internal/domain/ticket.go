package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus int

const (
	TicketStatusOpen TicketStatus = iota + 1
	TicketStatusAwaitingAgent
	TicketStatusInService
	TicketStatusResolved
)

var statusNames = map[TicketStatus]string{
	TicketStatusOpen:          "Open",
	TicketStatusAwaitingAgent: "AwaitingAgent",
	TicketStatusInService:     "InService",
	TicketStatusResolved:      "Resolved",
}

// AllTicketStatuses lists every status in lifecycle order.
func AllTicketStatuses() []TicketStatus {
	return []TicketStatus{
		TicketStatusOpen,
		TicketStatusAwaitingAgent,
		TicketStatusInService,
		TicketStatusResolved,
	}
}

func (s TicketStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TicketStatus(%d)", int(s))
}

// Valid reports whether s is one of the declared statuses.
func (s TicketStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Unclaimed reports whether no agent has taken the ticket yet.
func (s TicketStatus) Unclaimed() bool {
	return s == TicketStatusOpen || s == TicketStatusAwaitingAgent
}

// ParseTicketStatus converts the wire name back into a status.
func ParseTicketStatus(raw string) (TicketStatus, error) {
	for status, name := range statusNames {
		if strings.EqualFold(name, strings.TrimSpace(raw)) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown ticket status %q", raw)
}

// MarshalText implements encoding.TextMarshaler.
func (s TicketStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ticket status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TicketStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTicketStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityCritical TicketPriority = "CRITICAL"
)

// TicketCategory groups tickets by support area.
type TicketCategory string

const (
	CategoryGeneral        TicketCategory = "GENERAL"
	CategoryInfrastructure TicketCategory = "INFRASTRUCTURE"
	CategoryNetwork        TicketCategory = "NETWORK"
	CategorySecurity       TicketCategory = "SECURITY"
	CategoryAccess         TicketCategory = "ACCESS"
	CategoryHardware       TicketCategory = "HARDWARE"
	CategorySoftware       TicketCategory = "SOFTWARE"
	CategoryEmail          TicketCategory = "EMAIL"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityCritical:
		return true
	}
	return false
}

func (c TicketCategory) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryInfrastructure, CategoryNetwork, CategorySecurity,
		CategoryAccess, CategoryHardware, CategorySoftware, CategoryEmail:
		return true
	}
	return false
}

const (
	MinRating = 1
	MaxRating = 5
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            int64
	Subject       string
	Description   string
	Status        TicketStatus
	CreatorEmail  string
	AssignedAgent *string
	Rating        *int
	Priority      TicketPriority
	Category      TicketCategory
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CheckInvariants verifies the cross-field rules every persisted ticket must hold.
func (t *Ticket) CheckInvariants() error {
	if !t.Status.Valid() {
		return fmt.Errorf("ticket %d: invalid status %d", t.ID, int(t.Status))
	}
	if strings.TrimSpace(t.CreatorEmail) == "" {
		return fmt.Errorf("ticket %d: missing creator", t.ID)
	}
	if t.AssignedAgent != nil && t.Status != TicketStatusInService && t.Status != TicketStatusResolved {
		return fmt.Errorf("ticket %d: assigned agent while %s", t.ID, t.Status)
	}
	if t.Rating != nil {
		if t.Status != TicketStatusResolved {
			return fmt.Errorf("ticket %d: rated while %s", t.ID, t.Status)
		}
		if *t.Rating < MinRating || *t.Rating > MaxRating {
			return fmt.Errorf("ticket %d: rating %d out of range", t.ID, *t.Rating)
		}
	}
	return nil
}

// IsCreator reports whether email identifies the ticket's creator.
func (t *Ticket) IsCreator(email string) bool {
	return email != "" && strings.EqualFold(t.CreatorEmail, email)
}

// IsAssignedTo reports whether email is the current assigned agent.
func (t *Ticket) IsAssignedTo(email string) bool {
	return email != "" && t.AssignedAgent != nil && strings.EqualFold(*t.AssignedAgent, email)
}

// AnnotationLine formats a system annotation.
func AnnotationLine(note string) string {
	return "[sistema] " + strings.TrimSpace(note)
}

// Annotate returns the description with a system line appended.
func Annotate(description, note string) string {
	line := AnnotationLine(note)
	if strings.TrimSpace(description) == "" {
		return line
	}
	return description + "\n" + line
}

// ErrInvalidRating marks ratings outside [MinRating, MaxRating].
var ErrInvalidRating = errors.New("rating must be between 1 and 5")

// ValidateRating checks the rating range.
func ValidateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return ErrInvalidRating
	}
	return nil
}
