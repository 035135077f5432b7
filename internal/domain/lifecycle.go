package domain

// TicketEvent names an action that may move a ticket between statuses.
type TicketEvent string

const (
	EventRequestHumanAttention TicketEvent = "request_human_attention"
	EventClaim                 TicketEvent = "claim"
	EventFinalize              TicketEvent = "finalize"
	EventUserCloses            TicketEvent = "user_closes"
	EventSelfResolve           TicketEvent = "self_resolve"
	EventRate                  TicketEvent = "rate"
)

// Next returns the status reached by applying event to s. The boolean is
// false when the event is not legal from s.
func (s TicketStatus) Next(event TicketEvent) (TicketStatus, bool) {
	switch s {
	case TicketStatusOpen, TicketStatusAwaitingAgent:
		switch event {
		case EventRequestHumanAttention:
			return TicketStatusAwaitingAgent, true
		case EventClaim:
			return TicketStatusInService, true
		case EventSelfResolve:
			return TicketStatusResolved, true
		}
	case TicketStatusInService:
		switch event {
		case EventFinalize, EventUserCloses:
			return TicketStatusResolved, true
		}
	case TicketStatusResolved:
		if event == EventRate {
			return TicketStatusResolved, true
		}
	}
	return s, false
}

// CanApply reports whether event is legal from s.
func (s TicketStatus) CanApply(event TicketEvent) bool {
	_, ok := s.Next(event)
	return ok
}
