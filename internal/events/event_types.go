package events

import (
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketClaimed         EventType = "ticket_claimed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketCloseRequested  EventType = "ticket_close_requested"
	EventTicketCloseDenied     EventType = "ticket_close_denied"
	EventTicketClosed          EventType = "ticket_closed"
	EventTicketOrphaned        EventType = "ticket_orphaned"
	EventTicketMemberChanged   EventType = "ticket_member_changed"
	EventTicketRenamed         EventType = "ticket_renamed"
)

// AllEventTypes lists every lifecycle event, for subscribers that want them all.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketClaimed,
	EventTicketPriorityChanged,
	EventTicketCloseRequested,
	EventTicketCloseDenied,
	EventTicketClosed,
	EventTicketOrphaned,
	EventTicketMemberChanged,
	EventTicketRenamed,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string           `json:"id"`
	Name string           `json:"name,omitempty"`
	Kind domain.ActorKind `json:"kind"`
}

// ActorFrom converts a domain actor.
func ActorFrom(a domain.Actor) Actor {
	kind := a.Kind
	if kind == "" {
		kind = domain.ActorKindMember
	}
	return Actor{ID: a.ID, Name: a.Name(), Kind: kind}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	GuildID   string      `json:"guild_id"`
	TicketID  string      `json:"ticket_id"`
	ChannelID string      `json:"channel_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	RequesterID string                `json:"requester_id"`
	Category    string                `json:"category"`
	Priority    domain.TicketPriority `json:"priority"`
	Answers     []domain.FormAnswer   `json:"answers,omitempty"`
}

// TicketClaimedPayload payload.
type TicketClaimedPayload struct {
	ClaimedBy string `json:"claimed_by"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketCloseRequestedPayload payload.
type TicketCloseRequestedPayload struct {
	PromptID string    `json:"prompt_id"`
	Reason   string    `json:"reason"`
	Expires  time.Time `json:"expires_at"`
}

// TicketCloseDeniedPayload payload.
type TicketCloseDeniedPayload struct {
	PromptID string `json:"prompt_id"`
}

// TicketClosedPayload payload. Transcript carries the rendered text for subscribers that archive it.
type TicketClosedPayload struct {
	Ticket       domain.Ticket `json:"ticket"`
	Transcript   string        `json:"-"`
	MessageCount int           `json:"message_count"`
	Truncated    bool          `json:"truncated"`
}

// TicketOrphanedPayload payload.
type TicketOrphanedPayload struct {
	Error string `json:"error"`
}

// TicketMemberChangedPayload payload.
type TicketMemberChangedPayload struct {
	UserID string `json:"user_id"`
	Added  bool   `json:"added"`
}

// TicketRenamedPayload payload.
type TicketRenamedPayload struct {
	OldName string `json:"old_name,omitempty"`
	NewName string `json:"new_name"`
}
