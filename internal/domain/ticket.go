package domain

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// TicketPriority enumerates staff-assigned urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityNormal TicketPriority = "normal"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// Priorities lists priorities from most to least urgent.
var Priorities = []TicketPriority{
	TicketPriorityUrgent,
	TicketPriorityHigh,
	TicketPriorityNormal,
	TicketPriorityLow,
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityNormal, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// CloseType records how a ticket reached the closed state.
type CloseType string

const (
	CloseTypeConfirmed   CloseType = "confirmed"
	CloseTypeForceClosed CloseType = "force-closed"
	CloseTypeAutoClosed  CloseType = "auto-closed"
	CloseTypeMassClosed  CloseType = "mass-closed"
)

// Valid reports whether c is a known close type.
func (c CloseType) Valid() bool {
	switch c {
	case CloseTypeConfirmed, CloseTypeForceClosed, CloseTypeAutoClosed, CloseTypeMassClosed:
		return true
	}
	return false
}

// Ticket is the metadata attached to a support conversation channel.
// GuildID and ChannelID come from the hosting channel and are not part of the encoded form.
type Ticket struct {
	ID             string
	GuildID        string
	ChannelID      string
	RequesterID    string
	Category       string
	Status         TicketStatus
	Priority       TicketPriority
	ClaimedBy      *string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ClosedAt       *time.Time
	ClosedBy       *string
	CloseReason    *string
	CloseType      *CloseType
	Version        uint64
}

// IsOpen reports whether the ticket still accepts mutations.
func (t *Ticket) IsOpen() bool {
	return t != nil && t.Status == TicketStatusOpen
}

// IsClaimed reports whether a staff member has claimed the ticket.
func (t *Ticket) IsClaimed() bool {
	return t != nil && t.ClaimedBy != nil
}

// Clone returns a deep copy.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	out := *t
	out.ClaimedBy = cloneString(t.ClaimedBy)
	out.ClosedBy = cloneString(t.ClosedBy)
	out.CloseReason = cloneString(t.CloseReason)
	if t.ClosedAt != nil {
		closedAt := *t.ClosedAt
		out.ClosedAt = &closedAt
	}
	if t.CloseType != nil {
		closeType := *t.CloseType
		out.CloseType = &closeType
	}
	return &out
}

// Close moves the ticket to the closed state, setting every closed-state field together.
func (t *Ticket) Close(at time.Time, by, reason string, closeType CloseType) {
	t.Status = TicketStatusClosed
	t.ClosedAt = &at
	t.ClosedBy = &by
	t.CloseReason = &reason
	t.CloseType = &closeType
}

// Validate checks the ticket invariants.
func (t *Ticket) Validate() error {
	if t == nil {
		return errors.New("ticket is nil")
	}
	if t.ID == "" {
		return errors.New("ticket id required")
	}
	if t.RequesterID == "" {
		return errors.New("requester id required")
	}
	if t.Category == "" {
		return errors.New("category required")
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	// Encoded text strings must be valid UTF-8 or the topic cannot be read back.
	for name, value := range map[string]string{
		"id":           t.ID,
		"requester_id": t.RequesterID,
		"category":     t.Category,
		"claimed_by":   StringValue(t.ClaimedBy),
		"closed_by":    StringValue(t.ClosedBy),
		"close_reason": StringValue(t.CloseReason),
	} {
		if !utf8.ValidString(value) {
			return fmt.Errorf("%s is not valid UTF-8", name)
		}
	}
	for name, field := range map[string]*string{
		"claimed_by":   t.ClaimedBy,
		"closed_by":    t.ClosedBy,
		"close_reason": t.CloseReason,
	} {
		if field != nil && *field == "" {
			return fmt.Errorf("%s set to empty value", name)
		}
	}

	closedFields := 0
	if t.ClosedAt != nil {
		closedFields++
	}
	if t.ClosedBy != nil {
		closedFields++
	}
	if t.CloseReason != nil {
		closedFields++
	}
	if t.CloseType != nil {
		if !t.CloseType.Valid() {
			return fmt.Errorf("invalid close type %q", *t.CloseType)
		}
		closedFields++
	}

	switch t.Status {
	case TicketStatusOpen:
		if closedFields != 0 {
			return errors.New("open ticket carries closed-state fields")
		}
	case TicketStatusClosed:
		if closedFields != 4 {
			return errors.New("closed ticket is missing closed-state fields")
		}
	default:
		return fmt.Errorf("invalid status %q", t.Status)
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// StringValue dereferences an optional string.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
