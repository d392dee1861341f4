package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeCreated        TicketChangeType = "CREATED"
	ChangeTypeClaim          TicketChangeType = "CLAIM"
	ChangeTypePriority       TicketChangeType = "PRIORITY_CHANGE"
	ChangeTypeCloseRequested TicketChangeType = "CLOSE_REQUESTED"
	ChangeTypeCloseDenied    TicketChangeType = "CLOSE_DENIED"
	ChangeTypeClosed         TicketChangeType = "CLOSED"
	ChangeTypeOrphaned       TicketChangeType = "ORPHANED"
	ChangeTypeMembership     TicketChangeType = "MEMBERSHIP_CHANGE"
	ChangeTypeRename         TicketChangeType = "RENAME"
	ChangeTypeTranscript     TicketChangeType = "TRANSCRIPT"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID         string
	GuildID    string
	TicketID   string
	ActorID    string
	ChangeType TicketChangeType
	OldValue   map[string]any
	NewValue   map[string]any
	CreatedAt  time.Time
}

// TranscriptRecord is an archived transcript of a closed ticket.
type TranscriptRecord struct {
	GuildID      string
	TicketID     string
	RequesterID  string
	Category     string
	CloseType    CloseType
	Content      string
	MessageCount int
	Truncated    bool
	ClosedAt     time.Time
	CreatedAt    time.Time
}
