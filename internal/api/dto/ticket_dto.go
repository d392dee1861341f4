package dto

import (
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// LoginRequest payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse payload.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
}

// CloseTicketRequest is the body of force-close and close-all.
type CloseTicketRequest struct {
	Reason string `json:"reason"`
}

// PriorityRequest is the body of a priority change.
type PriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// TicketSummary response.
type TicketSummary struct {
	ID             string                `json:"id"`
	GuildID        string                `json:"guild_id"`
	ChannelID      string                `json:"channel_id"`
	RequesterID    string                `json:"requester_id"`
	Category       string                `json:"category"`
	Status         domain.TicketStatus   `json:"status"`
	Priority       domain.TicketPriority `json:"priority"`
	ClaimedBy      *string               `json:"claimed_by"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActivityAt time.Time             `json:"last_activity_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	ClosedAt    *time.Time        `json:"closed_at"`
	ClosedBy    *string           `json:"closed_by"`
	CloseReason *string           `json:"close_reason"`
	CloseType   *domain.CloseType `json:"close_type"`
	Version     uint64            `json:"version"`
}

// OverviewResponse summarizes open tickets of a guild.
type OverviewResponse struct {
	GuildID    string                        `json:"guild_id"`
	Open       int                           `json:"open"`
	Claimed    int                           `json:"claimed"`
	Unclaimed  int                           `json:"unclaimed"`
	ByPriority map[domain.TicketPriority]int `json:"by_priority"`
	Tickets    []TicketSummary               `json:"tickets"`
}

// HistoryEntryResponse is one audit entry.
type HistoryEntryResponse struct {
	ID         string                  `json:"id"`
	ActorID    string                  `json:"actor_id"`
	ChangeType domain.TicketChangeType `json:"change_type"`
	OldValue   map[string]any          `json:"old_value,omitempty"`
	NewValue   map[string]any          `json:"new_value,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// TranscriptResponse is an archived or live transcript.
type TranscriptResponse struct {
	TicketID     string    `json:"ticket_id"`
	FileName     string    `json:"file_name"`
	Content      string    `json:"content"`
	MessageCount int       `json:"message_count"`
	Truncated    bool      `json:"truncated"`
	Archived     bool      `json:"archived"`
	ClosedAt     time.Time `json:"closed_at,omitempty"`
}

// CloseResultResponse reports a terminal close.
type CloseResultResponse struct {
	Ticket   TicketDetailResponse `json:"ticket"`
	Orphaned bool                 `json:"orphaned"`
}

// MassCloseResponse reports a close-all run.
type MassCloseResponse struct {
	Closed   []string          `json:"closed"`
	Orphaned []string          `json:"orphaned"`
	Failed   map[string]string `json:"failed"`
}

// NewTicketSummary maps a ticket.
func NewTicketSummary(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:             t.ID,
		GuildID:        t.GuildID,
		ChannelID:      t.ChannelID,
		RequesterID:    t.RequesterID,
		Category:       t.Category,
		Status:         t.Status,
		Priority:       t.Priority,
		ClaimedBy:      t.ClaimedBy,
		CreatedAt:      t.CreatedAt,
		LastActivityAt: t.LastActivityAt,
	}
}

// NewTicketDetail maps a ticket with its closing fields.
func NewTicketDetail(t *domain.Ticket) TicketDetailResponse {
	return TicketDetailResponse{
		TicketSummary: NewTicketSummary(t),
		ClosedAt:      t.ClosedAt,
		ClosedBy:      t.ClosedBy,
		CloseReason:   t.CloseReason,
		CloseType:     t.CloseType,
		Version:       t.Version,
	}
}
