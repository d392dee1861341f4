package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/repository"
)

// AuditService records lifecycle events in the history table and archives closing transcripts.
type AuditService struct {
	history     repository.TicketHistoryRepository
	transcripts repository.TranscriptRepository
	logger      *zap.Logger
}

// NewAuditService builds the service. Nil repositories disable the matching writes.
func NewAuditService(history repository.TicketHistoryRepository, transcripts repository.TranscriptRepository, logger *zap.Logger) *AuditService {
	return &AuditService{history: history, transcripts: transcripts, logger: logger}
}

// RegisterHandlers subscribes to every lifecycle event.
func (a *AuditService) RegisterHandlers(d events.Dispatcher) {
	if d == nil {
		return
	}
	events.SubscribeAll(d, a.handle)
}

var changeTypes = map[events.EventType]domain.TicketChangeType{
	events.EventTicketCreated:         domain.ChangeTypeCreated,
	events.EventTicketClaimed:         domain.ChangeTypeClaim,
	events.EventTicketPriorityChanged: domain.ChangeTypePriority,
	events.EventTicketCloseRequested:  domain.ChangeTypeCloseRequested,
	events.EventTicketCloseDenied:     domain.ChangeTypeCloseDenied,
	events.EventTicketClosed:          domain.ChangeTypeClosed,
	events.EventTicketOrphaned:        domain.ChangeTypeOrphaned,
	events.EventTicketMemberChanged:   domain.ChangeTypeMembership,
	events.EventTicketRenamed:         domain.ChangeTypeRename,
}

func (a *AuditService) handle(ctx context.Context, event events.Event) error {
	if closed, ok := event.Payload.(events.TicketClosedPayload); ok && a.transcripts != nil {
		if err := a.archive(ctx, closed); err != nil {
			a.logger.Error("transcript archive failed", zap.String("ticket_id", event.TicketID), zap.Error(err))
		}
	}
	if a.history == nil {
		return nil
	}
	entry := &domain.TicketHistory{
		GuildID:    event.GuildID,
		TicketID:   event.TicketID,
		ActorID:    event.Actor.ID,
		ChangeType: changeTypes[event.Type],
		OldValue:   oldValue(event),
		NewValue:   newValue(event),
	}
	return a.history.Create(ctx, entry)
}

func (a *AuditService) archive(ctx context.Context, closed events.TicketClosedPayload) error {
	t := closed.Ticket
	record := &domain.TranscriptRecord{
		GuildID:      t.GuildID,
		TicketID:     t.ID,
		RequesterID:  t.RequesterID,
		Category:     t.Category,
		Content:      closed.Transcript,
		MessageCount: closed.MessageCount,
		Truncated:    closed.Truncated,
	}
	if t.CloseType != nil {
		record.CloseType = *t.CloseType
	}
	if t.ClosedAt != nil {
		record.ClosedAt = *t.ClosedAt
	}
	return a.transcripts.Save(ctx, record)
}

func oldValue(event events.Event) map[string]any {
	switch p := event.Payload.(type) {
	case events.TicketPriorityChangedPayload:
		return map[string]any{"priority": p.OldPriority}
	case events.TicketRenamedPayload:
		return map[string]any{"name": p.OldName}
	}
	return nil
}

func newValue(event events.Event) map[string]any {
	switch p := event.Payload.(type) {
	case events.TicketCreatedPayload:
		return map[string]any{"requester_id": p.RequesterID, "category": p.Category, "priority": p.Priority}
	case events.TicketClaimedPayload:
		return map[string]any{"claimed_by": p.ClaimedBy}
	case events.TicketPriorityChangedPayload:
		return map[string]any{"priority": p.NewPriority}
	case events.TicketCloseRequestedPayload:
		return map[string]any{"prompt_id": p.PromptID, "reason": p.Reason}
	case events.TicketCloseDeniedPayload:
		return map[string]any{"prompt_id": p.PromptID}
	case events.TicketClosedPayload:
		return map[string]any{
			"status":       p.Ticket.Status,
			"close_type":   closeTypeLabel(p.Ticket.CloseType),
			"close_reason": domain.StringValue(p.Ticket.CloseReason),
			"closed_by":    domain.StringValue(p.Ticket.ClosedBy),
		}
	case events.TicketOrphanedPayload:
		return map[string]any{"error": p.Error}
	case events.TicketMemberChangedPayload:
		return map[string]any{"user_id": p.UserID, "added": p.Added}
	case events.TicketRenamedPayload:
		return map[string]any{"name": p.NewName}
	}
	return nil
}
