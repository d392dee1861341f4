package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketbot/internal/api/dto"
	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/service"
	"github.com/spec-kit/ticketbot/internal/transcript"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// TicketsHandler serves the operator ticket endpoints. The history and
// transcript repositories are nil when the audit store is disabled.
type TicketsHandler struct {
	service     *service.TicketService
	history     repository.TicketHistoryRepository
	transcripts repository.TranscriptRepository
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, history repository.TicketHistoryRepository, transcripts repository.TranscriptRepository) *TicketsHandler {
	return &TicketsHandler{service: ticketService, history: history, transcripts: transcripts}
}

// Overview GET /guilds/:guild/tickets.
func (h *TicketsHandler) Overview(c *fiber.Ctx) error {
	actor, err := operatorActor(c)
	if err != nil {
		return err
	}
	overview, err := h.service.Overview(c.UserContext(), c.Params("guild"), actor)
	if err != nil {
		return err
	}
	resp := dto.OverviewResponse{
		GuildID:    overview.GuildID,
		Open:       overview.Open,
		Claimed:    overview.Claimed,
		Unclaimed:  overview.Unclaimed,
		ByPriority: overview.ByPriority,
		Tickets:    make([]dto.TicketSummary, 0, len(overview.Tickets)),
	}
	for i := range overview.Tickets {
		resp.Tickets = append(resp.Tickets, dto.NewTicketSummary(&overview.Tickets[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// GetTicket GET /guilds/:guild/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.service.Get(c.UserContext(), c.Params("guild"), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(ticket)})
}

// History GET /guilds/:guild/tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	if h.history == nil {
		return apperrors.NewNotFound("ticket history", map[string]any{"reason": "audit store disabled"})
	}
	entries, err := h.history.ListByTicket(c.UserContext(), c.Params("guild"), c.Params("id"))
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	items := make([]dto.HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.HistoryEntryResponse{
			ID:         e.ID,
			ActorID:    e.ActorID,
			ChangeType: e.ChangeType,
			OldValue:   e.OldValue,
			NewValue:   e.NewValue,
			CreatedAt:  e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// Transcript GET /guilds/:guild/tickets/:id/transcript. The archived copy
// wins; an open ticket is rendered live from its channel.
func (h *TicketsHandler) Transcript(c *fiber.Ctx) error {
	guildID, ticketID := c.Params("guild"), c.Params("id")
	if h.transcripts != nil {
		record, err := h.transcripts.Get(c.UserContext(), guildID, ticketID)
		if err == nil {
			return c.JSON(fiber.Map{"data": archivedTranscript(record)})
		}
		if !apperrors.HasCode(err, apperrors.CodeNotFound) {
			return apperrors.NewInternalError(err)
		}
	}

	actor, err := operatorActor(c)
	if err != nil {
		return err
	}
	ticket, result, err := h.service.Transcript(c.UserContext(), guildID, ticketID, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TranscriptResponse{
		TicketID:     ticket.ID,
		FileName:     transcript.FileName(*ticket),
		Content:      result.Content,
		MessageCount: result.MessageCount,
		Truncated:    result.Truncated,
	}})
}

// ListTranscripts GET /guilds/:guild/transcripts?requester=.
func (h *TicketsHandler) ListTranscripts(c *fiber.Ctx) error {
	if h.transcripts == nil {
		return apperrors.NewNotFound("transcripts", map[string]any{"reason": "audit store disabled"})
	}
	requester := c.Query("requester")
	if requester == "" {
		return apperrors.NewValidationError("requester query parameter required", nil)
	}
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	records, err := h.transcripts.ListByRequester(c.UserContext(), c.Params("guild"), requester, limit)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	items := make([]dto.TranscriptResponse, 0, len(records))
	for i := range records {
		items = append(items, archivedTranscript(&records[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// ForceClose POST /guilds/:guild/tickets/:id/force-close.
func (h *TicketsHandler) ForceClose(c *fiber.Ctx) error {
	actor, err := operatorActor(c)
	if err != nil {
		return err
	}
	var req dto.CloseTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	result, err := h.service.ForceClose(c.UserContext(), c.Params("guild"), c.Params("id"), actor, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.CloseResultResponse{Ticket: dto.NewTicketDetail(result.Ticket), Orphaned: result.Orphaned}})
}

// SetPriority POST /guilds/:guild/tickets/:id/priority.
func (h *TicketsHandler) SetPriority(c *fiber.Ctx) error {
	actor, err := operatorActor(c)
	if err != nil {
		return err
	}
	var req dto.PriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if !req.Priority.Valid() {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": req.Priority})
	}
	ticket, err := h.service.SetPriority(c.UserContext(), c.Params("guild"), c.Params("id"), actor, req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(ticket)})
}

// CloseAll POST /guilds/:guild/tickets/close-all.
func (h *TicketsHandler) CloseAll(c *fiber.Ctx) error {
	actor, err := operatorActor(c)
	if err != nil {
		return err
	}
	var req dto.CloseTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	report, err := h.service.CloseAll(c.UserContext(), c.Params("guild"), actor, req.Reason)
	if err != nil {
		return err
	}
	resp := dto.MassCloseResponse{
		Closed:   append([]string{}, report.Closed...),
		Orphaned: append([]string{}, report.Orphaned...),
		Failed:   make(map[string]string, len(report.Failed)),
	}
	for id, ferr := range report.Failed {
		resp.Failed[id] = ferr.Error()
	}
	return c.JSON(fiber.Map{"data": resp})
}

func operatorActor(c *fiber.Ctx) (domain.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return domain.OperatorActor(principal.Username), nil
}

func archivedTranscript(record *domain.TranscriptRecord) dto.TranscriptResponse {
	return dto.TranscriptResponse{
		TicketID:     record.TicketID,
		FileName:     transcript.FileName(domain.Ticket{ID: record.TicketID}),
		Content:      record.Content,
		MessageCount: record.MessageCount,
		Truncated:    record.Truncated,
		Archived:     true,
		ClosedAt:     record.ClosedAt,
	}
}
