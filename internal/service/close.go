package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/confirm"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/platform"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/transcript"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

const (
	defaultCloseReason = "No reason provided"
	// maxCloseReasonBytes keeps a closed ticket's topic under the platform's field limit.
	maxCloseReasonBytes = 300
	reasonEllipsis      = "…"
	deleteTimeout       = 30 * time.Second
)

// CloseResult reports the outcome of a terminal close.
type CloseResult struct {
	Ticket     *domain.Ticket
	Transcript transcript.Result
	// Orphaned is set when the channel could not be deleted after the metadata was closed.
	Orphaned  bool
	DeleteErr error
	// DeleteScheduled is set when deletion runs after the configured delay.
	// The orphan outcome is then reported through the event bus only.
	DeleteScheduled bool
}

// MassCloseReport summarizes a close-all run.
type MassCloseReport struct {
	Closed   []string
	Orphaned []string
	Failed   map[string]error
}

// RequestClose opens a confirmation prompt for closing the ticket.
func (s *TicketService) RequestClose(ctx context.Context, guildID, ticketID string, actor domain.Actor, reason string) (confirm.Prompt, error) {
	ticket, err := s.store.Get(ctx, guildID, ticketID)
	if err != nil {
		return confirm.Prompt{}, s.fail(TransitionRequestClose, err)
	}
	if err := s.authorize(TransitionRequestClose, actor, ticket); err != nil {
		return confirm.Prompt{}, s.fail(TransitionRequestClose, err)
	}
	if err := checkState(TransitionRequestClose, ticket); err != nil {
		return confirm.Prompt{}, s.fail(TransitionRequestClose, err)
	}

	prompt, err := s.prompts.Open(confirm.OpenParams{
		GuildID:     ticket.GuildID,
		TicketID:    ticket.ID,
		ChannelID:   ticket.ChannelID,
		RequesterID: ticket.RequesterID,
		RequestedBy: actor.ID,
		Reason:      normalizeReason(reason),
	})
	if err != nil {
		return confirm.Prompt{}, s.fail(TransitionRequestClose, err)
	}

	msg := platform.OutgoingMessage{
		Content: fmt.Sprintf("%s wants to close this ticket.", platform.MentionUser(actor.ID)),
		Card: &domain.Card{
			Title: "Close ticket?",
			Fields: []domain.CardField{
				{Name: "Reason", Value: prompt.Reason},
				{Name: "Expires", Value: prompt.ExpiresAt.Format("2006-01-02 15:04 UTC")},
			},
		},
		Controls: []platform.Control{
			{ID: ConfirmControlID(prompt.ID), Label: "Confirm", Style: platform.ControlDanger},
			{ID: DenyControlID(prompt.ID), Label: "Keep open", Style: platform.ControlSecondary},
		},
	}
	if err := retryOnce(ctx, s.settings.RetryDelay, func() error {
		_, err := s.platform.SendMessage(ctx, ticket.ChannelID, msg)
		return err
	}); err != nil {
		s.prompts.Discard(ticket.GuildID, ticket.ID)
		return confirm.Prompt{}, s.fail(TransitionRequestClose, err)
	}

	s.metrics.RecordTransition(string(TransitionRequestClose))
	s.publishEvent(ctx, ticket, actor, events.EventTicketCloseRequested, events.TicketCloseRequestedPayload{
		PromptID: prompt.ID,
		Reason:   prompt.Reason,
		Expires:  prompt.ExpiresAt,
	})
	return prompt, nil
}

// ConfirmClose accepts a pending prompt and closes the ticket. The confirming actor is recorded as closer.
func (s *TicketService) ConfirmClose(ctx context.Context, promptID string, actor domain.Actor) (*CloseResult, error) {
	prompt, err := s.prompts.Resolve(promptID, actor, confirm.DecisionConfirm, s.IsStaff(actor))
	if err != nil {
		return nil, s.fail(TransitionConfirmClose, err)
	}
	return s.closeTicket(ctx, TransitionConfirmClose, prompt.GuildID, prompt.TicketID, actor, prompt.Reason, nil)
}

// DenyClose rejects a pending prompt. The ticket is not modified.
func (s *TicketService) DenyClose(ctx context.Context, promptID string, actor domain.Actor) (confirm.Prompt, error) {
	prompt, err := s.prompts.Resolve(promptID, actor, confirm.DecisionDeny, s.IsStaff(actor))
	if err != nil {
		return confirm.Prompt{}, s.fail(TransitionDenyClose, err)
	}

	ticket := &domain.Ticket{ID: prompt.TicketID, GuildID: prompt.GuildID, ChannelID: prompt.ChannelID}
	s.notify(ctx, ticket, fmt.Sprintf("Close request denied by %s. The ticket stays open.", platform.MentionUser(actor.ID)))
	s.metrics.RecordTransition(string(TransitionDenyClose))
	s.publishEvent(ctx, ticket, actor, events.EventTicketCloseDenied, events.TicketCloseDeniedPayload{PromptID: prompt.ID})
	return prompt, nil
}

// ForceClose closes the ticket immediately, skipping confirmation.
func (s *TicketService) ForceClose(ctx context.Context, guildID, ticketID string, actor domain.Actor, reason string) (*CloseResult, error) {
	if err := s.authorize(TransitionForceClose, actor, nil); err != nil {
		return nil, s.fail(TransitionForceClose, err)
	}
	return s.closeTicket(ctx, TransitionForceClose, guildID, ticketID, actor, reason, nil)
}

// AutoClose closes a ticket idle for longer than threshold. The idle check is repeated
// under the ticket lock so activity that raced the sweep keeps the ticket open.
func (s *TicketService) AutoClose(ctx context.Context, guildID, ticketID string, threshold time.Duration) (*CloseResult, error) {
	actor := domain.SystemActor(s.platform.SelfID())
	hours := int(threshold / time.Hour)
	reason := fmt.Sprintf("Automatically closed after %d hours of inactivity", hours)
	if hours == 0 {
		reason = fmt.Sprintf("Automatically closed after %s of inactivity", threshold)
	}
	stillIdle := func(t *domain.Ticket) error {
		if s.now().Sub(t.LastActivityAt) <= threshold {
			return apperrors.NewConflict("ticket saw recent activity", map[string]any{"ticket_id": t.ID})
		}
		return nil
	}
	return s.closeTicket(ctx, TransitionAutoClose, guildID, ticketID, actor, reason, stillIdle)
}

// CloseAll closes every open ticket of the guild. Failures are isolated per ticket.
func (s *TicketService) CloseAll(ctx context.Context, guildID string, actor domain.Actor, reason string) (*MassCloseReport, error) {
	if err := s.authorize(TransitionMassClose, actor, nil); err != nil {
		return nil, s.fail(TransitionMassClose, err)
	}
	tickets, err := s.store.ListOpen(ctx, guildID)
	if err != nil {
		return nil, s.fail(TransitionMassClose, err)
	}

	report := &MassCloseReport{Failed: make(map[string]error)}
	for _, t := range tickets {
		res, err := s.closeTicket(ctx, TransitionMassClose, guildID, t.ID, actor, reason, nil)
		switch {
		case err != nil:
			report.Failed[t.ID] = err
		case res.Orphaned:
			report.Orphaned = append(report.Orphaned, t.ID)
		default:
			report.Closed = append(report.Closed, t.ID)
		}
	}
	s.logger.Info("mass close finished",
		zap.String("guild_id", guildID),
		zap.Int("closed", len(report.Closed)),
		zap.Int("orphaned", len(report.Orphaned)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

// closeTicket runs the terminal sequence: close metadata, transcript, notify, delete.
// Only the caller whose compare-and-update wins proceeds past the first step.
func (s *TicketService) closeTicket(ctx context.Context, tr Transition, guildID, ticketID string, actor domain.Actor, reason string, expect repository.Precondition) (*CloseResult, error) {
	closeType := closeTypes[tr]
	reason = normalizeReason(reason)
	closedAt := s.now().UTC().Truncate(time.Millisecond)

	ticket, err := s.store.CompareAndUpdate(ctx, guildID, ticketID,
		repository.ExpectAll(repository.ExpectOpen(), expect),
		func(t *domain.Ticket) error {
			t.Close(closedAt, actor.ID, reason, closeType)
			return nil
		})
	if err != nil {
		return nil, s.fail(tr, err)
	}

	// The metadata is closed; the rest of the sequence must not be cut short by the caller.
	ctx = context.WithoutCancel(ctx)
	s.prompts.Discard(ticket.GuildID, ticket.ID)
	fields := observability.TicketFields(ticket.GuildID, ticket.ID, ticket.ChannelID)

	result := &CloseResult{Ticket: ticket}
	result.Transcript = transcript.Render(*ticket, s.fetchHistory(ctx, ticket), s.settings.TranscriptLimit)

	notice := fmt.Sprintf("This ticket was closed by %s (%s).\nReason: %s", actorMention(actor), closeType, reason)
	if s.settings.DeleteDelay > 0 {
		notice += fmt.Sprintf("\nThe channel will be deleted in %s.", s.settings.DeleteDelay)
	}
	s.notify(ctx, ticket, notice)

	s.publishEvent(ctx, ticket, actor, events.EventTicketClosed, events.TicketClosedPayload{
		Ticket:       *ticket,
		Transcript:   result.Transcript.Content,
		MessageCount: result.Transcript.MessageCount,
		Truncated:    result.Transcript.Truncated,
	})

	if s.settings.DeleteDelay > 0 {
		result.DeleteScheduled = true
		s.scheduleDelete(ticket, actor, closeType)
	} else {
		result.DeleteErr = s.deleteChannel(ctx, ticket, actor, closeType)
		result.Orphaned = result.DeleteErr != nil
	}

	s.metrics.RecordTransition("close|" + string(closeType))
	s.logger.Info("ticket closed", append(fields,
		zap.String("close_type", string(closeType)),
		zap.String("closed_by", actor.ID),
		zap.Bool("orphaned", result.Orphaned),
		zap.Bool("delete_scheduled", result.DeleteScheduled))...)
	return result, nil
}

// scheduleDelete deletes the channel once the delay has passed, or at once when the
// service shuts down. Callers are not held for the delay.
func (s *TicketService) scheduleDelete(ticket *domain.Ticket, actor domain.Actor, closeType domain.CloseType) {
	s.deletions.Add(1)
	go func() {
		defer s.deletions.Done()
		timer := time.NewTimer(s.settings.DeleteDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.stop:
		}
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		_ = s.deleteChannel(ctx, ticket, actor, closeType)
	}()
}

// deleteChannel removes the ticket channel and evicts the ticket from the store.
// A channel that is already gone counts as deleted; any other failure orphans the ticket.
func (s *TicketService) deleteChannel(ctx context.Context, ticket *domain.Ticket, actor domain.Actor, closeType domain.CloseType) error {
	fields := observability.TicketFields(ticket.GuildID, ticket.ID, ticket.ChannelID)
	deleteReason := fmt.Sprintf("Ticket %s closed (%s)", ticket.ID, closeType)
	err := s.platform.DeleteChannel(ctx, ticket.ChannelID, deleteReason)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Error("ticket channel could not be deleted; ticket orphaned", append(fields, zap.Error(err))...)
		s.metrics.RecordFailure("delete-channel", apperrors.ToDomainError(err).Code)
		s.publishEvent(ctx, ticket, actor, events.EventTicketOrphaned, events.TicketOrphanedPayload{Error: err.Error()})
	} else {
		err = nil
	}
	if evictErr := s.store.Delete(ctx, ticket.GuildID, ticket.ID); evictErr != nil {
		s.logger.Warn("ticket store eviction failed", append(fields, zap.Error(evictErr))...)
	}
	return err
}

// WaitForDeletions blocks until every scheduled channel deletion has run or ctx ends.
func (s *TicketService) WaitForDeletions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.deletions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown runs scheduled deletions without waiting out their delay and waits for them.
func (s *TicketService) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.WaitForDeletions(ctx)
}

// fetchHistory reads one message past the limit so truncation can be detected.
func (s *TicketService) fetchHistory(ctx context.Context, ticket *domain.Ticket) transcript.History {
	limit := s.settings.TranscriptLimit
	msgs, err := s.platform.ChannelHistory(ctx, ticket.ChannelID, limit+1)
	if err != nil {
		s.logger.Warn("channel history unavailable", append(observability.TicketFields(ticket.GuildID, ticket.ID, ticket.ChannelID), zap.Error(err))...)
		return transcript.History{Unavailable: true}
	}
	return transcript.History{Messages: msgs, Truncated: len(msgs) > limit}
}

// normalizeReason trims the reason, applies the default and caps its encoded size.
func normalizeReason(reason string) string {
	reason = strings.TrimSpace(strings.ToValidUTF8(reason, ""))
	if reason == "" {
		return defaultCloseReason
	}
	return truncateBytes(reason, maxCloseReasonBytes)
}

// truncateBytes cuts s to at most max bytes on a rune boundary, marking the cut.
func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(reasonEllipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRightFunc(s[:cut], unicode.IsSpace) + reasonEllipsis
}

func actorMention(actor domain.Actor) string {
	if actor.IsSystem() {
		return "the system"
	}
	return platform.MentionUser(actor.ID)
}
