package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/platform"
	"github.com/spec-kit/ticketbot/internal/transcript"
)

// NotificationService posts lifecycle events to the log channel and informs requesters.
type NotificationService struct {
	dispatcher   events.Dispatcher
	platform     platform.Platform
	logger       *zap.Logger
	logChannelID string
	retryDelay   time.Duration
}

// NewNotificationService creates the service. An empty log channel disables log posts.
func NewNotificationService(dispatcher events.Dispatcher, p platform.Platform, logger *zap.Logger, logChannelID string, retryDelay time.Duration) *NotificationService {
	return &NotificationService{
		dispatcher:   dispatcher,
		platform:     p,
		logger:       logger,
		logChannelID: logChannelID,
		retryDelay:   retryDelay,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketClaimed, n.handleSimple("Ticket claimed"))
	n.dispatcher.Subscribe(events.EventTicketPriorityChanged, n.handlePriorityChanged)
	n.dispatcher.Subscribe(events.EventTicketMemberChanged, n.handleMemberChanged)
	n.dispatcher.Subscribe(events.EventTicketRenamed, n.handleSimple("Ticket renamed"))
	n.dispatcher.Subscribe(events.EventTicketClosed, n.handleTicketClosed)
	n.dispatcher.Subscribe(events.EventTicketOrphaned, n.handleTicketOrphaned)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketCreatedPayload)
	card := n.baseCard("Ticket opened", event)
	card.Fields = append(card.Fields,
		domain.CardField{Name: "Requester", Value: platform.MentionUser(payload.RequesterID)},
		domain.CardField{Name: "Category", Value: payload.Category},
	)
	return n.postLog(ctx, event, platform.OutgoingMessage{Card: card})
}

func (n *NotificationService) handlePriorityChanged(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketPriorityChangedPayload)
	card := n.baseCard("Priority changed", event)
	card.Fields = append(card.Fields, domain.CardField{Name: "Priority", Value: fmt.Sprintf("%s -> %s", payload.OldPriority, payload.NewPriority)})
	return n.postLog(ctx, event, platform.OutgoingMessage{Card: card})
}

func (n *NotificationService) handleMemberChanged(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketMemberChangedPayload)
	title := "User removed"
	if payload.Added {
		title = "User added"
	}
	card := n.baseCard(title, event)
	card.Fields = append(card.Fields, domain.CardField{Name: "User", Value: platform.MentionUser(payload.UserID)})
	return n.postLog(ctx, event, platform.OutgoingMessage{Card: card})
}

func (n *NotificationService) handleSimple(title string) events.EventHandler {
	return func(ctx context.Context, event events.Event) error {
		return n.postLog(ctx, event, platform.OutgoingMessage{Card: n.baseCard(title, event)})
	}
}

func (n *NotificationService) handleTicketClosed(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketClosedPayload)
	if !ok {
		return nil
	}
	t := payload.Ticket
	card := n.baseCard("Ticket closed", event)
	card.Fields = append(card.Fields,
		domain.CardField{Name: "Requester", Value: platform.MentionUser(t.RequesterID)},
		domain.CardField{Name: "Category", Value: t.Category},
		domain.CardField{Name: "Close type", Value: closeTypeLabel(t.CloseType)},
		domain.CardField{Name: "Reason", Value: domain.StringValue(t.CloseReason)},
		domain.CardField{Name: "Messages", Value: fmt.Sprintf("%d", payload.MessageCount)},
	)
	if t.ClaimedBy != nil {
		card.Fields = append(card.Fields, domain.CardField{Name: "Claimed by", Value: platform.MentionUser(*t.ClaimedBy)})
	}
	logErr := n.postLog(ctx, event, platform.OutgoingMessage{Card: card, Files: []platform.File{transcriptFile(t, payload.Transcript)}})

	dm := platform.OutgoingMessage{
		Content: fmt.Sprintf("Your ticket **%s** (%s) was closed.\nReason: %s\nA transcript of the conversation is attached.",
			t.ID, t.Category, domain.StringValue(t.CloseReason)),
		Files: []platform.File{transcriptFile(t, payload.Transcript)},
	}
	if err := retryOnce(ctx, n.retryDelay, func() error {
		return n.platform.SendDirectMessage(ctx, t.RequesterID, rewindFiles(dm))
	}); err != nil {
		n.logger.Warn("could not message requester", zap.String("ticket_id", t.ID), zap.String("requester_id", t.RequesterID), zap.Error(err))
	}
	return logErr
}

func (n *NotificationService) handleTicketOrphaned(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketOrphanedPayload)
	card := n.baseCard("Ticket channel could not be deleted", event)
	card.Description = "The ticket is closed but its channel remains. Delete it manually."
	card.Fields = append(card.Fields,
		domain.CardField{Name: "Channel", Value: "<#" + event.ChannelID + ">"},
		domain.CardField{Name: "Error", Value: payload.Error},
	)
	return n.postLog(ctx, event, platform.OutgoingMessage{Card: card})
}

func (n *NotificationService) baseCard(title string, event events.Event) *domain.Card {
	actor := event.Actor.Name
	if event.Actor.Kind != domain.ActorKindSystem {
		actor = platform.MentionUser(event.Actor.ID)
	}
	return &domain.Card{
		Title: fmt.Sprintf("%s - %s", title, event.TicketID),
		Fields: []domain.CardField{
			{Name: "By", Value: actor},
		},
	}
}

// postLog delivers to the log channel, retried once.
func (n *NotificationService) postLog(ctx context.Context, event events.Event, msg platform.OutgoingMessage) error {
	if strings.TrimSpace(n.logChannelID) == "" {
		return nil
	}
	err := retryOnce(ctx, n.retryDelay, func() error {
		// Readers are consumed by a failed attempt, so files are rebuilt per try.
		_, err := n.platform.SendMessage(ctx, n.logChannelID, rewindFiles(msg))
		return err
	})
	if err != nil {
		n.logger.Warn("log channel post failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
	return err
}

func closeTypeLabel(ct *domain.CloseType) string {
	if ct == nil {
		return "-"
	}
	return string(*ct)
}

type transcriptReader struct {
	*strings.Reader
	content string
}

func transcriptFile(t domain.Ticket, content string) platform.File {
	return platform.File{
		Name:        transcript.FileName(t),
		ContentType: "text/plain",
		Reader:      &transcriptReader{Reader: strings.NewReader(content), content: content},
	}
}

func rewindFiles(msg platform.OutgoingMessage) platform.OutgoingMessage {
	if len(msg.Files) == 0 {
		return msg
	}
	files := make([]platform.File, len(msg.Files))
	for i, f := range msg.Files {
		if r, ok := f.Reader.(*transcriptReader); ok {
			f.Reader = &transcriptReader{Reader: strings.NewReader(r.content), content: r.content}
		}
		files[i] = f
	}
	msg.Files = files
	return msg
}
