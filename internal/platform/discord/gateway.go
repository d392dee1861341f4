package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/service"
	"github.com/spec-kit/ticketbot/internal/transcript"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

const interactionTimeout = 2 * time.Minute

// Gateway receives Discord events and routes them to the ticket service.
type Gateway struct {
	session *discordgo.Session
	svc     *service.TicketService
	logger  *zap.Logger
	appID   string
	guildID string
}

// NewGateway builds a gateway. An empty guildID registers commands globally.
func NewGateway(session *discordgo.Session, svc *service.TicketService, logger *zap.Logger, appID, guildID string) *Gateway {
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers
	return &Gateway{session: session, svc: svc, logger: logger, appID: appID, guildID: guildID}
}

// Run opens the gateway connection and blocks until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	removeInteraction := g.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		g.onInteraction(ctx, i)
	})
	defer removeInteraction()
	removeMessage := g.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		g.onMessage(ctx, m)
	})
	defer removeMessage()

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer g.session.Close() //nolint:errcheck

	appID := g.appID
	if appID == "" && g.session.State.User != nil {
		appID = g.session.State.User.ID
	}
	if _, err := g.session.ApplicationCommandBulkOverwrite(appID, g.guildID, commandDefinitions(), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	g.logger.Info("discord gateway connected", zap.String("app_id", appID), zap.String("guild_id", g.guildID))

	<-ctx.Done()
	g.logger.Info("discord gateway closing")
	return nil
}

func (g *Gateway) onMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if err := g.svc.Touch(ctx, m.ChannelID, m.Author.ID); err != nil {
		g.logger.Debug("activity update failed", zap.String("channel_id", m.ChannelID), zap.Error(err))
	}
}

func (g *Gateway) onInteraction(parent context.Context, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(parent, interactionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("interaction handler panic", zap.Any("panic", r), zap.String("interaction_id", i.ID))
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		g.onCommand(ctx, i)
	case discordgo.InteractionMessageComponent:
		g.onComponent(ctx, i)
	case discordgo.InteractionModalSubmit:
		g.onModal(ctx, i)
	}
}

func (g *Gateway) onCommand(ctx context.Context, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	opts := commandOptions(data)
	actor := actorFrom(i.Interaction)

	switch data.Name {
	case cmdPanel:
		if err := g.svc.PostPanel(ctx, i.ChannelID, actor); err != nil {
			g.replyError(i, err)
			return
		}
		g.reply(i, "Ticket panel posted.")
	case cmdTickets:
		overview, err := g.svc.Overview(ctx, i.GuildID, actor)
		if err != nil {
			g.replyError(i, err)
			return
		}
		g.respond(i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{overviewEmbed(overview)},
			Flags:  discordgo.MessageFlagsEphemeral,
		})
	case cmdCloseAll:
		g.deferReply(i)
		report, err := g.svc.CloseAll(ctx, i.GuildID, actor, stringOption(opts, "reason"))
		if err != nil {
			g.followupError(i, err)
			return
		}
		msg := fmt.Sprintf("Closed %d tickets.", len(report.Closed))
		if len(report.Orphaned) > 0 {
			msg += fmt.Sprintf(" %d channels could not be deleted.", len(report.Orphaned))
		}
		if len(report.Failed) > 0 {
			msg += fmt.Sprintf(" %d tickets failed to close.", len(report.Failed))
		}
		g.followup(i, msg)
	default:
		g.onTicketCommand(ctx, i, data.Name, opts, actor)
	}
}

// onTicketCommand handles commands issued inside a ticket channel.
func (g *Gateway) onTicketCommand(ctx context.Context, i *discordgo.InteractionCreate, name string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption, actor domain.Actor) {
	ticket, ok := g.ticketHere(ctx, i)
	if !ok {
		return
	}

	var err error
	switch name {
	case cmdClose:
		_, err = g.svc.RequestClose(ctx, ticket.GuildID, ticket.ID, actor, stringOption(opts, "reason"))
		if err == nil {
			g.reply(i, "Close request posted.")
		}
	case cmdClaim:
		_, err = g.svc.Claim(ctx, ticket.GuildID, ticket.ID, actor)
		if err == nil {
			g.reply(i, "You claimed this ticket.")
		}
	case cmdPriority:
		priority := domain.TicketPriority(stringOption(opts, "level"))
		_, err = g.svc.SetPriority(ctx, ticket.GuildID, ticket.ID, actor, priority)
		if err == nil {
			g.reply(i, fmt.Sprintf("Priority set to %s.", priority))
		}
	case cmdTranscript:
		g.sendTranscript(ctx, i, ticket, actor)
		return
	case cmdForceClose:
		g.forceClose(ctx, i, ticket, actor, stringOption(opts, "reason"))
		return
	case cmdAddUser:
		_, err = g.svc.AddUser(ctx, ticket.GuildID, ticket.ID, actor, userOptionID(opts, "user"))
		if err == nil {
			g.reply(i, "Member added.")
		}
	case cmdRemoveUser:
		_, err = g.svc.RemoveUser(ctx, ticket.GuildID, ticket.ID, actor, userOptionID(opts, "user"))
		if err == nil {
			g.reply(i, "Member removed.")
		}
	case cmdRename:
		_, err = g.svc.Rename(ctx, ticket.GuildID, ticket.ID, actor, stringOption(opts, "name"))
		if err == nil {
			g.reply(i, "Channel renamed.")
		}
	default:
		g.reply(i, "Unknown command.")
		return
	}
	if err != nil {
		g.replyError(i, err)
	}
}

func (g *Gateway) onComponent(ctx context.Context, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	actor := actorFrom(i.Interaction)

	if data.CustomID == customCategorySelect {
		if len(data.Values) == 0 {
			return
		}
		g.chooseCategory(ctx, i, actor, data.Values[0])
		return
	}

	action, arg, ok := service.ParseControlID(data.CustomID)
	if !ok {
		g.logger.Debug("unknown component", zap.String("custom_id", data.CustomID))
		return
	}

	switch action {
	case service.ActionPanel:
		g.respond(i, &discordgo.InteractionResponseData{
			Content:    "What do you need help with?",
			Components: categorySelect(g.svc.Categories()),
			Flags:      discordgo.MessageFlagsEphemeral,
		})
	case service.ActionConfirm:
		g.deferUpdate(i)
		if _, err := g.svc.ConfirmClose(ctx, arg, actor); err != nil {
			g.followupError(i, err)
		}
	case service.ActionDeny:
		g.deferUpdate(i)
		if _, err := g.svc.DenyClose(ctx, arg, actor); err != nil {
			g.followupError(i, err)
			return
		}
		g.clearControls(i)
	default:
		g.onTicketControl(ctx, i, action, arg, actor)
	}
}

// onTicketControl handles the buttons of the ticket welcome message.
func (g *Gateway) onTicketControl(ctx context.Context, i *discordgo.InteractionCreate, action, arg string, actor domain.Actor) {
	ticket, ok := g.ticketHere(ctx, i)
	if !ok {
		return
	}
	switch action {
	case service.ActionClaim:
		if _, err := g.svc.Claim(ctx, ticket.GuildID, ticket.ID, actor); err != nil {
			g.replyError(i, err)
			return
		}
		g.reply(i, "You claimed this ticket.")
	case service.ActionPriority:
		priority := domain.TicketPriority(arg)
		if _, err := g.svc.SetPriority(ctx, ticket.GuildID, ticket.ID, actor, priority); err != nil {
			g.replyError(i, err)
			return
		}
		g.reply(i, fmt.Sprintf("Priority set to %s.", priority))
	case service.ActionClose:
		g.respondModal(i, closeReasonModal())
	case service.ActionTranscript:
		g.sendTranscript(ctx, i, ticket, actor)
	case service.ActionForceClose:
		g.forceClose(ctx, i, ticket, actor, "")
	}
}

func (g *Gateway) onModal(ctx context.Context, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()
	actor := actorFrom(i.Interaction)
	values := modalValues(data.Components)

	if name, ok := strings.CutPrefix(data.CustomID, customIntakePrefix); ok {
		category, found := domain.FindCategory(g.svc.Categories(), name)
		if !found {
			g.replyError(i, apperrors.NewValidationError("unknown ticket category", map[string]any{"category": name}))
			return
		}
		g.deferReply(i)
		g.openTicket(ctx, i, actor, category.Name, intakeAnswers(category, values))
		return
	}

	if data.CustomID == customCloseReason {
		ticket, ok := g.ticketHere(ctx, i)
		if !ok {
			return
		}
		if _, err := g.svc.RequestClose(ctx, ticket.GuildID, ticket.ID, actor, values[customReasonInput]); err != nil {
			g.replyError(i, err)
			return
		}
		g.reply(i, "Close request posted.")
	}
}

// chooseCategory shows the intake form, or opens the ticket right away for form-less categories.
func (g *Gateway) chooseCategory(ctx context.Context, i *discordgo.InteractionCreate, actor domain.Actor, name string) {
	category, found := domain.FindCategory(g.svc.Categories(), name)
	if !found {
		g.replyError(i, apperrors.NewValidationError("unknown ticket category", map[string]any{"category": name}))
		return
	}
	if modal := intakeModal(category); modal != nil {
		g.respondModal(i, modal)
		return
	}
	g.deferReply(i)
	g.openTicket(ctx, i, actor, category.Name, nil)
}

func (g *Gateway) openTicket(ctx context.Context, i *discordgo.InteractionCreate, actor domain.Actor, category string, answers []domain.FormAnswer) {
	ticket, err := g.svc.Open(ctx, service.OpenInput{
		GuildID:  i.GuildID,
		Actor:    actor,
		Category: category,
		Answers:  answers,
	})
	if err != nil {
		g.followupError(i, err)
		return
	}
	g.followup(i, fmt.Sprintf("Your ticket is ready: <#%s>", ticket.ChannelID))
}

func (g *Gateway) sendTranscript(ctx context.Context, i *discordgo.InteractionCreate, ticket *domain.Ticket, actor domain.Actor) {
	g.deferReply(i)
	t, result, err := g.svc.Transcript(ctx, ticket.GuildID, ticket.ID, actor)
	if err != nil {
		g.followupError(i, err)
		return
	}
	content := fmt.Sprintf("Transcript of %s (%d messages).", t.ID, result.MessageCount)
	if result.Truncated {
		content += " Older messages were left out."
	}
	_, err = g.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
		Files: []*discordgo.File{{
			Name:        transcript.FileName(*t),
			ContentType: "text/plain",
			Reader:      bytes.NewReader([]byte(result.Content)),
		}},
	})
	if err != nil {
		g.logger.Warn("transcript followup failed", append(observability.TicketFields(t.GuildID, t.ID, t.ChannelID), zap.Error(err))...)
	}
}

func (g *Gateway) forceClose(ctx context.Context, i *discordgo.InteractionCreate, ticket *domain.Ticket, actor domain.Actor, reason string) {
	g.deferReply(i)
	result, err := g.svc.ForceClose(ctx, ticket.GuildID, ticket.ID, actor, reason)
	if err != nil {
		g.followupError(i, err)
		return
	}
	if result.Orphaned {
		g.followup(i, "The ticket was closed but its channel could not be deleted.")
	}
}

// ticketHere resolves the ticket hosted in the interaction channel, replying when there is none.
func (g *Gateway) ticketHere(ctx context.Context, i *discordgo.InteractionCreate) (*domain.Ticket, bool) {
	ticket, err := g.svc.GetByChannel(ctx, i.ChannelID)
	if err == nil {
		return ticket, true
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		g.reply(i, "This only works inside an open ticket channel.")
	} else {
		g.replyError(i, err)
	}
	return nil, false
}

func (g *Gateway) respond(i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := g.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		g.logger.Warn("interaction response failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

func (g *Gateway) respondModal(i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := g.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: data,
	})
	if err != nil {
		g.logger.Warn("modal response failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

func (g *Gateway) reply(i *discordgo.InteractionCreate, content string) {
	g.respond(i, &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral})
}

func (g *Gateway) replyError(i *discordgo.InteractionCreate, err error) {
	g.logFailure(i, err)
	g.reply(i, userMessage(err))
}

// deferReply acknowledges an interaction whose work outlives the response window.
func (g *Gateway) deferReply(i *discordgo.InteractionCreate) {
	err := g.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		g.logger.Warn("deferred response failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

func (g *Gateway) deferUpdate(i *discordgo.InteractionCreate) {
	err := g.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		g.logger.Warn("deferred update failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

// followup sends an ephemeral follow-up. Failures are only logged since the channel may be gone.
func (g *Gateway) followup(i *discordgo.InteractionCreate, content string) {
	_, err := g.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		g.logger.Debug("followup failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

func (g *Gateway) followupError(i *discordgo.InteractionCreate, err error) {
	g.logFailure(i, err)
	g.followup(i, userMessage(err))
}

// clearControls removes the buttons of the message a component belongs to.
func (g *Gateway) clearControls(i *discordgo.InteractionCreate) {
	empty := []discordgo.MessageComponent{}
	if _, err := g.session.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Components: &empty}); err != nil {
		g.logger.Debug("clear controls failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

func (g *Gateway) logFailure(i *discordgo.InteractionCreate, err error) {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) && domainErr.Code != apperrors.CodePlatformUnavailable && domainErr.Code != apperrors.CodeInternal {
		return
	}
	g.logger.Error("interaction failed",
		zap.String("interaction_id", i.ID),
		zap.String("guild_id", i.GuildID),
		zap.String("channel_id", i.ChannelID),
		zap.Error(err),
	)
}
