// Package discord binds the ticket engine to Discord through discordgo.
package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// historyPageSize is the largest page the message history endpoint serves.
const historyPageSize = 100

// Member-level permissions granted inside a ticket channel.
const (
	participantPerms = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionReadMessageHistory |
		discordgo.PermissionAttachFiles |
		discordgo.PermissionEmbedLinks
	managerPerms = participantPerms | discordgo.PermissionManageChannels | discordgo.PermissionManageMessages
)

// Platform implements platform.Platform on a discordgo session.
type Platform struct {
	session *discordgo.Session
}

// NewPlatform wraps an open or soon-to-be-opened session.
func NewPlatform(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

func (p *Platform) SelfID() string {
	if p.session.State == nil || p.session.State.User == nil {
		return ""
	}
	return p.session.State.User.ID
}

func (p *Platform) Guilds(ctx context.Context) ([]string, error) {
	state := p.session.State
	if state == nil {
		return nil, apperrors.NewPlatformUnavailable("list guilds", errors.New("session state not ready"))
	}
	state.RLock()
	defer state.RUnlock()
	out := make([]string, 0, len(state.Guilds))
	// Guilds still marked unavailable right after READY are listed too; their
	// channel reads fail on their own.
	for _, g := range state.Guilds {
		out = append(out, g.ID)
	}
	return out, nil
}

func (p *Platform) CreateChannel(ctx context.Context, guildID string, spec platform.ChannelSpec) (*platform.Channel, error) {
	ch, err := p.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             spec.ParentID,
		PermissionOverwrites: toOverwrites(spec.Overwrites),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("create channel", err)
	}
	return fromChannel(ch), nil
}

func (p *Platform) Channel(ctx context.Context, channelID string) (*platform.Channel, error) {
	ch, err := p.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("get channel", err)
	}
	return fromChannel(ch), nil
}

// CachedChannel reads the gateway state. The state follows CHANNEL_CREATE and
// CHANNEL_UPDATE events and can lag behind REST.
func (p *Platform) CachedChannel(channelID string) (*platform.Channel, bool) {
	if p.session.State == nil {
		return nil, false
	}
	ch, err := p.session.State.Channel(channelID)
	if err != nil {
		return nil, false
	}
	return fromChannel(ch), true
}

func (p *Platform) GuildChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	chans, err := p.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("list channels", err)
	}
	out := make([]platform.Channel, 0, len(chans))
	for _, ch := range chans {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, *fromChannel(ch))
	}
	return out, nil
}

func (p *Platform) EditChannelTopic(ctx context.Context, channelID, topic string) error {
	_, err := p.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Topic: topic}, discordgo.WithContext(ctx))
	return mapError("edit topic", err)
}

func (p *Platform) RenameChannel(ctx context.Context, channelID, name string) error {
	_, err := p.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx))
	return mapError("rename channel", err)
}

func (p *Platform) SetMemberAccess(ctx context.Context, channelID, userID string, allow bool) error {
	var allowBits, denyBits int64 = participantPerms, 0
	if !allow {
		allowBits, denyBits = 0, discordgo.PermissionViewChannel
	}
	err := p.session.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, allowBits, denyBits, discordgo.WithContext(ctx))
	return mapError("set member access", err)
}

func (p *Platform) SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) (string, error) {
	sent, err := p.session.ChannelMessageSendComplex(channelID, toMessageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError("send message", err)
	}
	return sent.ID, nil
}

func (p *Platform) SendDirectMessage(ctx context.Context, userID string, msg platform.OutgoingMessage) error {
	dm, err := p.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError("open direct channel", err)
	}
	_, err = p.session.ChannelMessageSendComplex(dm.ID, toMessageSend(msg), discordgo.WithContext(ctx))
	return mapError("send direct message", err)
}

func (p *Platform) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := p.session.ChannelDelete(channelID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return mapError("delete channel", err)
}

func (p *Platform) ChannelHistory(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	var (
		collected []*discordgo.Message
		before    string
	)
	for limit <= 0 || len(collected) < limit {
		page := historyPageSize
		if limit > 0 && limit-len(collected) < page {
			page = limit - len(collected)
		}
		msgs, err := p.session.ChannelMessages(channelID, page, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError("read history", err)
		}
		collected = append(collected, msgs...)
		if len(msgs) < page {
			break
		}
		before = msgs[len(msgs)-1].ID
	}

	// Pages arrive newest first.
	out := make([]domain.Message, 0, len(collected))
	for i := len(collected) - 1; i >= 0; i-- {
		out = append(out, fromMessage(collected[i]))
	}
	return out, nil
}

// mapError translates REST failures: a 404 is NOT_FOUND, everything else PLATFORM_UNAVAILABLE.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return apperrors.NewNotFound("discord resource", map[string]any{"operation": op})
	}
	return apperrors.NewPlatformUnavailable(op, err)
}

var (
	_ platform.Platform     = (*Platform)(nil)
	_ platform.ChannelCache = (*Platform)(nil)
)
