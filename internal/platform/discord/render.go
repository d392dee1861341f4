package discord

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

const (
	buttonsPerRow = 5
	embedColor    = 0x5865F2
	// Discord caps select labels and modal titles well below message sizes.
	maxLabelLength = 45
)

func toOverwrites(in []platform.PermissionOverwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(in))
	for _, ow := range in {
		o := &discordgo.PermissionOverwrite{ID: ow.TargetID, Type: discordgo.PermissionOverwriteTypeRole}
		if ow.Target == platform.OverwriteMember {
			o.Type = discordgo.PermissionOverwriteTypeMember
		}
		switch {
		case ow.Allow && ow.Manage:
			o.Allow = managerPerms
		case ow.Allow:
			o.Allow = participantPerms
		default:
			o.Deny = discordgo.PermissionViewChannel
		}
		out = append(out, o)
	}
	return out
}

func fromChannel(ch *discordgo.Channel) *platform.Channel {
	return &platform.Channel{
		ID:       ch.ID,
		GuildID:  ch.GuildID,
		ParentID: ch.ParentID,
		Name:     ch.Name,
		Topic:    ch.Topic,
	}
}

func fromMessage(m *discordgo.Message) domain.Message {
	out := domain.Message{ID: m.ID, Content: m.Content, CreatedAt: m.Timestamp.UTC()}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorName = displayName(m.Author, m.Member)
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, domain.Attachment{FileName: a.Filename, SizeBytes: int64(a.Size)})
	}
	for _, e := range m.Embeds {
		card := domain.Card{Title: e.Title, Description: e.Description}
		for _, f := range e.Fields {
			card.Fields = append(card.Fields, domain.CardField{Name: f.Name, Value: f.Value})
		}
		out.Cards = append(out.Cards, card)
	}
	return out
}

func toEmbed(card *domain.Card) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Title: card.Title, Description: card.Description, Color: embedColor}
	for _, f := range card.Fields {
		value := f.Value
		if strings.TrimSpace(value) == "" {
			value = "-"
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: value})
	}
	return e
}

func buttonStyle(s platform.ControlStyle) discordgo.ButtonStyle {
	switch s {
	case platform.ControlPrimary:
		return discordgo.PrimaryButton
	case platform.ControlDanger:
		return discordgo.DangerButton
	case platform.ControlSuccess:
		return discordgo.SuccessButton
	default:
		return discordgo.SecondaryButton
	}
}

// toComponents lays controls out in rows of five buttons.
func toComponents(controls []platform.Control) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(controls); start += buttonsPerRow {
		end := min(start+buttonsPerRow, len(controls))
		row := discordgo.ActionsRow{}
		for _, c := range controls[start:end] {
			row.Components = append(row.Components, discordgo.Button{
				Label:    c.Label,
				Style:    buttonStyle(c.Style),
				CustomID: c.ID,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

func toFiles(files []platform.File) []*discordgo.File {
	out := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		out = append(out, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: f.Reader})
	}
	return out
}

func toMessageSend(msg platform.OutgoingMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:    msg.Content,
		Components: toComponents(msg.Controls),
		Files:      toFiles(msg.Files),
	}
	if msg.Card != nil {
		send.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Card)}
	}
	return send
}

func displayName(u *discordgo.User, m *discordgo.Member) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// actorFrom builds the acting member of an interaction.
func actorFrom(i *discordgo.Interaction) domain.Actor {
	if i.Member != nil && i.Member.User != nil {
		return domain.Actor{
			ID:          i.Member.User.ID,
			DisplayName: displayName(i.Member.User, i.Member),
			RoleIDs:     i.Member.Roles,
			Kind:        domain.ActorKindMember,
		}
	}
	if i.User != nil {
		return domain.Actor{ID: i.User.ID, DisplayName: displayName(i.User, nil), Kind: domain.ActorKindMember}
	}
	return domain.Actor{}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// userMessage turns an engine error into the text shown to the member.
func userMessage(err error) string {
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		return "Something went wrong. Please try again later."
	}
	switch domainErr.Code {
	case apperrors.CodeForbidden:
		return "You don't have permission to do that."
	case apperrors.CodeNotFound:
		return "This ticket no longer exists."
	case apperrors.CodeDuplicateOpenTicket:
		if ch, ok := domainErr.Details["channel_id"].(string); ok && ch != "" {
			return fmt.Sprintf("You already have an open ticket: <#%s>", ch)
		}
		return "You already have an open ticket."
	case apperrors.CodeConflict:
		return "This action is no longer possible: " + domainErr.Message + "."
	case apperrors.CodeValidation:
		return "Invalid input: " + domainErr.Message + "."
	case apperrors.CodePlatformUnavailable:
		return "Discord did not respond in time. Please try again."
	case apperrors.CodeCorruptMetadata:
		return "This ticket's data is damaged. Please contact an administrator."
	default:
		return "Something went wrong. Please try again later."
	}
}
