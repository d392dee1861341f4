package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/service"
)

// Custom ids of the components that live only inside this adapter.
const (
	customCategorySelect = "ticket:category"
	customIntakePrefix   = "ticket:intake:"
	customCloseReason    = "ticket:closereason"
	customReasonInput    = "reason"
	customFieldPrefix    = "field:"
)

// categorySelect is the ephemeral picker shown after the panel button.
func categorySelect(categories []domain.Category) []discordgo.MessageComponent {
	options := make([]discordgo.SelectMenuOption, 0, len(categories))
	for _, c := range categories {
		options = append(options, discordgo.SelectMenuOption{
			Label:       truncate(strings.TrimSpace(c.Emoji+" "+c.Name), maxLabelLength),
			Value:       c.Name,
			Description: truncate(c.Description, 100),
		})
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    customCategorySelect,
				Placeholder: "Choose a category",
				Options:     options,
			},
		}},
	}
}

// intakeModal builds the form of a category. It returns nil when the category asks nothing.
func intakeModal(c domain.Category) *discordgo.InteractionResponseData {
	if len(c.Fields) == 0 {
		return nil
	}
	rows := make([]discordgo.MessageComponent, 0, len(c.Fields))
	for idx, f := range c.Fields {
		style := discordgo.TextInputShort
		if f.Paragraph {
			style = discordgo.TextInputParagraph
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID:    fmt.Sprintf("%s%d", customFieldPrefix, idx),
				Label:       truncate(f.Label, maxLabelLength),
				Style:       style,
				Placeholder: truncate(f.Placeholder, 100),
				Required:    f.Required,
				MaxLength:   f.MaxLength,
			},
		}})
	}
	return &discordgo.InteractionResponseData{
		CustomID:   customIntakePrefix + c.Name,
		Title:      truncate(c.Name+" ticket", maxLabelLength),
		Components: rows,
	}
}

// closeReasonModal asks for the optional reason of a close request.
func closeReasonModal() *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: customCloseReason,
		Title:    "Close ticket",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    customReasonInput,
					Label:       "Reason",
					Style:       discordgo.TextInputParagraph,
					Placeholder: "Why should this ticket be closed?",
					MaxLength:   500,
				},
			}},
		},
	}
}

// modalValues collects text input values by custom id.
func modalValues(components []discordgo.MessageComponent) map[string]string {
	out := make(map[string]string)
	for _, comp := range components {
		row, ok := comp.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				out[input.CustomID] = strings.TrimSpace(input.Value)
			}
		}
	}
	return out
}

// intakeAnswers pairs submitted values with the questions of the category, in form order.
func intakeAnswers(c domain.Category, values map[string]string) []domain.FormAnswer {
	answers := make([]domain.FormAnswer, 0, len(c.Fields))
	for idx, f := range c.Fields {
		answers = append(answers, domain.FormAnswer{
			Label: f.Label,
			Value: values[fmt.Sprintf("%s%d", customFieldPrefix, idx)],
		})
	}
	return answers
}

// overviewEmbed renders the staff summary of open tickets.
func overviewEmbed(o *service.Overview) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       "Open tickets",
		Description: fmt.Sprintf("%d open, %d claimed, %d unclaimed", o.Open, o.Claimed, o.Unclaimed),
		Color:       embedColor,
	}
	var counts []string
	for _, p := range domain.Priorities {
		if n := o.ByPriority[p]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s: %d", p, n))
		}
	}
	if len(counts) > 0 {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "By priority", Value: strings.Join(counts, "\n")})
	}
	// Embeds hold at most 25 fields.
	for _, t := range o.Tickets[:min(len(o.Tickets), 20)] {
		claimed := "unclaimed"
		if t.IsClaimed() {
			claimed = "claimed by <@" + *t.ClaimedBy + ">"
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s · %s", t.ID, t.Category),
			Value: fmt.Sprintf("<#%s> · %s · %s · active %s", t.ChannelID, t.Priority, claimed, humanize.Time(t.LastActivityAt)),
		})
	}
	return e
}
