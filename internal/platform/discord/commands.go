package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// Slash command names.
const (
	cmdPanel      = "ticketpanel"
	cmdClose      = "close"
	cmdClaim      = "claim"
	cmdPriority   = "priority"
	cmdTranscript = "transcript"
	cmdForceClose = "forceclose"
	cmdTickets    = "tickets"
	cmdCloseAll   = "closealltickets"
	cmdAddUser    = "adduser"
	cmdRemoveUser = "removeuser"
	cmdRename     = "rename"
)

var staffOnly int64 = discordgo.PermissionManageChannels

func reasonOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: "Why the ticket is being closed",
		Required:    required,
		MaxLength:   500,
	}
}

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: description,
		Required:    true,
	}
}

func priorityChoices() []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(domain.Priorities))
	for _, p := range domain.Priorities {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: string(p), Value: string(p)})
	}
	return out
}

// commandDefinitions lists every slash command the bot registers.
func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: cmdPanel, Description: "Post the ticket panel in this channel", DefaultMemberPermissions: &staffOnly},
		{Name: cmdClose, Description: "Ask to close this ticket", Options: []*discordgo.ApplicationCommandOption{reasonOption(false)}},
		{Name: cmdClaim, Description: "Claim this ticket"},
		{
			Name:        cmdPriority,
			Description: "Change the priority of this ticket",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "level",
				Description: "New priority",
				Required:    true,
				Choices:     priorityChoices(),
			}},
		},
		{Name: cmdTranscript, Description: "Get the transcript of this ticket"},
		{Name: cmdForceClose, Description: "Close this ticket immediately", Options: []*discordgo.ApplicationCommandOption{reasonOption(false)}},
		{Name: cmdTickets, Description: "Show open tickets of this server", DefaultMemberPermissions: &staffOnly},
		{Name: cmdCloseAll, Description: "Close every open ticket of this server", DefaultMemberPermissions: &staffOnly,
			Options: []*discordgo.ApplicationCommandOption{reasonOption(false)}},
		{Name: cmdAddUser, Description: "Add a member to this ticket", Options: []*discordgo.ApplicationCommandOption{userOption("Member to add")}},
		{Name: cmdRemoveUser, Description: "Remove a member from this ticket", Options: []*discordgo.ApplicationCommandOption{userOption("Member to remove")}},
		{
			Name:        cmdRename,
			Description: "Rename this ticket channel",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "name",
				Description: "New channel name",
				Required:    true,
				MaxLength:   100,
			}},
		},
	}
}

// commandOptions indexes the options of a slash command invocation by name.
func commandOptions(data discordgo.ApplicationCommandInteractionData) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))
	for _, opt := range data.Options {
		out[opt.Name] = opt
	}
	return out
}

func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok {
		return opt.StringValue()
	}
	return ""
}

// userOptionID reads a user option without resolving it through the session.
func userOptionID(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok {
		if id, ok := opt.Value.(string); ok {
			return id
		}
	}
	return ""
}
