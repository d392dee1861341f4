// Package platform defines the boundary between the ticket engine and the chat platform.
package platform

import (
	"context"
	"io"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// OverwriteTarget tells whether a permission overwrite applies to a role or a member.
type OverwriteTarget int

const (
	OverwriteRole OverwriteTarget = iota
	OverwriteMember
)

// PermissionOverwrite grants or hides channel access for a role or member.
type PermissionOverwrite struct {
	TargetID string
	Target   OverwriteTarget
	Allow    bool
	Manage   bool
}

// ChannelSpec describes a conversation channel to create.
type ChannelSpec struct {
	Name       string
	ParentID   string
	Topic      string
	Overwrites []PermissionOverwrite
}

// Channel is a conversation channel handle.
type Channel struct {
	ID       string
	GuildID  string
	ParentID string
	Name     string
	Topic    string
}

// ControlStyle selects how an interactive control is rendered.
type ControlStyle int

const (
	ControlPrimary ControlStyle = iota
	ControlSecondary
	ControlDanger
	ControlSuccess
)

// Control is an interactive button attached to a message.
type Control struct {
	ID    string
	Label string
	Style ControlStyle
}

// File is an attachment sent with a message.
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// OutgoingMessage is a message the engine asks the platform to deliver.
type OutgoingMessage struct {
	Content  string
	Card     *domain.Card
	Files    []File
	Controls []Control
}

// Platform is the set of outbound calls the engine makes against the chat platform.
// Implementations map transport failures to PLATFORM_UNAVAILABLE and missing
// resources to NOT_FOUND.
type Platform interface {
	SelfID() string
	Guilds(ctx context.Context) ([]string, error)
	CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (*Channel, error)
	Channel(ctx context.Context, channelID string) (*Channel, error)
	GuildChannels(ctx context.Context, guildID string) ([]Channel, error)
	EditChannelTopic(ctx context.Context, channelID, topic string) error
	RenameChannel(ctx context.Context, channelID, name string) error
	SetMemberAccess(ctx context.Context, channelID, userID string, allow bool) error
	SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (string, error)
	SendDirectMessage(ctx context.Context, userID string, msg OutgoingMessage) error
	DeleteChannel(ctx context.Context, channelID, reason string) error
	// ChannelHistory returns up to limit of the most recent messages, oldest first.
	ChannelHistory(ctx context.Context, channelID string, limit int) ([]domain.Message, error)
}

// ChannelCache is implemented by platforms that keep a local, event-fed view of channels.
// The view may lag behind writes and is only used to skip reads of channels that can never
// become tickets.
type ChannelCache interface {
	CachedChannel(channelID string) (*Channel, bool)
}

// MentionUser formats a member mention.
func MentionUser(userID string) string {
	return "<@" + userID + ">"
}

// MentionRole formats a role mention.
func MentionRole(roleID string) string {
	return "<@&" + roleID + ">"
}
