package service

import (
	"regexp"
	"strings"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// Control identifiers carried by interactive buttons.
const (
	ControlPanelOpen  = "ticket:panel"
	ControlClaim      = "ticket:claim"
	ControlClose      = "ticket:close"
	ControlTranscript = "ticket:transcript"
	ControlForceClose = "ticket:forceclose"

	controlPriorityPrefix = "ticket:priority:"
	controlConfirmPrefix  = "ticket:confirm:"
	controlDenyPrefix     = "ticket:deny:"
)

// Control actions returned by ParseControlID.
const (
	ActionPanel      = "panel"
	ActionClaim      = "claim"
	ActionClose      = "close"
	ActionTranscript = "transcript"
	ActionForceClose = "forceclose"
	ActionPriority   = "priority"
	ActionConfirm    = "confirm"
	ActionDeny       = "deny"
)

// PriorityControlID encodes a priority button.
func PriorityControlID(p domain.TicketPriority) string {
	return controlPriorityPrefix + string(p)
}

// ConfirmControlID encodes the confirm button of a close prompt.
func ConfirmControlID(promptID string) string {
	return controlConfirmPrefix + promptID
}

// DenyControlID encodes the deny button of a close prompt.
func DenyControlID(promptID string) string {
	return controlDenyPrefix + promptID
}

// ParseControlID splits a control id into its action and argument.
// ok is false for ids this bot did not issue.
func ParseControlID(id string) (action, arg string, ok bool) {
	switch id {
	case ControlPanelOpen:
		return ActionPanel, "", true
	case ControlClaim:
		return ActionClaim, "", true
	case ControlClose:
		return ActionClose, "", true
	case ControlTranscript:
		return ActionTranscript, "", true
	case ControlForceClose:
		return ActionForceClose, "", true
	}
	for prefix, action := range map[string]string{
		controlPriorityPrefix: ActionPriority,
		controlConfirmPrefix:  ActionConfirm,
		controlDenyPrefix:     ActionDeny,
	} {
		if rest, found := strings.CutPrefix(id, prefix); found && rest != "" {
			return action, rest, true
		}
	}
	return "", "", false
}

var channelNameInvalid = regexp.MustCompile(`[^a-z0-9-]+`)
var channelNameDashes = regexp.MustCompile(`-{2,}`)

// SanitizeChannelName lowercases and strips a name to the characters text channels accept.
func SanitizeChannelName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = channelNameInvalid.ReplaceAllString(name, "-")
	name = channelNameDashes.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if len(name) > 100 {
		name = strings.TrimRight(name[:100], "-")
	}
	return name
}

// ChannelName builds the "<user>-<category>-<id>" channel name of a ticket.
func ChannelName(userName, category, ticketID string) string {
	name := SanitizeChannelName(userName + "-" + category + "-" + ticketID)
	if name == "" {
		return strings.ToLower(ticketID)
	}
	return name
}
