package service

import (
	"github.com/spec-kit/ticketbot/internal/domain"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// Transition names a ticket state change or ticket-scoped action.
type Transition string

const (
	TransitionOpen          Transition = "open"
	TransitionClaim         Transition = "claim"
	TransitionSetPriority   Transition = "set-priority"
	TransitionRequestClose  Transition = "request-close"
	TransitionConfirmClose  Transition = "confirm-close"
	TransitionDenyClose     Transition = "deny-close"
	TransitionForceClose    Transition = "force-close"
	TransitionAutoClose     Transition = "auto-close"
	TransitionMassClose     Transition = "mass-close"
	TransitionTouch         Transition = "touch"
	TransitionTranscript    Transition = "transcript"
	TransitionAddUser       Transition = "add-user"
	TransitionRemoveUser    Transition = "remove-user"
	TransitionRename        Transition = "rename"
	TransitionPostPanel     Transition = "post-panel"
	TransitionAdminOverview Transition = "overview"
)

// gate describes who may run a transition and in which state.
type gate struct {
	staff     bool
	requester bool
	anyone    bool
	system    bool
	open      bool
}

var transitionGates = map[Transition]gate{
	TransitionOpen:          {anyone: true},
	TransitionClaim:         {staff: true, open: true},
	TransitionSetPriority:   {staff: true, open: true},
	TransitionRequestClose:  {staff: true, requester: true, open: true},
	TransitionConfirmClose:  {staff: true, requester: true, open: true},
	TransitionDenyClose:     {staff: true, requester: true},
	TransitionForceClose:    {staff: true, open: true},
	TransitionAutoClose:     {system: true, open: true},
	TransitionMassClose:     {staff: true},
	TransitionTouch:         {anyone: true, open: true},
	TransitionTranscript:    {staff: true, requester: true},
	TransitionAddUser:       {staff: true, open: true},
	TransitionRemoveUser:    {staff: true, open: true},
	TransitionRename:        {staff: true, open: true},
	TransitionPostPanel:     {staff: true},
	TransitionAdminOverview: {staff: true},
}

var closeTypes = map[Transition]domain.CloseType{
	TransitionConfirmClose: domain.CloseTypeConfirmed,
	TransitionForceClose:   domain.CloseTypeForceClosed,
	TransitionAutoClose:    domain.CloseTypeAutoClosed,
	TransitionMassClose:    domain.CloseTypeMassClosed,
}

// authorize checks the actor half of a gate. Ticket may be nil for guild-wide transitions.
func (s *TicketService) authorize(tr Transition, actor domain.Actor, ticket *domain.Ticket) error {
	g, ok := transitionGates[tr]
	if !ok {
		return apperrors.NewInternalError(nil)
	}
	switch {
	case g.anyone:
		return nil
	case g.system && actor.IsSystem():
		return nil
	case g.staff && s.IsStaff(actor):
		return nil
	case g.requester && ticket != nil && ticket.RequesterID == actor.ID:
		return nil
	}
	return apperrors.NewForbidden("you are not allowed to " + string(tr) + " this ticket")
}

// checkState checks the state half of a gate.
func checkState(tr Transition, ticket *domain.Ticket) error {
	if transitionGates[tr].open && !ticket.IsOpen() {
		return apperrors.NewConflict("ticket is no longer active", map[string]any{"ticket_id": ticket.ID})
	}
	return nil
}
