package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/confirm"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/platform"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/transcript"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// Settings are the ticket engine knobs.
type Settings struct {
	AdminRoleIDs     []string
	AdminUserIDs     []string
	ParentCategoryID string
	StaffPing        string
	TranscriptLimit  int
	ActivityDebounce time.Duration
	DeleteDelay      time.Duration
	RetryDelay       time.Duration
}

// SettingsFromConfig maps the env configuration onto engine settings.
func SettingsFromConfig(cfg config.TicketsConfig) Settings {
	return Settings{
		AdminRoleIDs:     cfg.AdminRoleIDs,
		AdminUserIDs:     cfg.AdminUserIDs,
		ParentCategoryID: cfg.ParentCategoryID,
		StaffPing:        cfg.StaffPing,
		TranscriptLimit:  cfg.TranscriptMaxMessages,
		ActivityDebounce: cfg.ActivityDebounce(),
		DeleteDelay:      cfg.DeleteDelay(),
		RetryDelay:       500 * time.Millisecond,
	}
}

// TicketService coordinates ticket workflows.
type TicketService struct {
	store      repository.TicketStore
	platform   platform.Platform
	prompts    *confirm.Registry
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	settings   Settings
	categories []domain.Category
	now        func() time.Time

	deletions sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store         repository.TicketStore
	Platform      platform.Platform
	Confirmations *confirm.Registry
	Dispatcher    events.Dispatcher
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	Settings      Settings
	Categories    []domain.Category
	Clock         func() time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	s := &TicketService{
		store:      deps.Store,
		platform:   deps.Platform,
		prompts:    deps.Confirmations,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		settings:   deps.Settings,
		categories: deps.Categories,
		now:        deps.Clock,
		stop:       make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.prompts == nil {
		s.prompts = confirm.NewRegistry(time.Hour)
	}
	if s.settings.TranscriptLimit <= 0 {
		s.settings.TranscriptLimit = transcript.DefaultLimit
	}
	return s
}

// OpenInput describes a new ticket request.
type OpenInput struct {
	GuildID  string
	Actor    domain.Actor
	Category string
	Answers  []domain.FormAnswer
}

// Overview summarizes the open tickets of a guild.
type Overview struct {
	GuildID    string
	Open       int
	Claimed    int
	Unclaimed  int
	ByPriority map[domain.TicketPriority]int
	Tickets    []domain.Ticket
}

// IsStaff reports whether the actor holds a configured admin role or id.
// Admin API operators are staff.
func (s *TicketService) IsStaff(actor domain.Actor) bool {
	if actor.IsOperator() {
		return true
	}
	if actor.HasAnyRole(s.settings.AdminRoleIDs) {
		return true
	}
	for _, id := range s.settings.AdminUserIDs {
		if id == actor.ID {
			return true
		}
	}
	return false
}

// Categories returns the category picker entries.
func (s *TicketService) Categories() []domain.Category {
	return s.categories
}

// Prompts exposes the close-confirmation registry.
func (s *TicketService) Prompts() *confirm.Registry {
	return s.prompts
}

// Get returns a ticket by id.
func (s *TicketService) Get(ctx context.Context, guildID, ticketID string) (*domain.Ticket, error) {
	return s.store.Get(ctx, guildID, ticketID)
}

// GetByChannel returns the ticket hosted in a channel.
func (s *TicketService) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	return s.store.GetByChannel(ctx, channelID)
}

// ListOpen returns the open tickets of a guild, oldest first.
func (s *TicketService) ListOpen(ctx context.Context, guildID string) ([]domain.Ticket, error) {
	return s.store.ListOpen(ctx, guildID)
}

// PanelMessage is the entry point message members use to open tickets.
func (s *TicketService) PanelMessage() platform.OutgoingMessage {
	card := &domain.Card{
		Title:       "Support Tickets",
		Description: "Need help? Press the button below and pick a category to open a private ticket with the staff team.",
	}
	for _, c := range s.categories {
		card.Fields = append(card.Fields, domain.CardField{Name: strings.TrimSpace(c.Emoji + " " + c.Name), Value: c.Description})
	}
	return platform.OutgoingMessage{
		Card:     card,
		Controls: []platform.Control{{ID: ControlPanelOpen, Label: "Open a ticket", Style: platform.ControlPrimary}},
	}
}

// PostPanel sends the ticket panel to a channel.
func (s *TicketService) PostPanel(ctx context.Context, channelID string, actor domain.Actor) error {
	if err := s.authorize(TransitionPostPanel, actor, nil); err != nil {
		return s.fail(TransitionPostPanel, err)
	}
	_, err := s.platform.SendMessage(ctx, channelID, s.PanelMessage())
	return err
}

// Open creates a ticket channel for the actor.
func (s *TicketService) Open(ctx context.Context, input OpenInput) (*domain.Ticket, error) {
	if err := s.authorize(TransitionOpen, input.Actor, nil); err != nil {
		return nil, s.fail(TransitionOpen, err)
	}
	category := strings.TrimSpace(input.Category)
	if len(s.categories) > 0 {
		c, ok := domain.FindCategory(s.categories, category)
		if !ok {
			return nil, s.fail(TransitionOpen, apperrors.NewValidationError("unknown ticket category", map[string]any{"category": category}))
		}
		category = c.Name
	}
	if category == "" {
		return nil, s.fail(TransitionOpen, apperrors.NewValidationError("category is required", nil))
	}

	ticket, err := s.store.Create(ctx, repository.CreateParams{
		GuildID:     input.GuildID,
		RequesterID: input.Actor.ID,
		Category:    category,
		Priority:    domain.TicketPriorityNormal,
		ParentID:    s.settings.ParentCategoryID,
		Overwrites:  s.overwrites(input.GuildID, input.Actor.ID),
		ChannelName: func(id string) string { return ChannelName(input.Actor.Name(), category, id) },
	})
	if err != nil {
		return nil, s.fail(TransitionOpen, err)
	}

	if err := retryOnce(ctx, s.settings.RetryDelay, func() error {
		_, err := s.platform.SendMessage(ctx, ticket.ChannelID, s.welcomeMessage(ticket, input.Answers))
		return err
	}); err != nil {
		s.logger.Warn("welcome message failed", append(observability.TicketFields(ticket.GuildID, ticket.ID, ticket.ChannelID), zap.Error(err))...)
	}

	s.metrics.RecordTransition(string(TransitionOpen))
	s.publishEvent(ctx, ticket, input.Actor, events.EventTicketCreated, events.TicketCreatedPayload{
		RequesterID: ticket.RequesterID,
		Category:    ticket.Category,
		Priority:    ticket.Priority,
		Answers:     input.Answers,
	})
	return ticket, nil
}

func (s *TicketService) overwrites(guildID, requesterID string) []platform.PermissionOverwrite {
	// The @everyone role shares the guild id.
	out := []platform.PermissionOverwrite{
		{TargetID: guildID, Target: platform.OverwriteRole, Allow: false},
		{TargetID: requesterID, Target: platform.OverwriteMember, Allow: true},
		{TargetID: s.platform.SelfID(), Target: platform.OverwriteMember, Allow: true, Manage: true},
	}
	for _, role := range s.settings.AdminRoleIDs {
		out = append(out, platform.PermissionOverwrite{TargetID: role, Target: platform.OverwriteRole, Allow: true})
	}
	return out
}

func (s *TicketService) welcomeMessage(ticket *domain.Ticket, answers []domain.FormAnswer) platform.OutgoingMessage {
	content := fmt.Sprintf("Welcome %s! Staff will be with you shortly.", platform.MentionUser(ticket.RequesterID))
	if s.settings.StaffPing != "" {
		content += " " + platform.MentionRole(s.settings.StaffPing)
	}
	card := &domain.Card{
		Title:       fmt.Sprintf("Ticket %s - %s", ticket.ID, ticket.Category),
		Description: "Describe your issue in as much detail as possible. Use the buttons below to manage this ticket.",
	}
	for _, a := range answers {
		if strings.TrimSpace(a.Value) == "" {
			continue
		}
		card.Fields = append(card.Fields, domain.CardField{Name: a.Label, Value: a.Value})
	}
	controls := []platform.Control{
		{ID: ControlClaim, Label: "Claim", Style: platform.ControlSuccess},
		{ID: ControlClose, Label: "Close", Style: platform.ControlDanger},
		{ID: ControlTranscript, Label: "Transcript", Style: platform.ControlSecondary},
	}
	for _, p := range domain.Priorities {
		controls = append(controls, platform.Control{ID: PriorityControlID(p), Label: "Priority: " + titleCase(string(p)), Style: platform.ControlSecondary})
	}
	return platform.OutgoingMessage{Content: content, Card: card, Controls: controls}
}

// Claim assigns the ticket to the acting staff member. Claims are never cleared.
func (s *TicketService) Claim(ctx context.Context, guildID, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	if err := s.authorize(TransitionClaim, actor, nil); err != nil {
		return nil, s.fail(TransitionClaim, err)
	}
	ticket, err := s.store.CompareAndUpdate(ctx, guildID, ticketID,
		repository.ExpectAll(repository.ExpectOpen(), repository.ExpectUnclaimed()),
		func(t *domain.Ticket) error {
			claimedBy := actor.ID
			t.ClaimedBy = &claimedBy
			return nil
		})
	if err != nil {
		return nil, s.fail(TransitionClaim, err)
	}

	s.notify(ctx, ticket, fmt.Sprintf("Ticket claimed by %s.", platform.MentionUser(actor.ID)))
	s.metrics.RecordTransition(string(TransitionClaim))
	s.publishEvent(ctx, ticket, actor, events.EventTicketClaimed, events.TicketClaimedPayload{ClaimedBy: actor.ID})
	return ticket, nil
}

// SetPriority changes the priority of an open ticket.
func (s *TicketService) SetPriority(ctx context.Context, guildID, ticketID string, actor domain.Actor, priority domain.TicketPriority) (*domain.Ticket, error) {
	if err := s.authorize(TransitionSetPriority, actor, nil); err != nil {
		return nil, s.fail(TransitionSetPriority, err)
	}
	if !priority.Valid() {
		return nil, s.fail(TransitionSetPriority, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority}))
	}

	var old domain.TicketPriority
	ticket, err := s.store.CompareAndUpdate(ctx, guildID, ticketID, repository.ExpectOpen(), func(t *domain.Ticket) error {
		old = t.Priority
		t.Priority = priority
		return nil
	})
	if err != nil {
		return nil, s.fail(TransitionSetPriority, err)
	}

	s.notify(ctx, ticket, fmt.Sprintf("Priority changed from **%s** to **%s** by %s.", old, priority, platform.MentionUser(actor.ID)))
	s.metrics.RecordTransition(string(TransitionSetPriority))
	s.publishEvent(ctx, ticket, actor, events.EventTicketPriorityChanged, events.TicketPriorityChangedPayload{
		OldPriority: old,
		NewPriority: priority,
	})
	return ticket, nil
}

// Touch refreshes the activity timestamp of the ticket hosted in channelID.
// Writes closer together than the debounce window are skipped.
func (s *TicketService) Touch(ctx context.Context, channelID, authorID string) error {
	if authorID == s.platform.SelfID() {
		return nil
	}
	ticket, err := s.store.GetByChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if !ticket.IsOpen() {
		return nil
	}
	if s.now().Sub(ticket.LastActivityAt) < s.settings.ActivityDebounce {
		return nil
	}
	_, err = s.store.CompareAndUpdate(ctx, ticket.GuildID, ticket.ID, repository.ExpectOpen(), nil)
	if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// Transcript renders the current conversation of a ticket for the requester or staff.
func (s *TicketService) Transcript(ctx context.Context, guildID, ticketID string, actor domain.Actor) (*domain.Ticket, transcript.Result, error) {
	ticket, err := s.store.Get(ctx, guildID, ticketID)
	if err != nil {
		return nil, transcript.Result{}, s.fail(TransitionTranscript, err)
	}
	if err := s.authorize(TransitionTranscript, actor, ticket); err != nil {
		return nil, transcript.Result{}, s.fail(TransitionTranscript, err)
	}
	result := transcript.Render(*ticket, s.fetchHistory(ctx, ticket), s.settings.TranscriptLimit)
	s.metrics.RecordTransition(string(TransitionTranscript))
	return ticket, result, nil
}

// AddUser grants a member access to the ticket channel.
func (s *TicketService) AddUser(ctx context.Context, guildID, ticketID string, actor domain.Actor, userID string) (*domain.Ticket, error) {
	return s.setMember(ctx, TransitionAddUser, guildID, ticketID, actor, userID, true)
}

// RemoveUser revokes a member's access to the ticket channel. The requester cannot be removed.
func (s *TicketService) RemoveUser(ctx context.Context, guildID, ticketID string, actor domain.Actor, userID string) (*domain.Ticket, error) {
	return s.setMember(ctx, TransitionRemoveUser, guildID, ticketID, actor, userID, false)
}

func (s *TicketService) setMember(ctx context.Context, tr Transition, guildID, ticketID string, actor domain.Actor, userID string, allow bool) (*domain.Ticket, error) {
	if err := s.authorize(tr, actor, nil); err != nil {
		return nil, s.fail(tr, err)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, s.fail(tr, apperrors.NewValidationError("user is required", nil))
	}
	ticket, err := s.store.Get(ctx, guildID, ticketID)
	if err != nil {
		return nil, s.fail(tr, err)
	}
	if err := checkState(tr, ticket); err != nil {
		return nil, s.fail(tr, err)
	}
	if !allow && userID == ticket.RequesterID {
		return nil, s.fail(tr, apperrors.NewValidationError("the ticket owner cannot be removed", nil))
	}
	if err := s.platform.SetMemberAccess(ctx, ticket.ChannelID, userID, allow); err != nil {
		return nil, s.fail(tr, err)
	}

	verb := "added to"
	if !allow {
		verb = "removed from"
	}
	s.notify(ctx, ticket, fmt.Sprintf("%s was %s this ticket by %s.", platform.MentionUser(userID), verb, platform.MentionUser(actor.ID)))
	s.metrics.RecordTransition(string(tr))
	s.publishEvent(ctx, ticket, actor, events.EventTicketMemberChanged, events.TicketMemberChangedPayload{UserID: userID, Added: allow})
	return ticket, nil
}

// Rename changes the ticket channel name.
func (s *TicketService) Rename(ctx context.Context, guildID, ticketID string, actor domain.Actor, name string) (*domain.Ticket, error) {
	if err := s.authorize(TransitionRename, actor, nil); err != nil {
		return nil, s.fail(TransitionRename, err)
	}
	clean := SanitizeChannelName(name)
	if clean == "" {
		return nil, s.fail(TransitionRename, apperrors.NewValidationError("channel name is empty after sanitizing", map[string]any{"name": name}))
	}
	ticket, err := s.store.Get(ctx, guildID, ticketID)
	if err != nil {
		return nil, s.fail(TransitionRename, err)
	}
	if err := checkState(TransitionRename, ticket); err != nil {
		return nil, s.fail(TransitionRename, err)
	}
	var oldName string
	if ch, err := s.platform.Channel(ctx, ticket.ChannelID); err == nil {
		oldName = ch.Name
	}
	if err := s.platform.RenameChannel(ctx, ticket.ChannelID, clean); err != nil {
		return nil, s.fail(TransitionRename, err)
	}

	s.metrics.RecordTransition(string(TransitionRename))
	s.publishEvent(ctx, ticket, actor, events.EventTicketRenamed, events.TicketRenamedPayload{OldName: oldName, NewName: clean})
	return ticket, nil
}

// Overview counts the open tickets of a guild for staff.
func (s *TicketService) Overview(ctx context.Context, guildID string, actor domain.Actor) (*Overview, error) {
	if err := s.authorize(TransitionAdminOverview, actor, nil); err != nil {
		return nil, s.fail(TransitionAdminOverview, err)
	}

	tickets, err := s.store.ListOpen(ctx, guildID)
	if err != nil {
		return nil, err
	}
	o := &Overview{GuildID: guildID, ByPriority: make(map[domain.TicketPriority]int), Tickets: tickets}
	for _, t := range tickets {
		o.Open++
		if t.IsClaimed() {
			o.Claimed++
		} else {
			o.Unclaimed++
		}
		o.ByPriority[t.Priority]++
	}
	return o, nil
}

// notify posts an informational message into the ticket channel, retried once.
func (s *TicketService) notify(ctx context.Context, ticket *domain.Ticket, content string) {
	err := retryOnce(ctx, s.settings.RetryDelay, func() error {
		_, err := s.platform.SendMessage(ctx, ticket.ChannelID, platform.OutgoingMessage{Content: content})
		return err
	})
	if err != nil {
		s.logger.Warn("ticket notice failed", append(observability.TicketFields(ticket.GuildID, ticket.ID, ticket.ChannelID), zap.Error(err))...)
	}
}

// fail records a rejected operation and hands the error back.
func (s *TicketService) fail(tr Transition, err error) error {
	code := apperrors.CodeInternal
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		code = domainErr.Code
	}
	s.metrics.RecordFailure(string(tr), code)
	if code == apperrors.CodeForbidden {
		s.logger.Debug("ticket operation forbidden", zap.String("transition", string(tr)), zap.Error(err))
	}
	return err
}

func (s *TicketService) publishEvent(ctx context.Context, ticket *domain.Ticket, actor domain.Actor, eventType events.EventType, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		GuildID:   ticket.GuildID,
		TicketID:  ticket.ID,
		ChannelID: ticket.ChannelID,
		Actor:     events.ActorFrom(actor),
		Timestamp: s.now().UTC(),
		Payload:   payload,
	})
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
