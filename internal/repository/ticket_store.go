package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/codec"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/persistence"
	"github.com/spec-kit/ticketbot/internal/platform"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// maxExtraIDDraws bounds redraws beyond the number of existing tickets.
const maxExtraIDDraws = 8

// CreateParams describes a ticket to open.
type CreateParams struct {
	GuildID     string
	RequesterID string
	Category    string
	Priority    domain.TicketPriority
	ParentID    string
	Overwrites  []platform.PermissionOverwrite
	// ChannelName derives the channel name from the allocated ticket id.
	ChannelName func(ticketID string) string
}

// Precondition inspects the current ticket before a mutation and returns CONFLICT when it does not hold.
type Precondition func(t *domain.Ticket) error

// Mutator edits a private copy of the ticket.
type Mutator func(t *domain.Ticket) error

// TicketStore is the persistence boundary for ticket metadata.
type TicketStore interface {
	Create(ctx context.Context, params CreateParams) (*domain.Ticket, error)
	Get(ctx context.Context, guildID, ticketID string) (*domain.Ticket, error)
	GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error)
	CompareAndUpdate(ctx context.Context, guildID, ticketID string, expect Precondition, mutate Mutator) (*domain.Ticket, error)
	Delete(ctx context.Context, guildID, ticketID string) error
	ListOpen(ctx context.Context, guildID string) ([]domain.Ticket, error)
}

// ExpectOpen requires the ticket to still be open.
func ExpectOpen() Precondition {
	return func(t *domain.Ticket) error {
		if !t.IsOpen() {
			return apperrors.NewConflict("ticket is no longer active", map[string]any{"ticket_id": t.ID})
		}
		return nil
	}
}

// ExpectUnclaimed requires that nobody has claimed the ticket.
func ExpectUnclaimed() Precondition {
	return func(t *domain.Ticket) error {
		if t.IsClaimed() {
			return apperrors.NewConflict("ticket already claimed", map[string]any{
				"ticket_id":  t.ID,
				"claimed_by": *t.ClaimedBy,
			})
		}
		return nil
	}
}

// ExpectVersion requires the ticket to be at the given version.
func ExpectVersion(version uint64) Precondition {
	return func(t *domain.Ticket) error {
		if t.Version != version {
			return apperrors.NewConflict("ticket changed concurrently", map[string]any{
				"ticket_id": t.ID,
				"expected":  version,
				"actual":    t.Version,
			})
		}
		return nil
	}
}

// ExpectAll combines preconditions; the first failure wins.
func ExpectAll(preconditions ...Precondition) Precondition {
	return func(t *domain.Ticket) error {
		for _, p := range preconditions {
			if p == nil {
				continue
			}
			if err := p(t); err != nil {
				return err
			}
		}
		return nil
	}
}

type channelTicketStore struct {
	platform  platform.Platform
	locker    persistence.Locker
	sequencer persistence.Sequencer
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[string]string
}

// StoreOption customizes the channel store.
type StoreOption func(*channelTicketStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *channelTicketStore) { s.now = now }
}

// NewChannelTicketStore keeps ticket metadata in the topic of each ticket channel.
func NewChannelTicketStore(p platform.Platform, locker persistence.Locker, sequencer persistence.Sequencer, logger *zap.Logger, opts ...StoreOption) TicketStore {
	s := &channelTicketStore{
		platform:  p,
		locker:    locker,
		sequencer: sequencer,
		logger:    logger,
		now:       time.Now,
		cache:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(guildID, ticketID string) string {
	return guildID + "/" + ticketID
}

func (s *channelTicketStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *channelTicketStore) Create(ctx context.Context, params CreateParams) (*domain.Ticket, error) {
	if params.GuildID == "" || params.RequesterID == "" {
		return nil, apperrors.NewValidationError("guild and requester are required", nil)
	}
	if params.Category == "" {
		return nil, apperrors.NewValidationError("category is required", nil)
	}
	priority := params.Priority
	if priority == "" {
		priority = domain.TicketPriorityNormal
	}

	unlock, err := s.locker.Lock(ctx, "create:"+params.GuildID+":"+params.RequesterID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tickets, err := s.scan(ctx, params.GuildID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(tickets))
	for _, existing := range tickets {
		if existing.IsOpen() && existing.RequesterID == params.RequesterID {
			return nil, apperrors.NewDuplicateOpenTicket(map[string]any{
				"ticket_id":  existing.ID,
				"channel_id": existing.ChannelID,
			})
		}
		taken[existing.ID] = struct{}{}
	}

	id, err := s.nextFreeID(ctx, params.GuildID, taken)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	ticket := &domain.Ticket{
		ID:             id,
		GuildID:        params.GuildID,
		RequesterID:    params.RequesterID,
		Category:       params.Category,
		Status:         domain.TicketStatusOpen,
		Priority:       priority,
		CreatedAt:      now,
		LastActivityAt: now,
		Version:        1,
	}
	topic, err := codec.EncodeMetadata(ticket)
	if err != nil {
		return nil, err
	}

	name := id
	if params.ChannelName != nil {
		name = params.ChannelName(id)
	}
	channel, err := s.platform.CreateChannel(ctx, params.GuildID, platform.ChannelSpec{
		Name:       name,
		ParentID:   params.ParentID,
		Topic:      topic,
		Overwrites: params.Overwrites,
	})
	if err != nil {
		return nil, err
	}
	ticket.ChannelID = channel.ID
	s.remember(ticket)

	s.logger.Info("ticket created",
		zap.String("guild_id", ticket.GuildID),
		zap.String("ticket_id", ticket.ID),
		zap.String("channel_id", ticket.ChannelID),
		zap.String("requester_id", ticket.RequesterID))
	return ticket, nil
}

// nextFreeID draws ids until one is not held by a ticket channel of the guild.
// A counter that lost its state hands out used ids again; drawing past them skips ahead.
func (s *channelTicketStore) nextFreeID(ctx context.Context, guildID string, taken map[string]struct{}) (string, error) {
	for draws := 0; draws <= len(taken)+maxExtraIDDraws; draws++ {
		id, err := s.sequencer.Next(ctx, guildID)
		if err != nil {
			return "", apperrors.NewInternalError(err)
		}
		if _, used := taken[id]; !used {
			if draws > 0 {
				s.logger.Warn("ticket id sequence behind existing tickets; skipped used ids",
					zap.String("guild_id", guildID),
					zap.String("ticket_id", id),
					zap.Int("skipped", draws))
			}
			return id, nil
		}
	}
	return "", apperrors.NewInternalError(fmt.Errorf("no unused ticket id in guild %s", guildID))
}

func (s *channelTicketStore) Get(ctx context.Context, guildID, ticketID string) (*domain.Ticket, error) {
	s.mu.RLock()
	channelID, ok := s.cache[cacheKey(guildID, ticketID)]
	s.mu.RUnlock()

	if ok {
		ticket, err := s.readChannel(ctx, channelID)
		switch {
		case err == nil && ticket.GuildID == guildID && ticket.ID == ticketID:
			return ticket, nil
		case err != nil && !errors.Is(err, apperrors.ErrNotFound):
			return nil, err
		}
		s.forget(guildID, ticketID)
	}

	tickets, err := s.scan(ctx, guildID)
	if err != nil {
		return nil, err
	}
	for i := range tickets {
		if tickets[i].ID == ticketID {
			return &tickets[i], nil
		}
	}
	return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
}

func (s *channelTicketStore) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	// Ticket channels are created with their tag, so a cached channel without one is never a ticket.
	if cache, ok := s.platform.(platform.ChannelCache); ok {
		if ch, found := cache.CachedChannel(channelID); found && !codec.IsTicketTopic(ch.Topic) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"channel_id": channelID})
		}
	}
	ticket, err := s.readChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	s.remember(ticket)
	return ticket, nil
}

func (s *channelTicketStore) CompareAndUpdate(ctx context.Context, guildID, ticketID string, expect Precondition, mutate Mutator) (*domain.Ticket, error) {
	unlock, err := s.locker.Lock(ctx, "ticket:"+guildID+":"+ticketID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.Get(ctx, guildID, ticketID)
	if err != nil {
		return nil, err
	}
	if err := ExpectOpen()(current); err != nil {
		return nil, err
	}
	if expect != nil {
		if err := expect(current); err != nil {
			return nil, err
		}
	}

	next := current.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	if err := checkImmutable(current, next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	next.LastActivityAt = s.timestamp()

	topic, err := codec.EncodeMetadata(next)
	if err != nil {
		return nil, err
	}
	if err := s.platform.EditChannelTopic(ctx, current.ChannelID, topic); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *channelTicketStore) Delete(_ context.Context, guildID, ticketID string) error {
	s.forget(guildID, ticketID)
	return nil
}

func (s *channelTicketStore) ListOpen(ctx context.Context, guildID string) ([]domain.Ticket, error) {
	tickets, err := s.scan(ctx, guildID)
	if err != nil {
		return nil, err
	}
	open := make([]domain.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.IsOpen() {
			open = append(open, t)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].ID < open[j].ID
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	return open, nil
}

// scan decodes every ticket channel of the guild and refreshes the id cache.
func (s *channelTicketStore) scan(ctx context.Context, guildID string) ([]domain.Ticket, error) {
	channels, err := s.platform.GuildChannels(ctx, guildID)
	if err != nil {
		return nil, err
	}
	tickets := make([]domain.Ticket, 0, len(channels))
	for _, ch := range channels {
		ticket, ok := s.decode(ch)
		if !ok {
			continue
		}
		s.remember(ticket)
		tickets = append(tickets, *ticket)
	}
	return tickets, nil
}

func (s *channelTicketStore) readChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	ch, err := s.platform.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ticket, ok := s.decode(*ch)
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"channel_id": channelID})
	}
	return ticket, nil
}

// decode returns false for channels that are not tickets; corrupt metadata is logged and skipped.
func (s *channelTicketStore) decode(ch platform.Channel) (*domain.Ticket, bool) {
	ticket, err := codec.DecodeMetadata(ch.Topic)
	if err != nil {
		if !errors.Is(err, codec.ErrNotTicket) {
			s.logger.Error("corrupt ticket metadata; treating channel as non-ticket",
				zap.String("guild_id", ch.GuildID),
				zap.String("channel_id", ch.ID),
				zap.Error(err))
		}
		return nil, false
	}
	ticket.GuildID = ch.GuildID
	ticket.ChannelID = ch.ID
	return ticket, true
}

func (s *channelTicketStore) remember(t *domain.Ticket) {
	s.mu.Lock()
	s.cache[cacheKey(t.GuildID, t.ID)] = t.ChannelID
	s.mu.Unlock()
}

func (s *channelTicketStore) forget(guildID, ticketID string) {
	s.mu.Lock()
	delete(s.cache, cacheKey(guildID, ticketID))
	s.mu.Unlock()
}

func checkImmutable(before, after *domain.Ticket) error {
	switch {
	case before.ID != after.ID,
		before.GuildID != after.GuildID,
		before.ChannelID != after.ChannelID,
		before.RequesterID != after.RequesterID,
		before.Category != after.Category,
		!before.CreatedAt.Equal(after.CreatedAt):
		return apperrors.NewValidationError("immutable ticket field changed", map[string]any{"ticket_id": before.ID})
	case before.ClaimedBy != nil && (after.ClaimedBy == nil || *after.ClaimedBy != *before.ClaimedBy):
		return apperrors.NewValidationError("claim cannot be changed once set", map[string]any{"ticket_id": before.ID})
	}
	return nil
}
