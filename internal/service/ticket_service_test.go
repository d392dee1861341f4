package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/codec"
	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/confirm"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/persistence"
	"github.com/spec-kit/ticketbot/internal/platform/platformtest"
	"github.com/spec-kit/ticketbot/internal/repository"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

const testGuild = "g1"

var (
	requester = domain.Actor{ID: "u1", DisplayName: "alice", Kind: domain.ActorKindMember}
	outsider  = domain.Actor{ID: "u9", DisplayName: "mallory", Kind: domain.ActorKindMember}
	staff     = domain.Actor{ID: "s1", DisplayName: "sam", RoleIDs: []string{"staff-role"}, Kind: domain.ActorKindMember}
	staff2    = domain.Actor{ID: "s2", DisplayName: "sky", RoleIDs: []string{"staff-role"}, Kind: domain.ActorKindMember}
)

type counterSequencer struct{ n atomic.Int64 }

func (c *counterSequencer) Next(context.Context, string) (string, error) {
	return fmt.Sprintf("T%04d", c.n.Add(1)), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	fake       *platformtest.Fake
	store      repository.TicketStore
	svc        *TicketService
	metrics    *observability.Metrics
	clock      *testClock
	logChannel string
	published  *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) count(t events.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newHarness(t *testing.T, wrap ...func(repository.TicketStore) repository.TicketStore) *harness {
	t.Helper()
	fake := platformtest.New("bot", testGuild)
	logCh := fake.AddChannel(testGuild, "ticket-logs", "")
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	var store repository.TicketStore = repository.NewChannelTicketStore(fake, persistence.NewKeyedMutex(), &counterSequencer{}, zap.NewNop(), repository.WithClock(clock.Now))
	for _, w := range wrap {
		store = w(store)
	}

	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	log := &eventLog{}
	events.SubscribeAll(dispatcher, log.handle)
	NewNotificationService(dispatcher, fake, zap.NewNop(), logCh.ID, 0).RegisterHandlers()

	prompts := confirm.NewRegistry(time.Hour)
	t.Cleanup(prompts.Stop)

	metrics := observability.NewMetrics()
	svc := NewTicketService(TicketDependencies{
		Store:         store,
		Platform:      fake,
		Confirmations: prompts,
		Dispatcher:    dispatcher,
		Metrics:       metrics,
		Logger:        zap.NewNop(),
		Settings: Settings{
			AdminRoleIDs:     []string{"staff-role"},
			TranscriptLimit:  1000,
			ActivityDebounce: 10 * time.Minute,
		},
		Categories: config.DefaultCategories(),
		Clock:      clock.Now,
	})
	return &harness{fake: fake, store: store, svc: svc, metrics: metrics, clock: clock, logChannel: logCh.ID, published: log}
}

func (h *harness) open(t *testing.T, actor domain.Actor) *domain.Ticket {
	t.Helper()
	ticket, err := h.svc.Open(context.Background(), OpenInput{
		GuildID:  testGuild,
		Actor:    actor,
		Category: "general support",
		Answers:  []domain.FormAnswer{{Label: "What do you need help with?", Value: "my server is down"}},
	})
	require.NoError(t, err)
	return ticket
}

func (h *harness) topicTicket(t *testing.T, channelID string) *domain.Ticket {
	t.Helper()
	ch, err := h.fake.Channel(context.Background(), channelID)
	require.NoError(t, err)
	ticket, err := codec.DecodeMetadata(ch.Topic)
	require.NoError(t, err)
	return ticket
}

func TestOpenCreatesPrivateChannelWithWelcome(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(t, requester)

	assert.Equal(t, "T0001", ticket.ID)
	assert.Equal(t, "General Support", ticket.Category)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.True(t, h.fake.HasAccess(ticket.ChannelID, requester.ID))
	assert.False(t, h.fake.HasAccess(ticket.ChannelID, testGuild))
	assert.True(t, h.fake.HasAccess(ticket.ChannelID, "staff-role"))

	ch, err := h.fake.Channel(context.Background(), ticket.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, "alice-general-support-t0001", ch.Name)

	welcome := h.fake.SentTo(ticket.ChannelID)
	require.Len(t, welcome, 1)
	require.NotNil(t, welcome[0].Message.Card)
	assert.Equal(t, "my server is down", welcome[0].Message.Card.Fields[0].Value)
	assert.Equal(t, 1, h.published.count(events.EventTicketCreated))
}

func TestOpenRejectsUnknownCategory(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Open(context.Background(), OpenInput{GuildID: testGuild, Actor: requester, Category: "Nope"})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestDuplicateOpenThenReopenAfterClose(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(t, requester)

	_, err := h.svc.Open(context.Background(), OpenInput{GuildID: testGuild, Actor: requester, Category: "Other"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDuplicateOpenTicket))

	_, err = h.svc.ForceClose(context.Background(), testGuild, ticket.ID, staff, "done")
	require.NoError(t, err)

	again := h.open(t, requester)
	assert.NotEqual(t, ticket.ID, again.ID)
}

func TestConfirmedCloseEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)
	h.fake.Post(ticket.ChannelID, domain.Message{ID: "m1", AuthorID: requester.ID, AuthorName: "alice", Content: "hello staff", CreatedAt: h.clock.Now()})

	claimed, err := h.svc.Claim(ctx, testGuild, ticket.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, staff.ID, domain.StringValue(claimed.ClaimedBy))

	prompt, err := h.svc.RequestClose(ctx, testGuild, ticket.ID, requester, "")
	require.NoError(t, err)
	assert.Equal(t, defaultCloseReason, prompt.Reason)

	res, err := h.svc.ConfirmClose(ctx, prompt.ID, requester)
	require.NoError(t, err)
	assert.False(t, res.Orphaned)
	assert.Equal(t, domain.TicketStatusClosed, res.Ticket.Status)
	assert.Equal(t, domain.CloseTypeConfirmed, *res.Ticket.CloseType)
	assert.Equal(t, requester.ID, domain.StringValue(res.Ticket.ClosedBy))
	assert.Contains(t, res.Transcript.Content, "hello staff")

	assert.Equal(t, 1, h.fake.DeleteCalls(ticket.ChannelID))

	dms := h.fake.DirectMessages()
	require.Len(t, dms, 1)
	assert.Equal(t, requester.ID, dms[0].UserID)
	assert.Contains(t, dms[0].Files["ticket-T0001-transcript.txt"], "hello staff")

	var logged int
	for _, m := range h.fake.SentTo(h.logChannel) {
		if _, ok := m.Files["ticket-T0001-transcript.txt"]; ok {
			logged++
		}
	}
	assert.Equal(t, 1, logged)
	assert.Equal(t, 1, h.published.count(events.EventTicketClosed))

	_, err = h.svc.ConfirmClose(ctx, prompt.ID, requester)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	_, err = h.store.Get(ctx, testGuild, ticket.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Equal(t, int64(1), h.metrics.Snapshot().Transitions["close|confirmed"])
}

func TestDenyKeepsTicketOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)

	prompt, err := h.svc.RequestClose(ctx, testGuild, ticket.ID, staff, "looks solved")
	require.NoError(t, err)
	edits := h.fake.TopicEdits()

	_, err = h.svc.DenyClose(ctx, prompt.ID, requester)
	require.NoError(t, err)

	assert.Equal(t, edits, h.fake.TopicEdits())
	_, pending := h.svc.Prompts().Pending(testGuild, ticket.ID)
	assert.False(t, pending)
	assert.Equal(t, domain.TicketStatusOpen, h.topicTicket(t, ticket.ChannelID).Status)

	_, err = h.svc.ConfirmClose(ctx, prompt.ID, requester)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Equal(t, 0, h.fake.DeleteCalls(ticket.ChannelID))
}

func TestPromptRejectsOutsiderAndStaysPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)

	prompt, err := h.svc.RequestClose(ctx, testGuild, ticket.ID, requester, "")
	require.NoError(t, err)

	_, err = h.svc.ConfirmClose(ctx, prompt.ID, outsider)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	_, pending := h.svc.Prompts().Pending(testGuild, ticket.ID)
	assert.True(t, pending)

	_, err = h.svc.RequestClose(ctx, testGuild, ticket.ID, staff, "")
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestConcurrentConfirmClosesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)
	prompt, err := h.svc.RequestClose(ctx, testGuild, ticket.ID, requester, "")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for _, actor := range []domain.Actor{requester, staff, staff2, requester} {
		wg.Add(1)
		go func(a domain.Actor) {
			defer wg.Done()
			_, err := h.svc.ConfirmClose(ctx, prompt.ID, a)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, apperrors.ErrConflict):
				conflicts.Add(1)
			}
		}(actor)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(3), conflicts.Load())
	assert.Equal(t, 1, h.fake.DeleteCalls(ticket.ChannelID))
	assert.Len(t, h.fake.DirectMessages(), 1)
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, actor := range []domain.Actor{staff, staff2} {
		wg.Add(1)
		go func(a domain.Actor) {
			defer wg.Done()
			if _, err := h.svc.Claim(ctx, testGuild, ticket.ID, a); err == nil {
				mu.Lock()
				winners = append(winners, a.ID)
				mu.Unlock()
			} else {
				assert.True(t, errors.Is(err, apperrors.ErrConflict))
			}
		}(actor)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], domain.StringValue(h.topicTicket(t, ticket.ChannelID).ClaimedBy))
}

func TestForbiddenLeavesTicketUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)
	edits := h.fake.TopicEdits()

	_, err := h.svc.Claim(ctx, testGuild, ticket.ID, requester)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	_, err = h.svc.SetPriority(ctx, testGuild, ticket.ID, outsider, domain.TicketPriorityHigh)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	_, err = h.svc.ForceClose(ctx, testGuild, ticket.ID, requester, "")
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	_, err = h.svc.RequestClose(ctx, testGuild, ticket.ID, outsider, "")
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	_, _, err = h.svc.Transcript(ctx, testGuild, ticket.ID, outsider)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	assert.Equal(t, edits, h.fake.TopicEdits())
	assert.Equal(t, int64(1), h.metrics.Snapshot().Failures["claim|FORBIDDEN"])
}

func TestSetPriorityBumpsVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)

	updated, err := h.svc.SetPriority(ctx, testGuild, ticket.ID, staff, domain.TicketPriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityUrgent, updated.Priority)
	assert.Equal(t, ticket.Version+1, updated.Version)

	_, err = h.svc.SetPriority(ctx, testGuild, ticket.ID, staff, domain.TicketPriority("extreme"))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestOrphanedWhenDeleteFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)
	h.fake.DeleteErr = apperrors.NewPlatformUnavailable("delete channel", errors.New("gateway timeout"))

	res, err := h.svc.ForceClose(ctx, testGuild, ticket.ID, staff, "spam")
	require.NoError(t, err)
	assert.True(t, res.Orphaned)
	assert.Equal(t, 1, h.fake.DeleteCalls(ticket.ChannelID))
	assert.Equal(t, 1, h.published.count(events.EventTicketOrphaned))

	// The metadata is closed even though the channel remains.
	assert.Equal(t, domain.TicketStatusClosed, h.topicTicket(t, ticket.ChannelID).Status)
	_, err = h.svc.Claim(ctx, testGuild, ticket.ID, staff)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Equal(t, int64(1), h.metrics.Snapshot().Failures["delete-channel|PLATFORM_UNAVAILABLE"])
}

func TestInformationalSendRetriedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)

	h.fake.FailNextSends = 1
	_, err := h.svc.Claim(ctx, testGuild, ticket.ID, staff)
	require.NoError(t, err)

	found := false
	for _, m := range h.fake.SentTo(ticket.ChannelID) {
		if strings.Contains(m.Message.Content, "Ticket claimed by") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSendFailureDoesNotUndoTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)

	h.fake.SendErr = apperrors.NewPlatformUnavailable("send", errors.New("down"))
	updated, err := h.svc.SetPriority(ctx, testGuild, ticket.ID, staff, domain.TicketPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, updated.Priority)
}

func TestTouchDebounce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)
	edits := h.fake.TopicEdits()

	h.clock.Advance(5 * time.Minute)
	require.NoError(t, h.svc.Touch(ctx, ticket.ChannelID, requester.ID))
	assert.Equal(t, edits, h.fake.TopicEdits())

	h.clock.Advance(6 * time.Minute)
	require.NoError(t, h.svc.Touch(ctx, ticket.ChannelID, "bot"))
	assert.Equal(t, edits, h.fake.TopicEdits())

	require.NoError(t, h.svc.Touch(ctx, ticket.ChannelID, requester.ID))
	assert.Equal(t, edits+1, h.fake.TopicEdits())
	assert.True(t, h.clock.Now().Equal(h.topicTicket(t, ticket.ChannelID).LastActivityAt))

	other := h.fake.AddChannel(testGuild, "general", "")
	assert.NoError(t, h.svc.Touch(ctx, other.ID, requester.ID))
}

func TestAutoCloseRechecksIdleness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	idle := h.open(t, requester)
	h.clock.Advance(23 * time.Hour)
	active := h.open(t, staff)
	h.clock.Advance(2 * time.Hour)

	res, err := h.svc.AutoClose(ctx, testGuild, idle.ID, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseTypeAutoClosed, *res.Ticket.CloseType)
	assert.Equal(t, "Automatically closed after 24 hours of inactivity", domain.StringValue(res.Ticket.CloseReason))
	assert.Equal(t, "bot", domain.StringValue(res.Ticket.ClosedBy))

	_, err = h.svc.AutoClose(ctx, testGuild, active.ID, 24*time.Hour)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Equal(t, 0, h.fake.DeleteCalls(active.ChannelID))
}

func TestCloseDiscardsPendingPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)
	prompt, err := h.svc.RequestClose(ctx, testGuild, ticket.ID, requester, "")
	require.NoError(t, err)

	_, err = h.svc.ForceClose(ctx, testGuild, ticket.ID, staff, "")
	require.NoError(t, err)

	_, err = h.svc.ConfirmClose(ctx, prompt.ID, requester)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Equal(t, 0, h.svc.Prompts().Len())
}

type failingStore struct {
	repository.TicketStore
	failID string
}

func (s *failingStore) CompareAndUpdate(ctx context.Context, guildID, ticketID string, expect repository.Precondition, mutate repository.Mutator) (*domain.Ticket, error) {
	if ticketID == s.failID {
		return nil, apperrors.NewPlatformUnavailable("edit topic", errors.New("rate limited"))
	}
	return s.TicketStore.CompareAndUpdate(ctx, guildID, ticketID, expect, mutate)
}

func TestCloseAllIsolatesFailures(t *testing.T) {
	var fs *failingStore
	h := newHarness(t, func(s repository.TicketStore) repository.TicketStore {
		fs = &failingStore{TicketStore: s}
		return fs
	})
	ctx := context.Background()
	a := h.open(t, requester)
	b := h.open(t, outsider)
	c := h.open(t, staff2)
	fs.failID = b.ID

	report, err := h.svc.CloseAll(ctx, testGuild, staff, "server maintenance")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, c.ID}, report.Closed)
	require.Contains(t, report.Failed, b.ID)
	assert.True(t, errors.Is(report.Failed[b.ID], apperrors.ErrPlatformUnavailable))

	open, err := h.svc.ListOpen(ctx, testGuild)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)

	_, err = h.svc.CloseAll(ctx, testGuild, requester, "")
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestMembershipAndRename(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)

	_, err := h.svc.AddUser(ctx, testGuild, ticket.ID, staff, "u42")
	require.NoError(t, err)
	assert.True(t, h.fake.HasAccess(ticket.ChannelID, "u42"))

	_, err = h.svc.RemoveUser(ctx, testGuild, ticket.ID, staff, "u42")
	require.NoError(t, err)
	assert.False(t, h.fake.HasAccess(ticket.ChannelID, "u42"))

	_, err = h.svc.RemoveUser(ctx, testGuild, ticket.ID, staff, requester.ID)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = h.svc.Rename(ctx, testGuild, ticket.ID, staff, "Billing Question!!")
	require.NoError(t, err)
	ch, err := h.fake.Channel(ctx, ticket.ChannelID)
	require.NoError(t, err)
	assert.Equal(t, "billing-question", ch.Name)
}

func TestOverviewCountsOpenTickets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.open(t, requester)
	h.open(t, outsider)
	_, err := h.svc.Claim(ctx, testGuild, a.ID, staff)
	require.NoError(t, err)

	o, err := h.svc.Overview(ctx, testGuild, domain.OperatorActor("ops"))
	require.NoError(t, err)
	assert.Equal(t, 2, o.Open)
	assert.Equal(t, 1, o.Claimed)
	assert.Equal(t, 1, o.Unclaimed)
	assert.Equal(t, 2, o.ByPriority[domain.TicketPriorityNormal])

	_, err = h.svc.Overview(ctx, testGuild, requester)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

// Every accepted write leaves a decodable topic, a strictly larger version and
// a claim that never changes once set.
func TestTopicInvariantsAcrossOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)

	ops := []func() error{
		func() error { _, err := h.svc.SetPriority(ctx, testGuild, ticket.ID, staff, domain.TicketPriorityHigh); return err },
		func() error { _, err := h.svc.Claim(ctx, testGuild, ticket.ID, staff2); return err },
		func() error { _, err := h.svc.Claim(ctx, testGuild, ticket.ID, staff); return err },
		func() error { h.clock.Advance(time.Hour); return h.svc.Touch(ctx, ticket.ChannelID, requester.ID) },
		func() error { _, err := h.svc.SetPriority(ctx, testGuild, ticket.ID, staff, domain.TicketPriorityLow); return err },
		func() error { _, err := h.svc.Claim(ctx, testGuild, ticket.ID, outsider); return err },
	}

	prev := h.topicTicket(t, ticket.ChannelID)
	for i, op := range ops {
		_ = op()
		cur := h.topicTicket(t, ticket.ChannelID)
		assert.GreaterOrEqual(t, cur.Version, prev.Version, "op %d", i)
		assert.Equal(t, prev.ID, cur.ID)
		assert.Equal(t, prev.RequesterID, cur.RequesterID)
		assert.True(t, prev.CreatedAt.Equal(cur.CreatedAt))
		if prev.ClaimedBy != nil {
			assert.Equal(t, *prev.ClaimedBy, domain.StringValue(cur.ClaimedBy), "op %d", i)
		}
		assert.NoError(t, cur.Validate())
		prev = cur
	}
	assert.Equal(t, staff2.ID, domain.StringValue(prev.ClaimedBy))
}

func TestLongMultibyteReasonStillCloses(t *testing.T) {
	reason := strings.Repeat("ж", 500)

	t.Run("request and confirm", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		ticket := h.open(t, requester)

		prompt, err := h.svc.RequestClose(ctx, testGuild, ticket.ID, requester, reason)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(prompt.Reason), maxCloseReasonBytes)
		assert.True(t, utf8.ValidString(prompt.Reason))

		res, err := h.svc.ConfirmClose(ctx, prompt.ID, staff)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStatusClosed, res.Ticket.Status)
		assert.Equal(t, prompt.Reason, domain.StringValue(res.Ticket.CloseReason))
		assert.Equal(t, 1, h.fake.DeleteCalls(ticket.ChannelID))
	})

	t.Run("force close", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		ticket := h.open(t, requester)
		h.fake.DeleteErr = apperrors.NewPlatformUnavailable("delete channel", errors.New("gateway timeout"))

		res, err := h.svc.ForceClose(ctx, testGuild, ticket.ID, staff, reason)
		require.NoError(t, err)
		closed := h.topicTicket(t, ticket.ChannelID)
		assert.Equal(t, domain.TicketStatusClosed, closed.Status)
		stored := domain.StringValue(closed.CloseReason)
		assert.Equal(t, domain.StringValue(res.Ticket.CloseReason), stored)
		assert.True(t, strings.HasPrefix(stored, "жжж"))
		assert.True(t, strings.HasSuffix(stored, reasonEllipsis))
		assert.LessOrEqual(t, len(stored), maxCloseReasonBytes)
	})
}

func TestNormalizeReason(t *testing.T) {
	assert.Equal(t, defaultCloseReason, normalizeReason("   "))
	assert.Equal(t, "done", normalizeReason(" done \n"))
	assert.Equal(t, "ok", normalizeReason("o\xffk"))

	long := normalizeReason(strings.Repeat("a", 299) + "ж")
	assert.LessOrEqual(t, len(long), maxCloseReasonBytes)
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, strings.Repeat("a", maxCloseReasonBytes-len(reasonEllipsis))+reasonEllipsis, long)

	exact := strings.Repeat("b", maxCloseReasonBytes)
	assert.Equal(t, exact, normalizeReason(exact))
}

func TestCloseAllDoesNotWaitForDeleteDelay(t *testing.T) {
	h := newHarness(t)
	h.svc.settings.DeleteDelay = time.Hour
	var tickets []*domain.Ticket
	for i := 0; i < 6; i++ {
		member := domain.Actor{ID: fmt.Sprintf("u%d", 10+i), DisplayName: "member", Kind: domain.ActorKindMember}
		tickets = append(tickets, h.open(t, member))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	report, err := h.svc.CloseAll(ctx, testGuild, staff, "maintenance")
	require.NoError(t, err)
	assert.Len(t, report.Closed, 6)
	assert.Empty(t, report.Failed)
	require.NoError(t, ctx.Err())

	for _, tk := range tickets {
		assert.Equal(t, 0, h.fake.DeleteCalls(tk.ChannelID))
		assert.Equal(t, domain.TicketStatusClosed, h.topicTicket(t, tk.ChannelID).Status)
	}

	drain, cancelDrain := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDrain()
	require.NoError(t, h.svc.Shutdown(drain))
	for _, tk := range tickets {
		assert.Equal(t, 1, h.fake.DeleteCalls(tk.ChannelID))
	}
}

func TestScheduledDeleteReportsOrphan(t *testing.T) {
	h := newHarness(t)
	h.svc.settings.DeleteDelay = 20 * time.Millisecond
	ctx := context.Background()
	ticket := h.open(t, requester)
	h.fake.DeleteErr = apperrors.NewPlatformUnavailable("delete channel", errors.New("gateway timeout"))

	res, err := h.svc.ForceClose(ctx, testGuild, ticket.ID, staff, "spam")
	require.NoError(t, err)
	assert.True(t, res.DeleteScheduled)
	assert.False(t, res.Orphaned)

	wait, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.svc.WaitForDeletions(wait))
	assert.Equal(t, 1, h.fake.DeleteCalls(ticket.ChannelID))
	assert.Equal(t, 1, h.published.count(events.EventTicketOrphaned))
	assert.Equal(t, int64(1), h.metrics.Snapshot().Failures["delete-channel|PLATFORM_UNAVAILABLE"])
	var announced bool
	for _, m := range h.fake.SentTo(ticket.ChannelID) {
		announced = announced || strings.Contains(m.Message.Content, "will be deleted in")
	}
	assert.True(t, announced)
}

func TestClaimPriorityConfirmedCloseTranscript(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)
	assert.Equal(t, "General Support", ticket.Category)

	_, err := h.svc.Claim(ctx, testGuild, ticket.ID, staff)
	require.NoError(t, err)
	_, err = h.svc.SetPriority(ctx, testGuild, ticket.ID, staff, domain.TicketPriorityUrgent)
	require.NoError(t, err)

	prompt, err := h.svc.RequestClose(ctx, testGuild, ticket.ID, requester, "resolved")
	require.NoError(t, err)
	res, err := h.svc.ConfirmClose(ctx, prompt.ID, staff)
	require.NoError(t, err)

	header := res.Transcript.Content
	assert.Contains(t, header, "Requester:      "+requester.ID+"\n")
	assert.Contains(t, header, "Claimed by:     "+staff.ID+"\n")
	assert.Contains(t, header, "Priority:       urgent\n")
	assert.Contains(t, header, "Close reason:   resolved\n")
	assert.Contains(t, header, "Close type:     confirmed\n")
	assert.Contains(t, header, "Closed by:      "+staff.ID+"\n")
	assert.Equal(t, staff.ID, domain.StringValue(res.Ticket.ClosedBy))
	assert.Equal(t, 1, h.fake.DeleteCalls(ticket.ChannelID))
}

func TestTouchSkipsNonTicketChannelsWithoutRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, requester)
	general := h.fake.AddChannel(testGuild, "general", "Welcome to the server")

	reads := h.fake.ChannelReads()
	for i := 0; i < 20; i++ {
		require.NoError(t, h.svc.Touch(ctx, general.ID, requester.ID))
	}
	assert.Equal(t, reads, h.fake.ChannelReads())

	h.clock.Advance(11 * time.Minute)
	require.NoError(t, h.svc.Touch(ctx, ticket.ChannelID, requester.ID))
	assert.Greater(t, h.fake.ChannelReads(), reads)
}
