package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

type memoryHistory struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
}

func (m *memoryHistory) Create(_ context.Context, h *domain.TicketHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *h)
	return nil
}

func (m *memoryHistory) ListByTicket(_ context.Context, guildID, ticketID string) ([]domain.TicketHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TicketHistory
	for _, e := range m.entries {
		if e.GuildID == guildID && e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryTranscripts struct {
	mu      sync.Mutex
	records map[string]domain.TranscriptRecord
}

func (m *memoryTranscripts) Save(_ context.Context, r *domain.TranscriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]domain.TranscriptRecord)
	}
	r.CreatedAt = time.Now().UTC()
	m.records[r.GuildID+"/"+r.TicketID] = *r
	return nil
}

func (m *memoryTranscripts) Get(_ context.Context, guildID, ticketID string) (*domain.TranscriptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[guildID+"/"+ticketID]
	if !ok {
		return nil, apperrors.NewNotFound("transcript", nil)
	}
	return &r, nil
}

func (m *memoryTranscripts) ListByRequester(_ context.Context, guildID, requesterID string, _ int) ([]domain.TranscriptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TranscriptRecord
	for _, r := range m.records {
		if r.GuildID == guildID && r.RequesterID == requesterID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestAuditRecordsLifecycleAndArchivesTranscript(t *testing.T) {
	h := newHarness(t)
	history := &memoryHistory{}
	transcripts := &memoryTranscripts{}
	NewAuditService(history, transcripts, zap.NewNop()).RegisterHandlers(h.svc.dispatcher)

	ctx := context.Background()
	ticket := h.open(t, requester)
	_, err := h.svc.SetPriority(ctx, testGuild, ticket.ID, staff, domain.TicketPriorityHigh)
	require.NoError(t, err)
	_, err = h.svc.ForceClose(ctx, testGuild, ticket.ID, staff, "resolved")
	require.NoError(t, err)

	entries, err := history.ListByTicket(ctx, testGuild, ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.ChangeTypeCreated, entries[0].ChangeType)
	assert.Equal(t, domain.ChangeTypePriority, entries[1].ChangeType)
	assert.Equal(t, domain.TicketPriorityNormal, entries[1].OldValue["priority"])
	assert.Equal(t, domain.ChangeTypeClosed, entries[2].ChangeType)
	assert.Equal(t, "resolved", entries[2].NewValue["close_reason"])
	assert.Equal(t, staff.ID, entries[2].ActorID)

	record, err := transcripts.Get(ctx, testGuild, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseTypeForceClosed, record.CloseType)
	assert.Contains(t, record.Content, "Transcript for ticket "+ticket.ID)
	assert.Equal(t, requester.ID, record.RequesterID)
}

func TestAuditSkipsDisabledStores(t *testing.T) {
	audit := NewAuditService(nil, nil, zap.NewNop())
	err := audit.handle(context.Background(), events.Event{Type: events.EventTicketClaimed, Payload: events.TicketClaimedPayload{ClaimedBy: "s1"}})
	assert.NoError(t, err)
}
