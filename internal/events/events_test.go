package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
)

func TestDispatcherContinuesAfterHandlerError(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())
	var calls []string
	d.Subscribe(EventTicketClaimed, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventTicketClaimed, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventTicketClosed, func(context.Context, Event) error {
		calls = append(calls, "closed")
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketClaimed}))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRedisStreamPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewInMemoryDispatcher(zap.NewNop())
	NewRedisStreamPublisher(client, "ticketbot.events", 100).Register(d)

	event := Event{
		ID:        "evt-1",
		Type:      EventTicketClaimed,
		GuildID:   "g1",
		TicketID:  "T0001",
		ChannelID: "c1",
		Actor:     ActorFrom(domain.Actor{ID: "s1", DisplayName: "Staff"}),
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Payload:   TicketClaimedPayload{ClaimedBy: "s1"},
	}
	require.NoError(t, d.Publish(context.Background(), event))

	entries, err := client.XRange(context.Background(), "ticketbot.events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	values := entries[0].Values
	assert.Equal(t, "ticket_claimed", values["type"])
	assert.Equal(t, "T0001", values["ticket_id"])
	assert.Equal(t, "s1", values["actor_id"])

	var payload TicketClaimedPayload
	require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &payload))
	assert.Equal(t, "s1", payload.ClaimedBy)
}

func TestActorFromDefaultsKind(t *testing.T) {
	a := ActorFrom(domain.Actor{ID: "u1"})
	assert.Equal(t, domain.ActorKindMember, a.Kind)
	assert.Equal(t, "u1", a.Name)
	assert.Equal(t, domain.ActorKindSystem, ActorFrom(domain.SystemActor("bot")).Kind)
}
