package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher appends lifecycle events to a Redis stream for external consumers.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher builds a publisher that trims the stream to roughly maxLen entries.
func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Handle is an EventHandler writing one stream entry per event.
func (p *RedisStreamPublisher) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":         event.ID,
			"type":       string(event.Type),
			"guild_id":   event.GuildID,
			"ticket_id":  event.TicketID,
			"channel_id": event.ChannelID,
			"actor_id":   event.Actor.ID,
			"timestamp":  event.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":    string(payload),
		},
	}).Err()
}

// Register subscribes the publisher to every lifecycle event.
func (p *RedisStreamPublisher) Register(d Dispatcher) {
	SubscribeAll(d, p.Handle)
}
