package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Sequencer hands out ticket identifiers unique within a guild.
type Sequencer interface {
	Next(ctx context.Context, guildID string) (string, error)
}

// RedisSequencer issues T0001-style ids from a per-guild INCR counter.
type RedisSequencer struct {
	redis *Redis
}

// NewRedisSequencer builds a counter-backed sequencer.
func NewRedisSequencer(r *Redis) *RedisSequencer {
	return &RedisSequencer{redis: r}
}

func (s *RedisSequencer) Next(ctx context.Context, guildID string) (string, error) {
	if !s.redis.Enabled() {
		return "", fmt.Errorf("redis sequencer: client not configured")
	}
	n, err := s.redis.Client.Incr(ctx, s.redis.Key("ticket_seq", guildID)).Result()
	if err != nil {
		return "", fmt.Errorf("next ticket id: %w", err)
	}
	return fmt.Sprintf("T%04d", n), nil
}

// RandomSequencer issues TCK-XXXXXXXX ids without shared state.
type RandomSequencer struct{}

func (RandomSequencer) Next(context.Context, string) (string, error) {
	return generateTicketKey(), nil
}

func generateTicketKey() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("TCK-%s", strings.ToUpper(id[:8]))
}

// NewSequencer prefers the Redis counter and falls back to random ids.
func NewSequencer(r *Redis) Sequencer {
	if r.Enabled() {
		return NewRedisSequencer(r)
	}
	return RandomSequencer{}
}
