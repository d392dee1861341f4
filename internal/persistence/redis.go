package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
)

// Redis wraps the go-redis client together with the key namespace used by the bot.
type Redis struct {
	Client *redis.Client
	Prefix string
}

// NewRedis connects to Redis using the provided configuration. An empty address yields a nil client.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not provided; using in-process locks and sequencing")
		return &Redis{Prefix: cfg.KeyPrefix}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client, Prefix: cfg.KeyPrefix}
}

// Enabled reports whether a client was configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

// Key joins parts under the configured prefix.
func (r *Redis) Key(parts ...string) string {
	prefix := "ticketbot"
	if r != nil && r.Prefix != "" {
		prefix = r.Prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
