package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/confirm"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/persistence"
	"github.com/spec-kit/ticketbot/internal/platform"
	"github.com/spec-kit/ticketbot/internal/platform/discord"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/service"
)

// stack holds every long-lived component shared by the commands.
type stack struct {
	cfg         *config.Config
	logger      *zap.Logger
	postgres    *persistence.Postgres
	redis       *persistence.Redis
	session     *discordgo.Session
	platform    *discord.Platform
	prompts     *confirm.Registry
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	tickets     *service.TicketService
	history     repository.TicketHistoryRepository
	transcripts repository.TranscriptRepository
}

func loadBase() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// bootstrap connects the stores and the Discord session and assembles the ticket engine.
func bootstrap(ctx context.Context) (*stack, error) {
	cfg, logger, err := loadBase()
	if err != nil {
		return nil, err
	}
	if cfg.Discord.Token == "" {
		return nil, errors.New("DISCORD_TOKEN is required")
	}

	categories, err := config.LoadCategories(cfg.Tickets.CategoriesFile)
	if err != nil {
		return nil, err
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	redis := persistence.NewRedis(cfg.Redis, logger)

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		pg.Close()
		redis.Close()
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	adapter := discord.NewPlatform(session)

	rt := &stack{
		cfg:        cfg,
		logger:     logger,
		postgres:   pg,
		redis:      redis,
		session:    session,
		platform:   adapter,
		dispatcher: events.NewInMemoryDispatcher(logger),
		metrics:    observability.NewMetrics(),
	}
	rt.prompts = confirm.NewRegistry(cfg.Tickets.ConfirmTimeout(), confirm.WithExpireHook(rt.announceExpiry))

	store := repository.NewChannelTicketStore(adapter, persistence.NewLocker(redis), persistence.NewSequencer(redis), logger)
	settings := service.SettingsFromConfig(cfg.Tickets)

	service.NewNotificationService(rt.dispatcher, adapter, logger, cfg.Tickets.LogChannelID, settings.RetryDelay).RegisterHandlers()
	if pg.Enabled() {
		rt.history = repository.NewTicketHistoryRepository(pg.PoolHandle())
		rt.transcripts = repository.NewTranscriptRepository(pg.PoolHandle())
		service.NewAuditService(rt.history, rt.transcripts, logger).RegisterHandlers(rt.dispatcher)
	}
	if redis.Enabled() {
		events.NewRedisStreamPublisher(redis.Client, cfg.Redis.Stream, 0).Register(rt.dispatcher)
	}

	rt.tickets = service.NewTicketService(service.TicketDependencies{
		Store:         store,
		Platform:      adapter,
		Confirmations: rt.prompts,
		Dispatcher:    rt.dispatcher,
		Metrics:       rt.metrics,
		Logger:        logger,
		Settings:      settings,
		Categories:    categories,
	})
	return rt, nil
}

// announceExpiry tells the ticket channel that a close prompt timed out.
func (rt *stack) announceExpiry(p confirm.Prompt) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := rt.platform.SendMessage(ctx, p.ChannelID, platform.OutgoingMessage{
		Content: "Close request expired. The ticket stays open.",
	})
	if err != nil {
		rt.logger.Debug("expiry notice failed", append(observability.TicketFields(p.GuildID, p.TicketID, p.ChannelID), zap.Error(err))...)
	}
}

func (rt *stack) Close() {
	rt.prompts.Stop()
	rt.redis.Close()
	rt.postgres.Close()
	_ = rt.logger.Sync()
}
