package main

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/ticketbot/internal/api/http"
	"github.com/spec-kit/ticketbot/internal/api/http/handlers"
	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/platform/discord"
	"github.com/spec-kit/ticketbot/internal/service"
	"github.com/spec-kit/ticketbot/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the admin API and the inactivity sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, rt.metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, rt.postgres, rt.redis),
		Auth:           handlers.NewAuthHandler(service.NewAuthService(cfg.Auth, tokens)),
		Tickets:        handlers.NewTicketsHandler(rt.tickets, rt.history, rt.transcripts),
		Metrics:        handlers.NewMetricsHandler(rt.metrics),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	gateway := discord.NewGateway(rt.session, rt.tickets, logger, cfg.Discord.ApplicationID, cfg.Discord.GuildID)
	sweeper := worker.NewSweeper(rt.platform, rt.tickets, cfg.Tickets.AutoCloseThreshold(), cfg.Tickets.SweepInterval(), rt.metrics, logger)

	group, ctx := errgroup.WithContext(cmd.Context())
	group.Go(func() error {
		return gateway.Run(ctx)
	})
	group.Go(func() error {
		logger.Info("admin api listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	sweeper.Start(ctx)

	err = group.Wait()
	if !sweeper.Wait(shutdownTimeout) {
		logger.Warn("sweeper did not stop in time")
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if derr := rt.tickets.Shutdown(drainCtx); derr != nil {
		logger.Warn("pending channel deletions did not finish", zap.Error(derr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
