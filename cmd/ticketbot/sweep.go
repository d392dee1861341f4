package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/worker"
)

var sweepHours int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one inactivity sweep and exit",
	Long: `Run one inactivity sweep over every guild the bot is in and exit.

The idle threshold defaults to TICKET_AUTO_CLOSE_HOURS.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().IntVar(&sweepHours, "hours", 0, "Idle threshold in hours (overrides TICKET_AUTO_CLOSE_HOURS)")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	threshold := rt.cfg.Tickets.AutoCloseThreshold()
	if sweepHours > 0 {
		threshold = time.Duration(sweepHours) * time.Hour
	}
	if threshold <= 0 {
		return errors.New("no idle threshold: set TICKET_AUTO_CLOSE_HOURS or --hours")
	}

	// The guild list comes from the gateway state.
	rt.session.Identify.Intents = discordgo.IntentsGuilds
	if err := rt.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer rt.session.Close() //nolint:errcheck

	sweeper := worker.NewSweeper(rt.platform, rt.tickets, threshold, 0, rt.metrics, rt.logger)
	report, err := sweeper.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	// Closed channels are deleted after the configured delay; stay up until they are.
	waitCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Tickets.DeleteDelay()+30*time.Second)
	defer cancel()
	if err := rt.tickets.WaitForDeletions(waitCtx); err != nil {
		rt.logger.Warn("pending channel deletions did not finish", zap.Error(err))
	}
	rt.logger.Info("sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Strings("closed", report.Closed),
		zap.Strings("orphaned", report.Orphaned),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
	)
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d guilds or tickets failed to sweep", len(report.Failed))
	}
	return nil
}
