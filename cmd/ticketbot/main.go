// Command ticketbot runs the Discord support ticket bot and its admin API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ticketbot",
	Short: "Discord support ticket bot",
	Long: `ticketbot opens private support channels on request, tracks their state in the
channel topic and closes them with a transcript.

Examples:
  ticketbot serve              # run the bot, the admin API and the inactivity sweeper
  ticketbot migrate            # apply the audit database migrations
  ticketbot sweep --hours 48   # auto-close tickets idle for two days, once`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		stop()
		os.Exit(1)
	}
}
