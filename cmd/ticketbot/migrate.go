package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/persistence"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the audit database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadBase()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	if !pg.Enabled() {
		return errors.New("POSTGRES_DSN is required")
	}

	if err := persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), logger); err != nil {
		return err
	}
	names, err := persistence.MigrationNames()
	if err != nil {
		return err
	}
	logger.Info("migrations applied", zap.Strings("migrations", names))
	return nil
}
