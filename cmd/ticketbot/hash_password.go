package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/config"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print the bcrypt hash of a password read from stdin",
	Long: `Print the bcrypt hash of a password read from stdin, for AUTH_ADMIN_PASSWORD_HASH
and AUTH_VIEWER_PASSWORD_HASH. The cost comes from AUTH_BCRYPT_COST.

Examples:
  printf 's3cret' | ticketbot hash-password`,
	Args: cobra.NoArgs,
	RunE: runHashPassword,
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"), cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
