package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-mail-must-flow/internal/cli"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Works against whichever backend database.driver selects.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Running database migrations", "driver", cfg.Database.Driver)

	s, err := initStorage(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = s.Close() }()

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Database schema is up to date"))
	return nil
}
