package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/tasksync/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Open the configured database, apply pending migrations and print the schema version.",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// NewSQLiteStore applies migrations on open.
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := store.MigrationVersion(cmd.Context(), db.DB())
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "database %s at schema version %d\n", cfg.Database.Path, version)
	return nil
}
