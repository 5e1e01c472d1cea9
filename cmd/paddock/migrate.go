package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paddockhq/paddock/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status]",
	Short: "Manage the database schema",
	Long: `Apply or roll back schema migrations against PADDOCK_DATABASE_URL.

  paddock migrate up      Apply all pending migrations (default)
  paddock migrate down    Roll back the most recent migration
  paddock migrate status  Show which migrations have been applied`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	databaseURL := os.Getenv("PADDOCK_DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("PADDOCK_DATABASE_URL is required")
	}

	action := "up"
	if len(args) == 1 {
		action = args[0]
	}

	switch action {
	case "up":
		if err := storage.Migrate(databaseURL); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		fmt.Println("✓ Migrations applied")
	case "down":
		if err := storage.MigrateDown(databaseURL); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Println("✓ Rolled back one migration")
	case "status":
		if err := storage.MigrationStatus(databaseURL); err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
	default:
		return fmt.Errorf("unknown action %q, expected up, down or status", action)
	}
	return nil
}
