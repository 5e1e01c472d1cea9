package storage

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending schema migrations.
func Migrate(databaseURL string) error {
	return runGoose(databaseURL, func(db *sql.DB) error {
		return goose.Up(db, "migrations")
	})
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(databaseURL string) error {
	return runGoose(databaseURL, func(db *sql.DB) error {
		return goose.Down(db, "migrations")
	})
}

// MigrationStatus prints migration status to stdout.
func MigrationStatus(databaseURL string) error {
	return runGoose(databaseURL, func(db *sql.DB) error {
		return goose.Status(db, "migrations")
	})
}

func runGoose(databaseURL string, fn func(*sql.DB) error) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return fn(db)
}
