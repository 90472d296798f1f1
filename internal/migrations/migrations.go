// Package migrations embeds the coordinator's goose SQL migrations so the
// "migrate" subcommand and test setup can run them without a separate
// migrations directory on disk.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var files embed.FS

// Up runs every pending migration against db.
func Up(db *sql.DB) error {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "sql"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Status reports the current migration version without applying anything.
func Status(db *sql.DB) error {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Status(db, "sql"); err != nil {
		return fmt.Errorf("checking migration status: %w", err)
	}
	return nil
}
