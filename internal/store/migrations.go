package store

import (
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/hyperengineering/loansync/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending migrations for the given goose dialect
// ("sqlite" or "postgres") using the embedded SQL files.
func RunMigrations(db *sql.DB, dialect string) error {
	// Disable goose's default logging to avoid stdout noise
	goose.SetLogger(goose.NopLogger())

	var (
		fsys fs.FS
		dir  string
	)
	switch dialect {
	case "sqlite":
		fsys, dir = migrations.SQLite, "sqlite"
	case "postgres":
		fsys, dir = migrations.Postgres, "postgres"
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, dialect)
	}

	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
