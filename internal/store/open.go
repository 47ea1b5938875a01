package store

import (
	"context"
	"fmt"
)

// Open returns the Store for the configured driver.
func Open(ctx context.Context, driver, sqlitePath, postgresURL string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	case "postgres":
		if postgresURL == "" {
			return nil, fmt.Errorf("postgres driver requires a database URL")
		}
		return NewPostgresStore(ctx, postgresURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
