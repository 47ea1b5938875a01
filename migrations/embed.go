// Package migrations embeds the goose schema migrations for each supported database.
package migrations

import "embed"

// SQLite holds the migrations applied to SQLite databases.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres holds the migrations applied to PostgreSQL databases.
//
//go:embed postgres/*.sql
var Postgres embed.FS
