package database

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/000001_init.up.sql
var initMigrationUp string

//go:embed migrations/000001_init.down.sql
var initMigrationDown string

// MigrateUp executes the database migrations against an open connection.
// Used by test setup; production deployments run the migrate CLI command.
func MigrateUp(ctx context.Context, db *pgx.Conn) error {
	_, err := db.Exec(ctx, initMigrationUp)
	return err
}

// MigrateDown executes the database migrations in reverse order
func MigrateDown(ctx context.Context, db *pgx.Conn) error {
	_, err := db.Exec(ctx, initMigrationDown)
	return err
}
