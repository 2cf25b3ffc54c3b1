// Package database provides database migration tooling.
package database

import (
	"embed"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Postgres driver for connection-string based migrations
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
)

//go:embed migrations/*.sql
var fs embed.FS

// migrationsFromSource returns a migration source driver from the embedded migrations.
func migrationsFromSource() source.Driver {
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		panic(err)
	}
	return d
}

// Migrator is the interface for the migration tooling.
type Migrator interface {
	Up() error
	Down() error
	Steps(int) error
	Version() (uint, bool, error)
}

// NewFromConnectionString returns a new migration instance from the given connection string.
// The pgx/v5 migrate driver registers the pgx5 scheme, so plain postgres URLs
// are rewritten before use.
func NewFromConnectionString(connString string) (Migrator, error) {
	d := migrationsFromSource()
	connString = strings.Replace(connString, "postgres://", "pgx5://", 1)
	return migrate.NewWithSourceInstance("iofs", d, connString)
}
