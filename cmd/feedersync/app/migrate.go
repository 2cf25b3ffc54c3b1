package app

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/campuskit/feedersync/database"
	"github.com/campuskit/feedersync/internal/logger"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}

			if err := m.Up(); err != nil {
				if errors.Is(err, migrate.ErrNoChange) {
					logger.Info("Database schema is already up to date")
					return nil
				}
				return fmt.Errorf("migration failed: %w", err)
			}

			version, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("failed to read migration version: %w", err)
			}
			logger.Infof("Database migrated to version %d (dirty=%t)", version, dirty)
			return nil
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}

			if err := m.Steps(-1); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			logger.Info("Rolled back one migration")
			return nil
		},
	}
}

func newMigrator() (database.Migrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for migrations")
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, err
	}
	return database.NewFromConnectionString(connString)
}
