// Package app provides the feedersync CLI commands
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/campuskit/feedersync/internal/config"
	"github.com/campuskit/feedersync/internal/logger"
)

// NewRootCmd creates the root command for feedersync
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "feedersync",
		Short: "Mirror external academic registry records into a local store",
		Long: `feedersync synchronizes academic registry records (study programs,
lecturers, students, academic history) from per-tenant feeder web services
into a local PostgreSQL store, with idempotent change-detected upserts and
polling-friendly run progress.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger.Initialize(viper.GetBool("debug"))
			return viper.BindPFlags(cmd.Flags())
		},
	}

	rootCmd.PersistentFlags().String("config", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		logger.Fatalf("failed to bind flags: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}

// loadConfig reads the configuration file named by the --config flag
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	return cfg, nil
}
