package app

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/campuskit/feedersync/internal/api"
	"github.com/campuskit/feedersync/internal/db"
	"github.com/campuskit/feedersync/internal/domains"
	"github.com/campuskit/feedersync/internal/feeder"
	"github.com/campuskit/feedersync/internal/logger"
	"github.com/campuskit/feedersync/internal/service"
	"github.com/campuskit/feedersync/internal/store"
	"github.com/campuskit/feedersync/internal/sync/engine"
	"github.com/campuskit/feedersync/internal/sync/executor"
	"github.com/campuskit/feedersync/internal/sync/run"
)

const shutdownGracePeriod = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync API server",
		RunE:  runServe,
	}
	cmd.Flags().String("address", "", "Listen address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	runStore := run.NewDBStore(pool)
	entityStore, err := store.NewDBEntityStore(pool)
	if err != nil {
		return err
	}

	execPool := executor.NewPool(
		executor.WithPoolSize(cfg.Engine.GetWorkerPoolSize()),
		executor.WithJobTimeout(cfg.Engine.GetWorkerTimeout()),
		executor.WithLogger(slog.Default()),
	)

	registry := domains.NewRegistry()
	eng, err := engine.New(
		registry,
		feeder.NewClientFactory(cfg),
		runStore,
		entityStore,
		execPool,
		engine.WithPageSize(cfg.Engine.GetPageSize()),
		engine.WithFetchCeiling(cfg.Engine.GetFetchCeiling()),
		engine.WithFetchTimeout(cfg.Engine.GetFetchTimeout()),
	)
	if err != nil {
		return err
	}

	sweeper := engine.NewSweeper(eng, cfg.Engine.GetFinalizeInterval(), slog.Default())
	sweeper.Start(ctx)

	address := cfg.Server.Address
	if flagAddress := viper.GetString("address"); flagAddress != "" {
		address = flagAddress
	}

	svc := service.New(eng, runStore, registry)
	server, err := api.NewServer(svc,
		api.WithAddress(address),
		api.WithReadinessPool(pool),
	)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		sweeper.Stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown failed: %v", err)
	}
	sweeper.Stop()
	if err := execPool.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("executor shutdown failed: %v", err)
	}
	return nil
}
