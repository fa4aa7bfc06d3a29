package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/logger"
	"github.com/vertextoedge/resumable-downloader/internal/service/maintenance"
	"github.com/vertextoedge/resumable-downloader/internal/service/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transfer engine behind the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, zapLogger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	zapLogger.Info("starting resumable-downloader",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}

	restored, err := e.coordinator.Restore(ctx)
	if err != nil {
		zapLogger.Error("failed to restore transfers", zap.Error(err))
	} else if restored > 0 {
		zapLogger.Info("restored paused transfers", zap.Int("count", restored))
	}

	e.run(ctx)

	maintenanceService := maintenance.New(&maintenance.Config{
		CheckpointInterval: cfg.Maintenance.GetCheckpointInterval(),
		SweepInterval:      cfg.Maintenance.GetSweepInterval(),
		TempFileMaxAge:     cfg.Maintenance.GetTempFileMaxAge(),
	}, e.coordinator, e.fs, zapLogger)
	go func() {
		if err := maintenanceService.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	httpServer := server.New(&server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}, e.coordinator, zapLogger)
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("download_dir", cfg.Engine.DownloadDir),
	)

	// Returns on a signal, or once idle when an idle timeout is configured
	e.scheduler.Run(ctx)
	stop()

	zapLogger.Info("stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}
	maintenanceService.Stop()
	e.close()

	zapLogger.Info("application stopped successfully")
	return nil
}
