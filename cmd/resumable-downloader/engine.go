package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/adapter/blobstore"
	"github.com/vertextoedge/resumable-downloader/internal/adapter/bulk"
	"github.com/vertextoedge/resumable-downloader/internal/adapter/filesystem"
	"github.com/vertextoedge/resumable-downloader/internal/adapter/httpclient"
	"github.com/vertextoedge/resumable-downloader/internal/adapter/postgres"
	"github.com/vertextoedge/resumable-downloader/internal/adapter/scheduler"
	"github.com/vertextoedge/resumable-downloader/internal/adapter/sqlite"
	"github.com/vertextoedge/resumable-downloader/internal/config"
	"github.com/vertextoedge/resumable-downloader/internal/domain/event"
	"github.com/vertextoedge/resumable-downloader/internal/port"
	"github.com/vertextoedge/resumable-downloader/internal/service/coordinator"
	"github.com/vertextoedge/resumable-downloader/internal/service/progress"
	"github.com/vertextoedge/resumable-downloader/internal/service/worker"
)

// engine holds every wired component of the transfer engine
type engine struct {
	cfg         *config.Config
	logger      *zap.Logger
	fs          *filesystem.Manager
	store       port.KeyValueStore
	dispatcher  *event.InMemoryDispatcher
	metrics     *event.MetricsHandler
	bulk        *bulk.Pool
	scheduler   *scheduler.KeepAlive
	coordinator *coordinator.Coordinator
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	fsManager, err := filesystem.NewManagerWithBufferSize(cfg.Engine.DownloadDir, cfg.Engine.TempSuffix, cfg.Engine.GetBufferSize())
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem manager: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := httpclient.New(&httpclient.Config{
		ConnectTimeout: cfg.Engine.GetConnectTimeout(),
		ReadTimeout:    cfg.Engine.GetReadTimeout(),
		BufferSize:     cfg.Engine.GetBufferSize(),
		SkipTLSVerify:  cfg.Engine.SkipTLSVerify,
	})

	dispatcher := event.NewInMemoryDispatcher(true)
	metrics := event.NewMetricsHandler()
	dispatcher.Subscribe(event.NewLoggingHandler(logger))
	dispatcher.Subscribe(metrics)

	pool := bulk.New(&bulk.Config{
		Workers:          cfg.Bulk.Workers,
		QueueSize:        cfg.Bulk.QueueSize,
		BufferSize:       cfg.Engine.GetBufferSize(),
		MaxRedirects:     cfg.Engine.WorkerMaxRedirects,
		ProgressInterval: cfg.Progress.GetLogInterval(),
	}, client, fsManager, logger)

	keepAlive := scheduler.New(&scheduler.Config{IdleTimeout: cfg.Scheduler.GetIdleTimeout()}, logger)

	coord := coordinator.New(&coordinator.Config{
		Worker: &worker.Config{
			BufferSize:          cfg.Engine.GetBufferSize(),
			MaxRedirects:        cfg.Engine.WorkerMaxRedirects,
			BandwidthLimit:      cfg.Engine.GetBandwidthLimit(),
			ProgressLogInterval: cfg.Progress.GetLogInterval(),
			CheckFreeSpace:      cfg.Engine.CheckFreeSpace,
		},
		Progress: &progress.Config{
			MinInterval: cfg.Progress.GetInterval(),
			MinBytes:    cfg.Progress.GetMinBytes(),
		},
		RedirectTimeout: cfg.Engine.GetRedirectTimeout(),
		UserAgent:       cfg.Engine.UserAgent + "/" + version,
		TempSuffix:      cfg.Engine.TempSuffix,
		Namespace:       cfg.Storage.Namespace,
	}, client, fsManager, store, pool, keepAlive, dispatcher, logger)

	return &engine{
		cfg:         cfg,
		logger:      logger,
		fs:          fsManager,
		store:       store,
		dispatcher:  dispatcher,
		metrics:     metrics,
		bulk:        pool,
		scheduler:   keepAlive,
		coordinator: coord,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (port.KeyValueStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	case "blob":
		store, err := blobstore.Open(ctx, cfg.Storage.BlobURL, cfg.Storage.Namespace)
		if err != nil {
			return nil, fmt.Errorf("failed to open blob store: %w", err)
		}
		return store, nil
	default:
		dbPath := cfg.Storage.SQLitePath
		if dbPath == "" {
			dbPath = filepath.Join(cfg.Engine.DownloadDir, "transfers.db")
		}
		store, err := sqlite.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
		}
		return store, nil
	}
}

// run starts the background loops every command needs
func (e *engine) run(ctx context.Context) {
	go func() {
		if err := e.bulk.Start(ctx); err != nil {
			e.logger.Error("bulk pool stopped with error", zap.Error(err))
		}
	}()
	go e.coordinator.Run(ctx)
}

// close stops every worker, persists their state and releases the store
func (e *engine) close() {
	e.scheduler.Teardown()
	e.coordinator.Close()
	e.bulk.Stop()
	e.dispatcher.Close()
	if err := e.store.Close(); err != nil {
		e.logger.Error("failed to close store", zap.Error(err))
	}
	e.logger.Info("transfer totals", zap.Any("metrics", e.metrics.GetMetrics()))
}
