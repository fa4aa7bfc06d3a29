package maintenance

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/port"
)

// Config contains maintenance service configuration
type Config struct {
	// CheckpointInterval is how often transfer state is persisted
	CheckpointInterval time.Duration

	// SweepInterval is how often orphaned temp files are removed
	SweepInterval time.Duration

	// TempFileMaxAge is the minimum age of an orphaned temp file before removal
	TempFileMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		CheckpointInterval: time.Minute,
		SweepInterval:      time.Hour,
		TempFileMaxAge:     24 * time.Hour,
	}
}

// Engine is the part of the transfer engine maintenance works on
type Engine interface {
	SaveState(ctx context.Context) error
	TempPaths() []string
}

// Service handles periodic maintenance tasks
type Service struct {
	config *Config
	engine Engine
	fs     port.FileSystem
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, engine Engine, fs port.FileSystem, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = 24 * time.Hour
	}

	return &Service{
		config: cfg,
		engine: engine,
		fs:     fs,
		logger: logger.Named("maintenance"),
	}
}

// Start starts the maintenance service
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("checkpoint_interval", s.config.CheckpointInterval),
		zap.Duration("sweep_interval", s.config.SweepInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	checkpointTicker := time.NewTicker(s.config.CheckpointInterval)
	defer checkpointTicker.Stop()

	sweepTicker := time.NewTicker(s.config.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkpointTicker.C:
			s.Checkpoint(ctx)
		case <-sweepTicker.C:
			s.Sweep()
		}
	}
}

// Checkpoint persists the state of every resumable transfer
func (s *Service) Checkpoint(ctx context.Context) {
	if err := s.engine.SaveState(ctx); err != nil {
		s.logger.Error("failed to checkpoint transfers", zap.Error(err))
	}
}

// Sweep removes old temp files that no registered transfer owns
func (s *Service) Sweep() int {
	owned := make(map[string]struct{})
	for _, p := range s.engine.TempPaths() {
		owned[filepath.Clean(p)] = struct{}{}
	}

	count, err := s.fs.CleanOldTempFiles(s.config.TempFileMaxAge, func(path string) bool {
		_, ok := owned[filepath.Clean(path)]
		return ok
	})
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
	} else if count > 0 {
		s.logger.Info("cleaned up orphaned temp files", zap.Int("count", count))
	}
	return count
}
