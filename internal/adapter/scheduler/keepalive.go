package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/port"
)

// Config contains keep-alive configuration
type Config struct {
	// IdleTimeout stops Run once no transfer has been running for this long.
	// 0 keeps running until the context is done.
	IdleTimeout time.Duration
}

// KeepAlive keeps a host process running while transfers run and tears the
// engine down before the process stops.
type KeepAlive struct {
	config *Config
	logger *zap.Logger

	mu       sync.Mutex
	active   map[string]int
	hooks    []func()
	idle     *time.Timer
	idleCh   chan struct{}
	torndown bool
}

var _ port.Scheduler = (*KeepAlive)(nil)

// New creates a new KeepAlive
func New(cfg *Config, logger *zap.Logger) *KeepAlive {
	if cfg == nil {
		cfg = &Config{}
	}
	return &KeepAlive{
		config: cfg,
		logger: logger.Named("scheduler"),
		active: make(map[string]int),
		idleCh: make(chan struct{}, 1),
	}
}

// Acquire marks id as running
func (k *KeepAlive) Acquire(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.active[id]++
	if k.idle != nil {
		k.idle.Stop()
		k.idle = nil
	}
}

// Release marks one run of id as finished. When nothing is left running the
// idle timer starts.
func (k *KeepAlive) Release(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	n, ok := k.active[id]
	if !ok {
		return
	}
	if n <= 1 {
		delete(k.active, id)
	} else {
		k.active[id] = n - 1
	}

	if len(k.active) == 0 && k.config.IdleTimeout > 0 && !k.torndown {
		k.logger.Debug("no running transfers, idle timer started", zap.Duration("timeout", k.config.IdleTimeout))
		if k.idle != nil {
			k.idle.Stop()
		}
		k.idle = time.AfterFunc(k.config.IdleTimeout, k.fireIdle)
	}
}

func (k *KeepAlive) fireIdle() {
	k.mu.Lock()
	stillIdle := len(k.active) == 0
	k.mu.Unlock()
	if !stillIdle {
		return
	}
	select {
	case k.idleCh <- struct{}{}:
	default:
	}
}

// OnTeardown registers fn to run before the scheduler stops
func (k *KeepAlive) OnTeardown(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hooks = append(k.hooks, fn)
}

// Active returns the number of ids currently running
func (k *KeepAlive) Active() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.active)
}

// Run blocks until ctx is done or the idle timeout elapses, then runs the
// teardown hooks.
func (k *KeepAlive) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		k.logger.Info("stopping", zap.String("reason", "shutdown"))
	case <-k.idleCh:
		k.logger.Info("stopping", zap.String("reason", "idle"))
	}
	k.Teardown()
	return nil
}

// Teardown runs every hook once, in registration order
func (k *KeepAlive) Teardown() {
	k.mu.Lock()
	if k.torndown {
		k.mu.Unlock()
		return
	}
	k.torndown = true
	if k.idle != nil {
		k.idle.Stop()
		k.idle = nil
	}
	hooks := append([]func(){}, k.hooks...)
	k.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
