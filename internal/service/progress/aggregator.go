package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/util/ratelimiter"
)

// PercentThreshold is the minimum fractional gain (1%) that stages an update
const PercentThreshold = 0.01

// Config contains aggregator configuration
type Config struct {
	MinInterval time.Duration // minimum time between flushed batches
	MinBytes    int64         // byte delta that stages an update; 0 disables
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MinInterval: time.Second,
		MinBytes:    1024 * 1024,
	}
}

// EmitFunc receives one flushed batch. It is called with the aggregator's
// lock held and must not call back into the aggregator.
type EmitFunc func(batch []domain.ProgressUpdate)

type tracked struct {
	percent float64
	bytes   int64
}

// Aggregator batches byte-progress observations into rate-limited batches
type Aggregator struct {
	mu     sync.Mutex
	config Config
	gate   *ratelimiter.Gate
	emit   EmitFunc

	last   map[string]tracked
	staged map[string]domain.ProgressUpdate
	order  []string

	logger *zap.Logger
}

// New creates a new Aggregator
func New(cfg *Config, emit EmitFunc, logger *zap.Logger) *Aggregator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if emit == nil {
		emit = func([]domain.ProgressUpdate) {}
	}
	return &Aggregator{
		config: *cfg,
		gate:   ratelimiter.New(cfg.MinInterval),
		emit:   emit,
		last:   make(map[string]tracked),
		staged: make(map[string]domain.ProgressUpdate),
		logger: logger.Named("progress"),
	}
}

// Configure replaces the flush interval and byte threshold
func (a *Aggregator) Configure(minInterval time.Duration, minBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if minBytes < 0 {
		minBytes = 0
	}
	a.config = Config{MinInterval: minInterval, MinBytes: minBytes}
	a.gate.SetInterval(minInterval)

	a.logger.Debug("progress reporting configured",
		zap.Duration("interval", minInterval),
		zap.Int64("min_bytes", minBytes))
}

// Config returns the current configuration
func (a *Aggregator) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// Report records an observation for id. It stages the update when the
// percentage gained since the last staged update exceeds 1%, when the byte
// delta reaches MinBytes, or when the total is unknown. It then flushes if
// the interval has elapsed. Returns whether the update was staged.
func (a *Aggregator) Report(id string, downloaded, total int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.last[id]
	known := domain.IsTotalKnown(total)

	var percent float64
	if known {
		percent = float64(downloaded) / float64(total)
	}

	percentMet := known && percent-prev.percent > PercentThreshold
	bytesMet := a.config.MinBytes > 0 && downloaded-prev.bytes >= a.config.MinBytes

	staged := percentMet || bytesMet || !known
	if staged {
		if _, exists := a.staged[id]; !exists {
			a.order = append(a.order, id)
		}
		a.staged[id] = domain.ProgressUpdate{ID: id, BytesDownloaded: downloaded, BytesTotal: total}
		a.last[id] = tracked{percent: percent, bytes: downloaded}
	}

	a.flushIfDueLocked()
	return staged
}

// FlushIfDue flushes staged updates when the interval has elapsed since the
// last flush. Returns the number of updates emitted.
func (a *Aggregator) FlushIfDue() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushIfDueLocked()
}

// Flush emits every staged update regardless of the interval
func (a *Aggregator) Flush() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *Aggregator) flushIfDueLocked() int {
	if len(a.order) == 0 {
		return 0
	}
	if !a.gate.Pass() {
		return 0
	}
	return a.flushLocked()
}

func (a *Aggregator) flushLocked() int {
	if len(a.order) == 0 {
		return 0
	}

	batch := make([]domain.ProgressUpdate, 0, len(a.order))
	for _, id := range a.order {
		batch = append(batch, a.staged[id])
	}
	a.order = a.order[:0]
	clear(a.staged)

	a.emit(batch)
	return len(batch)
}

// Init starts tracking id from zero and drops anything staged for it
func (a *Aggregator) Init(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearPendingLocked(id)
	a.last[id] = tracked{}
}

// ClearPending drops an unflushed staged update for id
func (a *Aggregator) ClearPending(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearPendingLocked(id)
}

// Clear drops all tracking state for id
func (a *Aggregator) Clear(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearPendingLocked(id)
	delete(a.last, id)
}

func (a *Aggregator) clearPendingLocked(id string) {
	if _, ok := a.staged[id]; !ok {
		return
	}
	delete(a.staged, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Pending returns the number of staged updates
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Run flushes due updates on a ticker until done is closed, then flushes the rest.
// The tick is the configured interval, bounded to keep batches timely.
func (a *Aggregator) Run(done <-chan struct{}) {
	tick := a.Config().MinInterval
	if tick <= 0 || tick > time.Second {
		tick = time.Second
	}
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			a.Flush()
			return
		case <-ticker.C:
			a.FlushIfDue()
		}
	}
}
