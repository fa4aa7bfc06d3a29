package event

import (
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case TransferBegan:
		expected := "unknown"
		if domain.IsTotalKnown(e.ExpectedBytes) {
			expected = humanize.IBytes(uint64(e.ExpectedBytes))
		}
		h.logger.Info("transfer began",
			zap.String("id", e.ID),
			zap.String("expected", expected),
		)
	case TransferProgress:
		for _, u := range e.Updates {
			h.logger.Debug("transfer progress",
				zap.String("id", u.ID),
				zap.Int64("bytes_downloaded", u.BytesDownloaded),
				zap.Int64("bytes_total", u.BytesTotal),
			)
		}
	case TransferCompleted:
		h.logger.Info("transfer completed",
			zap.String("id", e.ID),
			zap.String("location", e.Location),
			zap.String("size", humanize.IBytes(uint64(max(e.BytesDownloaded, 0)))),
		)
	case TransferFailed:
		h.logger.Warn("transfer failed",
			zap.String("id", e.ID),
			zap.String("error", e.Message),
			zap.Int("code", e.Code),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"} // Handle all events
}

// MetricsHandler collects metrics from events
type MetricsHandler struct {
	mu sync.Mutex

	transfersBegan     int64
	transfersCompleted int64
	transfersFailed    int64
	progressBatches    int64
	progressUpdates    int64
	bytesCompleted     int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch e := event.(type) {
	case TransferBegan:
		h.transfersBegan++
	case TransferProgress:
		h.progressBatches++
		h.progressUpdates += int64(len(e.Updates))
	case TransferCompleted:
		h.transfersCompleted++
		h.bytesCompleted += e.BytesDownloaded
	case TransferFailed:
		h.transfersFailed++
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameTransferBegan,
		NameTransferProgress,
		NameTransferCompleted,
		NameTransferFailed,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return map[string]int64{
		"transfers_began":     h.transfersBegan,
		"transfers_completed": h.transfersCompleted,
		"transfers_failed":    h.transfersFailed,
		"progress_batches":    h.progressBatches,
		"progress_updates":    h.progressUpdates,
		"bytes_completed":     h.bytesCompleted,
	}
}

// HandlerFunc adapts a function to EventHandler for a fixed set of event names
type HandlerFunc struct {
	Names []string
	Fn    func(DomainEvent)
}

// Handle calls Fn
func (h *HandlerFunc) Handle(event DomainEvent) error {
	h.Fn(event)
	return nil
}

// HandledEvents returns Names
func (h *HandlerFunc) HandledEvents() []string {
	return h.Names
}
