package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
)

// Persisted keys, prefixed with the namespace
const (
	keyTransfers        = "transfers"
	keyProgressInterval = "progressInterval"
	keyProgressMinBytes = "progressMinBytes"
)

func (c *Coordinator) key(name string) string {
	return c.config.Namespace + "_" + name
}

// ConfigureProgress changes progress batching and persists it
func (c *Coordinator) ConfigureProgress(ctx context.Context, interval time.Duration, minBytes int64) error {
	c.aggregator.Configure(interval, minBytes)
	if c.store == nil {
		return nil
	}
	if err := c.store.Set(ctx, c.key(keyProgressInterval), strconv.FormatInt(interval.Milliseconds(), 10)); err != nil {
		return fmt.Errorf("failed to save progress interval: %w", err)
	}
	if err := c.store.Set(ctx, c.key(keyProgressMinBytes), strconv.FormatInt(minBytes, 10)); err != nil {
		return fmt.Errorf("failed to save progress min bytes: %w", err)
	}
	return nil
}

// SaveState persists a snapshot of every resumable transfer
func (c *Coordinator) SaveState(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	snapshots := make(map[string]domain.TransferSnapshot)
	for _, s := range c.registry.Sessions() {
		if s.Strategy != domain.StrategyRange || s.IsCancelled() || s.State().IsTerminal() {
			continue
		}
		snapshots[s.ID] = s.Snapshot()
	}

	data, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("failed to encode transfers: %w", err)
	}
	if err := c.store.Set(ctx, c.key(keyTransfers), string(data)); err != nil {
		return fmt.Errorf("failed to save transfers: %w", err)
	}
	return nil
}

func (c *Coordinator) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.PersistTimeout)
	defer cancel()
	if err := c.SaveState(ctx); err != nil {
		c.logger.Warn("failed to persist transfer state", zap.Error(err))
	}
}

// LoadSnapshots returns the persisted transfers
func (c *Coordinator) LoadSnapshots(ctx context.Context) (map[string]domain.TransferSnapshot, error) {
	snapshots := make(map[string]domain.TransferSnapshot)
	if c.store == nil {
		return snapshots, nil
	}

	raw, ok, err := c.store.Get(ctx, c.key(keyTransfers))
	if err != nil {
		return nil, fmt.Errorf("failed to load transfers: %w", err)
	}
	if !ok || raw == "" {
		return snapshots, nil
	}
	if err := json.Unmarshal([]byte(raw), &snapshots); err != nil {
		return nil, fmt.Errorf("failed to decode transfers: %w", err)
	}
	return snapshots, nil
}

// Restore reloads persisted progress configuration and registers every
// persisted transfer as a paused session, ready for Resume. Transfers already
// registered are left alone. Returns the number restored.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	c.restoreProgressConfig(ctx)

	snapshots, err := c.LoadSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for id, snap := range snapshots {
		if _, exists := c.registry.Get(id); exists {
			continue
		}

		start := snap.BytesDownloaded
		tempPath := domain.TempPath(snap.Destination, c.config.TempSuffix)
		if size, _, err := c.fs.GetTempFileInfo(tempPath); err != nil {
			start = 0
		} else if size != start {
			start = size
		}

		tok, _ := c.registry.Create(domain.SessionParams{
			ID:          id,
			URL:         snap.URL,
			Destination: snap.Destination,
			TempPath:    tempPath,
			Headers:     snap.Headers,
			Metadata:    snap.Metadata,
			Strategy:    domain.StrategyRange,
			StartByte:   start,
			TotalHint:   snap.BytesTotal,
		})
		s := tok.Session()
		s.SetPaused(true)
		_ = s.Transition(domain.StatePaused)
		restored++

		c.logger.Info("restored transfer",
			zap.String("id", id),
			zap.Int64("bytes_downloaded", start),
			zap.Int64("bytes_total", s.BytesTotal()))
	}

	return restored, nil
}

func (c *Coordinator) restoreProgressConfig(ctx context.Context) {
	cur := c.aggregator.Config()
	interval, minBytes := cur.MinInterval, cur.MinBytes

	if v, ok, err := c.store.Get(ctx, c.key(keyProgressInterval)); err == nil && ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			interval = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok, err := c.store.Get(ctx, c.key(keyProgressMinBytes)); err == nil && ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			minBytes = n
		}
	}

	if interval != cur.MinInterval || minBytes != cur.MinBytes {
		c.aggregator.Configure(interval, minBytes)
	}
}
