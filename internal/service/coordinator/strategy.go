package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/port"
)

// strategy executes transfers of one kind. It is chosen once per transfer
// when it starts.
type strategy interface {
	// launch starts executing tok's session once predecessor has exited
	launch(tok domain.Token, predecessor *domain.WorkerHandle)
	// stop force-closes whatever is executing s
	stop(s *domain.DownloadSession)
	pausable() bool
}

// rangeStrategy runs one range-resumable worker per attempt
type rangeStrategy struct {
	c *Coordinator
}

func (r *rangeStrategy) launch(tok domain.Token, predecessor *domain.WorkerHandle) {
	c := r.c
	s := tok.Session()

	ctx, cancel := context.WithCancel(c.ctx)
	h := domain.NewWorkerHandle(cancel)
	if prev := s.AttachWorker(h); prev != nil {
		predecessor = prev
	}

	c.acquire(s.ID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(s.ID)
		defer h.Finish()
		defer cancel()

		if err := predecessor.Wait(ctx); err != nil {
			c.logger.Debug("stopped while waiting for previous worker",
				zap.String("id", s.ID),
				zap.Error(err))
		}
		c.onOutcome(tok, c.worker.Run(ctx, tok))
	}()
}

func (r *rangeStrategy) stop(s *domain.DownloadSession) {
	if w := s.Worker(); w != nil {
		w.Stop()
	}
}

func (r *rangeStrategy) pausable() bool { return true }

// bulkStrategy hands whole transfers to a bulk download facility
type bulkStrategy struct {
	c    *Coordinator
	bulk port.BulkDownloader
}

func (b *bulkStrategy) launch(tok domain.Token, predecessor *domain.WorkerHandle) {
	c := b.c
	s := tok.Session()

	h := domain.NewWorkerHandle(func() { b.bulk.Cancel(s.ID) })
	if prev := s.AttachWorker(h); prev != nil {
		predecessor = prev
	}

	req := port.BulkRequest{
		ID:          s.ID,
		URL:         s.URL(),
		Destination: s.Destination,
		TempPath:    s.TempPath,
		Headers:     s.Headers.Clone(),
		OnBegin: func(expected int64, headers map[string]string) {
			c.registry.Guard(tok, func() { s.SetBytesTotal(expected) })
			reporter{c}.Begin(tok, expected, headers)
		},
		OnProgress: func(downloaded, total int64) {
			c.registry.Guard(tok, func() {
				s.SetBytesDownloaded(downloaded)
				s.SetBytesTotal(total)
			})
			reporter{c}.Progress(tok, downloaded, total)
		},
		OnDone: func(outcome domain.Outcome) {
			defer c.release(s.ID)
			defer h.Finish()
			c.onOutcome(tok, outcome)
		},
	}

	c.acquire(s.ID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := predecessor.Wait(c.ctx); err != nil {
			req.OnDone(domain.Cancelled{ID: s.ID})
			return
		}
		if err := b.bulk.Enqueue(c.ctx, req); err != nil {
			req.OnDone(domain.FailureFromError(s.ID, fmt.Errorf("failed to enqueue bulk transfer: %w", err)))
		}
	}()
}

func (b *bulkStrategy) stop(s *domain.DownloadSession) {
	if w := s.Worker(); w != nil {
		w.Stop()
	}
}

func (b *bulkStrategy) pausable() bool { return false }

func (c *Coordinator) acquire(id string) {
	if c.scheduler != nil {
		c.scheduler.Acquire(id)
	}
}

func (c *Coordinator) release(id string) {
	if c.scheduler != nil {
		c.scheduler.Release(id)
	}
}
