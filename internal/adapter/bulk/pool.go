package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/port"
)

// ErrQueueFull is returned by Enqueue when no more transfers can be queued
var ErrQueueFull = errors.New("bulk queue is full")

// ErrClosed is returned by Enqueue after Stop
var ErrClosed = errors.New("bulk pool is stopped")

// Config contains bulk pool configuration
type Config struct {
	Workers          int
	QueueSize        int
	BufferSize       int
	MaxRedirects     int
	ProgressInterval time.Duration // minimum time between OnProgress calls; 0 reports every chunk
}

// DefaultConfig returns default bulk pool configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:          3,
		QueueSize:        64,
		BufferSize:       32 * 1024,
		MaxRedirects:     10,
		ProgressInterval: 500 * time.Millisecond,
	}
}

// Pool downloads whole files with a fixed number of workers. Transfers can be
// cancelled but not paused; a cancelled transfer loses its temp file.
type Pool struct {
	config *Config
	client port.HTTPClient
	fs     port.FileSystem
	logger *zap.Logger

	queue chan *job

	mu      sync.Mutex
	jobs    map[string]*job
	closed  bool
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	req    port.BulkRequest
	ctx    context.Context
	cancel context.CancelFunc
}

var _ port.BulkDownloader = (*Pool)(nil)

// New creates a new Pool
func New(cfg *Config, client port.HTTPClient, fs port.FileSystem, logger *zap.Logger) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32 * 1024
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}

	p := &Pool{
		config: cfg,
		client: client,
		fs:     fs,
		logger: logger.Named("bulk"),
		queue:  make(chan *job, cfg.QueueSize),
		jobs:   make(map[string]*job),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Start runs the workers until ctx is done or Stop is called
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("bulk pool already running")
	}
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.running = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	p.logger.Info("bulk pool started", zap.Int("workers", p.config.Workers))

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	<-ctx.Done()
	p.wg.Wait()
	p.drain()
	p.logger.Info("bulk pool stopped")
	return nil
}

// Stop cancels every transfer and stops accepting new ones
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

// Enqueue queues a transfer. OnDone is always called exactly once for an
// accepted transfer.
func (p *Pool) Enqueue(ctx context.Context, req port.BulkRequest) error {
	if req.ID == "" || req.URL == "" || req.TempPath == "" || req.Destination == "" {
		return domain.NewInvalidRequestError("bulk request needs id, url, temp path and destination")
	}

	jctx, cancel := context.WithCancel(p.ctx)
	j := &job{req: req, ctx: jctx, cancel: cancel}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		cancel()
		return ErrClosed
	}

	select {
	case p.queue <- j:
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	default:
		cancel()
		return ErrQueueFull
	}
	p.jobs[req.ID] = j

	p.logger.Debug("queued bulk transfer",
		zap.String("id", req.ID),
		zap.Int("queued", len(p.queue)))
	return nil
}

// Cancel aborts the queued or running transfer for id
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	j, ok := p.jobs[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	j.cancel()
	return true
}

// Len returns the number of queued and running transfers
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("bulk-%d", workerID)
	p.logger.Debug("bulk worker started", zap.String("worker", workerName))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("bulk worker stopped", zap.String("worker", workerName))
			return
		case j := <-p.queue:
			p.run(j, workerName)
		}
	}
}

// drain reports every transfer left in the queue as cancelled
func (p *Pool) drain() {
	for {
		select {
		case j := <-p.queue:
			j.cancel()
			p.complete(j, domain.Cancelled{ID: j.req.ID})
		default:
			return
		}
	}
}

func (p *Pool) run(j *job, workerName string) {
	if j.ctx.Err() != nil {
		p.complete(j, domain.Cancelled{ID: j.req.ID})
		return
	}

	p.logger.Info("bulk transfer started",
		zap.String("worker", workerName),
		zap.String("id", j.req.ID),
		zap.String("url", j.req.URL))

	outcome := p.download(j)
	if _, ok := outcome.(domain.Cancelled); ok {
		if err := p.fs.DeleteTempFile(j.req.TempPath); err != nil {
			p.logger.Warn("failed to delete temp file", zap.String("id", j.req.ID), zap.Error(err))
		}
	}
	p.complete(j, outcome)
}

func (p *Pool) complete(j *job, outcome domain.Outcome) {
	p.mu.Lock()
	if p.jobs[j.req.ID] == j {
		delete(p.jobs, j.req.ID)
	}
	p.mu.Unlock()
	j.cancel()

	p.logger.Debug("bulk transfer finished",
		zap.String("id", j.req.ID),
		zap.String("outcome", domain.OutcomeName(outcome)))

	if j.req.OnDone != nil {
		j.req.OnDone(outcome)
	}
}

func (p *Pool) download(j *job) domain.Outcome {
	req := j.req

	resp, err := p.open(j)
	if err != nil {
		return p.fail(j, err)
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if !domain.IsTotalKnown(total) {
		total = -1
	}
	if req.OnBegin != nil {
		req.OnBegin(total, domain.ResponseHeaders(resp.Header))
	}

	f, err := p.fs.OpenTemp(req.TempPath, true)
	if err != nil {
		return p.fail(j, err)
	}

	reader := &progressReader{
		reader:     resp.Body,
		total:      total,
		interval:   p.config.ProgressInterval,
		onProgress: req.OnProgress,
	}
	written, err := io.CopyBuffer(f, reader, make([]byte, p.config.BufferSize))
	if err != nil {
		f.Close()
		if j.ctx.Err() == nil && !isReadError(err, reader) {
			err = domain.NewFilesystemError(domain.FilesystemCode(err), fmt.Errorf("failed to write temp file: %w", err))
		}
		return p.fail(j, err)
	}
	reader.flush()

	if err := f.Sync(); err != nil {
		f.Close()
		return p.fail(j, domain.NewFilesystemError(domain.FilesystemCode(err), fmt.Errorf("failed to sync temp file: %w", err)))
	}
	if err := f.Close(); err != nil {
		return p.fail(j, domain.NewFilesystemError(domain.FilesystemCode(err), fmt.Errorf("failed to close temp file: %w", err)))
	}
	if j.ctx.Err() != nil {
		return domain.Cancelled{ID: req.ID}
	}

	if err := p.fs.Move(req.TempPath, req.Destination); err != nil {
		return p.fail(j, err)
	}

	if !domain.IsTotalKnown(total) {
		total = written
	}
	p.logger.Info("bulk transfer finished",
		zap.String("id", req.ID),
		zap.String("destination", req.Destination),
		zap.Int64("size", written))

	return domain.Success{ID: req.ID, Location: req.Destination, BytesDownloaded: written, BytesTotal: total}
}

// open issues the GET and follows redirects
func (p *Pool) open(j *job) (*port.Response, error) {
	url := j.req.URL
	for hops := 0; ; hops++ {
		resp, err := p.client.Open(j.ctx, &port.Request{Method: http.MethodGet, URL: url, Headers: j.req.Headers})
		if err != nil {
			return nil, domain.NewTransportError(err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil

		case domain.IsRedirect(resp.StatusCode):
			resp.Body.Close()
			if hops >= p.config.MaxRedirects {
				return nil, domain.NewProtocolError(resp.StatusCode, fmt.Errorf("too many redirects (%d)", hops))
			}
			next, err := domain.ResolveRedirect(url, resp.Header.Get("Location"))
			if err != nil {
				return nil, domain.NewProtocolError(resp.StatusCode, err)
			}
			url = next

		default:
			resp.Body.Close()
			return nil, domain.NewProtocolError(resp.StatusCode, fmt.Errorf("HTTP error: %d", resp.StatusCode))
		}
	}
}

func (p *Pool) fail(j *job, err error) domain.Outcome {
	if j.ctx.Err() != nil {
		return domain.Cancelled{ID: j.req.ID}
	}
	if domain.KindOf(err) == "" {
		err = domain.NewTransportError(err)
	}
	p.logger.Warn("bulk transfer failed",
		zap.String("id", j.req.ID),
		zap.Int("code", domain.CodeOf(err)),
		zap.Error(err))
	return domain.FailureFromError(j.req.ID, err)
}

func isReadError(err error, r *progressReader) bool {
	return r.err != nil && errors.Is(err, r.err)
}

// progressReader wraps a reader to report download progress
type progressReader struct {
	reader     io.Reader
	total      int64
	bytesRead  int64
	interval   time.Duration
	lastUpdate time.Time
	onProgress func(downloaded, total int64)
	err        error
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytesRead += int64(n)
	if err != nil && err != io.EOF {
		r.err = err
	}

	// Periodically report progress
	if n > 0 && time.Since(r.lastUpdate) >= r.interval {
		r.flush()
	}

	return n, err
}

func (r *progressReader) flush() {
	if r.onProgress != nil {
		r.onProgress(r.bytesRead, r.total)
	}
	r.lastUpdate = time.Now()
}
