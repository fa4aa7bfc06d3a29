package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/domain/event"
	"github.com/vertextoedge/resumable-downloader/internal/port"
	"github.com/vertextoedge/resumable-downloader/internal/service/progress"
	"github.com/vertextoedge/resumable-downloader/internal/service/registry"
	"github.com/vertextoedge/resumable-downloader/internal/service/worker"
)

// KeepAliveHeader is sent with every request unless the caller overrides it
const KeepAliveHeader = "timeout=600, max=1000"

// Config contains coordinator configuration
type Config struct {
	Worker          *worker.Config
	Progress        *progress.Config
	RedirectTimeout time.Duration // per pre-resolution hop
	UserAgent       string
	TempSuffix      string
	Namespace       string // prefix of persisted keys
	PersistTimeout  time.Duration
}

// DefaultConfig returns default coordinator configuration
func DefaultConfig() *Config {
	return &Config{
		Worker:          worker.DefaultConfig(),
		Progress:        progress.DefaultConfig(),
		RedirectTimeout: 10 * time.Second,
		UserAgent:       "resumable-downloader",
		TempSuffix:      domain.DefaultTempSuffix,
		Namespace:       "rdl",
		PersistTimeout:  5 * time.Second,
	}
}

// StartRequest describes a transfer to start
type StartRequest struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Destination string            `json:"destination"`
	Headers     map[string]string `json:"headers,omitempty"`
	Metadata    string            `json:"metadata,omitempty"`

	// StartByte resumes from an existing temp file of that size
	StartByte int64 `json:"start_byte,omitempty"`
	// TotalHint is the expected size; <= 0 is unknown
	TotalHint int64 `json:"total_hint,omitempty"`

	// MaxRedirects bounds redirect pre-resolution; 0 disables it
	MaxRedirects int `json:"max_redirects,omitempty"`
	// Bulk hands the transfer to the bulk facility, which cannot pause
	Bulk bool `json:"bulk,omitempty"`

	ProgressInterval time.Duration `json:"progress_interval,omitempty"`
	ProgressMinBytes int64         `json:"progress_min_bytes,omitempty"`
}

// Validate checks the fields every transfer needs
func (r *StartRequest) Validate() error {
	switch {
	case r.ID == "":
		return domain.NewInvalidRequestError("id must be set")
	case r.URL == "":
		return domain.NewInvalidRequestError("url must be set")
	case r.Destination == "":
		return domain.NewInvalidRequestError("destination must be set")
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.NewInvalidRequestError(fmt.Sprintf("unsupported url %q", r.URL))
	}
	if r.StartByte < 0 {
		return domain.NewInvalidRequestError("start byte must not be negative")
	}
	return nil
}

// Coordinator owns the lifecycle of every transfer: start, pause, resume,
// cancel, and the interpretation of worker outcomes.
type Coordinator struct {
	config     *Config
	client     port.HTTPClient
	fs         port.FileSystem
	store      port.KeyValueStore
	scheduler  port.Scheduler
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	registry   *registry.Registry
	aggregator *progress.Aggregator
	worker     *worker.Worker
	strategies map[domain.Strategy]strategy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	persistMu sync.Mutex
}

// New creates a new Coordinator. store, bulk and scheduler may be nil.
func New(
	cfg *Config,
	client port.HTTPClient,
	fs port.FileSystem,
	store port.KeyValueStore,
	bulk port.BulkDownloader,
	scheduler port.Scheduler,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Worker == nil {
		cfg.Worker = worker.DefaultConfig()
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.DefaultConfig()
	}
	if cfg.RedirectTimeout == 0 {
		cfg.RedirectTimeout = 10 * time.Second
	}
	if cfg.TempSuffix == "" {
		cfg.TempSuffix = domain.DefaultTempSuffix
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "rdl"
	}
	if cfg.PersistTimeout == 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	c := &Coordinator{
		config:     cfg,
		client:     client,
		fs:         fs,
		store:      store,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		logger:     logger.Named("coordinator"),
		registry:   registry.New(logger),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.aggregator = progress.New(cfg.Progress, func(batch []domain.ProgressUpdate) {
		c.dispatcher.Dispatch(event.NewTransferProgress(batch))
	}, logger)
	c.worker = worker.New(cfg.Worker, client, fs, reporter{c}, logger)

	c.strategies = map[domain.Strategy]strategy{
		domain.StrategyRange: &rangeStrategy{c: c},
	}
	if bulk != nil {
		c.strategies[domain.StrategyBulk] = &bulkStrategy{c: c, bulk: bulk}
	}

	if scheduler != nil {
		scheduler.OnTeardown(c.Suspend)
	}

	return c
}

// Start validates req, resolves redirects if asked to, and launches the
// transfer. An existing transfer with the same id is superseded.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) error {
	if err := req.Validate(); err != nil {
		c.logger.Warn("rejected start request",
			zap.String("id", req.ID),
			zap.Error(err))
		return err
	}

	if req.ProgressInterval > 0 || req.ProgressMinBytes > 0 {
		cur := c.aggregator.Config()
		interval, minBytes := cur.MinInterval, cur.MinBytes
		if req.ProgressInterval > 0 {
			interval = req.ProgressInterval
		}
		if req.ProgressMinBytes > 0 {
			minBytes = req.ProgressMinBytes
		}
		if err := c.ConfigureProgress(ctx, interval, minBytes); err != nil {
			c.logger.Warn("failed to persist progress configuration", zap.Error(err))
		}
	}

	headers := domain.HeadersFromMap(req.Headers).WithDefaults(c.defaultHeaders())

	source := req.URL
	if req.MaxRedirects > 0 {
		source = c.resolveRedirects(ctx, req.URL, headers, req.MaxRedirects)
	}

	kind := domain.StrategyRange
	if req.Bulk {
		if _, ok := c.strategies[domain.StrategyBulk]; ok {
			kind = domain.StrategyBulk
		} else {
			c.logger.Warn("bulk facility not configured, using range strategy", zap.String("id", req.ID))
		}
	}

	dest := c.fs.Resolve(req.Destination)
	tok, predecessor := c.registry.Create(domain.SessionParams{
		ID:          req.ID,
		URL:         source,
		Destination: dest,
		TempPath:    domain.TempPath(dest, c.config.TempSuffix),
		Headers:     headers,
		Metadata:    req.Metadata,
		Strategy:    kind,
		StartByte:   req.StartByte,
		TotalHint:   req.TotalHint,
	})
	c.aggregator.Init(req.ID)

	c.logger.Info("transfer started",
		zap.String("id", req.ID),
		zap.String("url", source),
		zap.String("destination", dest),
		zap.String("strategy", string(kind)),
		zap.Uint64("generation", tok.Generation()),
		zap.Int64("start_byte", req.StartByte))

	c.strategies[kind].launch(tok, predecessor)
	c.persist()
	return nil
}

// Pause stops a running range transfer and records where it stopped.
// It returns false if there is nothing running to pause.
func (c *Coordinator) Pause(id string) bool {
	s, ok := c.registry.Get(id)
	if !ok || s.IsCancelled() || s.State() != domain.StateRunning {
		return false
	}
	if !c.strategyOf(s).pausable() {
		c.logger.Warn("transfer cannot be paused", zap.String("id", id), zap.String("strategy", string(s.Strategy)))
		return false
	}
	if !s.SetPaused(true) {
		return false
	}

	tok := s.Advance()
	if err := s.Transition(domain.StatePaused); err != nil {
		c.logger.Debug("pause raced with another transition", zap.String("id", id), zap.Error(err))
	}
	c.aggregator.ClearPending(id)
	if w := s.Worker(); w != nil {
		w.Stop()
	}
	c.persist()

	c.logger.Info("transfer paused",
		zap.String("id", id),
		zap.Uint64("generation", tok.Generation()),
		zap.Int64("bytes_downloaded", s.BytesDownloaded()),
		zap.Int64("bytes_total", s.BytesTotal()))
	return true
}

// Resume restarts a paused transfer from its byte counter.
// It returns false if no paused transfer exists for id.
func (c *Coordinator) Resume(id string) bool {
	s, ok := c.registry.Get(id)
	if !ok || s.IsCancelled() || !c.strategyOf(s).pausable() {
		return false
	}
	if !s.SetPaused(false) {
		return false
	}

	tok := s.Advance()
	if err := s.Transition(domain.StateRunning); err != nil {
		c.logger.Debug("resume raced with another transition", zap.String("id", id), zap.Error(err))
	}
	c.aggregator.Init(id)

	c.logger.Info("transfer resumed",
		zap.String("id", id),
		zap.Uint64("generation", tok.Generation()),
		zap.Int64("start_byte", s.BytesDownloaded()))

	c.strategyOf(s).launch(tok, nil)
	c.persist()
	return true
}

// Cancel aborts a transfer, deletes its temp file and forgets it.
// It returns false if nothing was active for id.
func (c *Coordinator) Cancel(id string) bool {
	s, ok := c.registry.Get(id)
	if !ok || !s.MarkCancelled() {
		return false
	}

	s.Advance()
	if err := s.Transition(domain.StateCancelled); err != nil {
		c.logger.Debug("cancel raced with another transition", zap.String("id", id), zap.Error(err))
	}
	c.aggregator.Clear(id)
	c.strategyOf(s).stop(s)

	if err := c.fs.DeleteTempFile(s.TempPath); err != nil {
		c.logger.Warn("failed to delete temp file",
			zap.String("id", id),
			zap.String("path", s.TempPath),
			zap.Error(err))
	}
	c.registry.RemoveSession(s)
	c.persist()

	c.logger.Info("transfer cancelled", zap.String("id", id))
	return true
}

// ListActive returns every known transfer, oldest first
func (c *Coordinator) ListActive() []domain.ActiveTransfer {
	return c.registry.List()
}

// Get returns the listActive view of one transfer
func (c *Coordinator) Get(id string) (domain.ActiveTransfer, bool) {
	s, ok := c.registry.Get(id)
	if !ok {
		return domain.ActiveTransfer{}, false
	}
	return s.Active(), true
}

// TempPaths returns the temp file of every registered transfer
func (c *Coordinator) TempPaths() []string {
	sessions := c.registry.Sessions()
	paths := make([]string, 0, len(sessions))
	for _, s := range sessions {
		paths = append(paths, s.TempPath)
	}
	return paths
}

// State returns the state machine position of id; unknown ids are idle
func (c *Coordinator) State(id string) domain.TransferState {
	s, ok := c.registry.Get(id)
	if !ok {
		return domain.StateIdle
	}
	return s.State()
}

// Suspend pauses every running range transfer. It is the scheduler's
// teardown hook.
func (c *Coordinator) Suspend() {
	paused := 0
	for _, s := range c.registry.Sessions() {
		if s.State() == domain.StateRunning && c.strategyOf(s).pausable() && c.Pause(s.ID) {
			paused++
		}
	}
	if paused > 0 {
		c.logger.Info("suspended running transfers", zap.Int("count", paused))
	}
}

// Run drives the progress aggregator until ctx is done
func (c *Coordinator) Run(ctx context.Context) {
	c.aggregator.Run(ctx.Done())
}

// Close stops every worker and waits for them to exit. Range transfers that
// were still running end up paused and persisted.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
	c.aggregator.Flush()
	c.persist()
}

// Registry exposes the session registry
func (c *Coordinator) Registry() *registry.Registry {
	return c.registry
}

// Aggregator exposes the progress aggregator
func (c *Coordinator) Aggregator() *progress.Aggregator {
	return c.aggregator
}

func (c *Coordinator) defaultHeaders() domain.Headers {
	return domain.Headers{
		{Name: "User-Agent", Value: c.config.UserAgent},
		{Name: "Connection", Value: "keep-alive"},
		{Name: "Keep-Alive", Value: KeepAliveHeader},
	}
}

func (c *Coordinator) strategyOf(s *domain.DownloadSession) strategy {
	if st, ok := c.strategies[s.Strategy]; ok {
		return st
	}
	return c.strategies[domain.StrategyRange]
}

// onOutcome is the single place a worker outcome is interpreted. Outcomes
// from a stale token are dropped.
func (c *Coordinator) onOutcome(tok domain.Token, outcome domain.Outcome) {
	s := tok.Session()
	persist := false

	delivered := c.registry.Guard(tok, func() {
		switch o := outcome.(type) {
		case domain.Success:
			_ = s.Transition(domain.StateCompleted)
			c.aggregator.Clear(s.ID)
			c.registry.RemoveSession(s)
			c.dispatcher.Dispatch(event.NewTransferCompleted(o.ID, o.Location, o.BytesDownloaded, o.BytesTotal))
			persist = true

		case domain.Failure:
			_ = s.Transition(domain.StateFailed)
			c.aggregator.Clear(s.ID)
			c.registry.RemoveSession(s)
			c.dispatcher.Dispatch(event.NewTransferFailed(o.ID, o.Message, o.Code))
			persist = true

		case domain.Paused:
			// A pause() already recorded the state. A paused outcome with a
			// current token means the worker was stopped by shutdown.
			if s.SetPaused(true) {
				_ = s.Transition(domain.StatePaused)
				c.aggregator.ClearPending(s.ID)
				persist = true
			}
		}
	})

	c.logger.Debug("worker outcome",
		zap.String("id", tok.ID()),
		zap.Uint64("generation", tok.Generation()),
		zap.String("outcome", domain.OutcomeName(outcome)),
		zap.Bool("delivered", delivered))

	if persist {
		c.persist()
	}
}

// reporter forwards worker observations, dropping stale ones
type reporter struct {
	c *Coordinator
}

var _ worker.Reporter = reporter{}

func (r reporter) Begin(tok domain.Token, expected int64, headers map[string]string) {
	s := tok.Session()
	r.c.registry.Guard(tok, func() {
		if s.ClaimBegin() {
			r.c.dispatcher.Dispatch(event.NewTransferBegan(s.ID, expected, headers))
		}
	})
}

func (r reporter) Progress(tok domain.Token, downloaded, total int64) {
	r.c.registry.Guard(tok, func() {
		r.c.aggregator.Report(tok.ID(), downloaded, total)
	})
}
