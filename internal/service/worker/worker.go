package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/port"
)

// Config contains worker configuration
type Config struct {
	BufferSize          int           // bytes per body read
	MaxRedirects        int           // hops followed inside one attempt
	BandwidthLimit      int64         // bytes per second across all workers; 0 is unlimited
	ProgressLogInterval time.Duration // debug progress log throttle
	CheckFreeSpace      bool          // fail early when the volume cannot hold the rest of the file
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize:          8192,
		MaxRedirects:        10,
		ProgressLogInterval: 500 * time.Millisecond,
		CheckFreeSpace:      true,
	}
}

// Reporter receives worker observations. Every call carries the worker's
// token and must be dropped when the token is no longer current.
type Reporter interface {
	Begin(tok domain.Token, expected int64, headers map[string]string)
	Progress(tok domain.Token, downloaded, total int64)
}

// Worker executes single attempts of range-resumable transfers
type Worker struct {
	config   *Config
	client   port.HTTPClient
	fs       port.FileSystem
	reporter Reporter
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// New creates a new Worker
func New(cfg *Config, client port.HTTPClient, fs port.FileSystem, reporter Reporter, logger *zap.Logger) *Worker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8192
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}
	if cfg.ProgressLogInterval <= 0 {
		cfg.ProgressLogInterval = 500 * time.Millisecond
	}

	w := &Worker{
		config:   cfg,
		client:   client,
		fs:       fs,
		reporter: reporter,
		logger:   logger.Named("worker"),
	}
	if cfg.BandwidthLimit > 0 {
		burst := max(int(cfg.BandwidthLimit), cfg.BufferSize)
		w.limiter = rate.NewLimiter(rate.Limit(cfg.BandwidthLimit), burst)
	}
	return w
}

// attempt is the per-execution state of one Run
type attempt struct {
	tok     domain.Token
	session *domain.DownloadSession
	logger  *zap.Logger
	logs    rate.Sometimes
}

// Run performs one execution attempt for the session behind tok, starting at
// its byte counter, and returns how it ended. A worker of a cancelled session
// removes its temp file before returning.
func (w *Worker) Run(ctx context.Context, tok domain.Token) domain.Outcome {
	s := tok.Session()
	a := &attempt{
		tok:     tok,
		session: s,
		logger:  w.logger.With(zap.String("id", s.ID), zap.Uint64("generation", tok.Generation())),
		logs:    rate.Sometimes{Interval: w.config.ProgressLogInterval},
	}

	outcome := w.run(ctx, a)

	if s.IsCancelled() {
		if err := w.fs.DeleteTempFile(s.TempPath); err != nil {
			a.logger.Warn("failed to delete temp file of cancelled transfer", zap.Error(err))
		}
	}

	a.logger.Debug("worker finished", zap.String("outcome", domain.OutcomeName(outcome)))
	return outcome
}

func (w *Worker) run(ctx context.Context, a *attempt) domain.Outcome {
	s := a.session

	if o, stop := w.checkpoint(a); stop {
		return o
	}

	offset := w.reconcile(a)
	url := s.URL()

	for hops := 0; ; hops++ {
		headers := requestHeaders(s.Headers, offset)

		a.logger.Debug("opening connection",
			zap.String("url", url),
			zap.Int64("offset", offset))

		resp, err := w.client.Open(ctx, &port.Request{Method: http.MethodGet, URL: url, Headers: headers})
		if err != nil {
			return w.classify(ctx, a, domain.NewTransportError(err))
		}

		if o, stop := w.checkpoint(a); stop {
			resp.Body.Close()
			return o
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if offset > 0 {
				a.logger.Info("server ignored range request, restarting from zero",
					zap.Int64("discarded", offset))
				s.SetBytesDownloaded(0)
				offset = 0
			}
			s.SetBytesTotal(resp.ContentLength)
			w.begin(a, resp)
			return w.stream(ctx, a, resp.Body, true)

		case resp.StatusCode == http.StatusPartialContent:
			if err := w.applyContentRange(a, resp, offset); err != nil {
				resp.Body.Close()
				return w.classify(ctx, a, err)
			}
			w.begin(a, resp)
			return w.stream(ctx, a, resp.Body, offset == 0)

		case domain.IsRedirect(resp.StatusCode):
			location := resp.Header.Get("Location")
			resp.Body.Close()
			if hops >= w.config.MaxRedirects {
				return w.classify(ctx, a, domain.NewProtocolError(resp.StatusCode,
					fmt.Errorf("too many redirects (%d)", hops)))
			}
			next, err := domain.ResolveRedirect(url, location)
			if err != nil {
				return w.classify(ctx, a, domain.NewProtocolError(resp.StatusCode, err))
			}
			a.logger.Debug("following redirect",
				zap.Int("status", resp.StatusCode),
				zap.String("location", next))
			s.SetURL(next)
			url = next

		case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
			resp.Body.Close()
			return w.rangeNotSatisfiable(ctx, a, resp)

		default:
			resp.Body.Close()
			return w.classify(ctx, a, domain.NewProtocolError(resp.StatusCode,
				fmt.Errorf("HTTP error: %d", resp.StatusCode)))
		}
	}
}

// reconcile trusts the temp file over the counter when they disagree
func (w *Worker) reconcile(a *attempt) int64 {
	s := a.session
	offset := s.BytesDownloaded()
	if offset <= 0 {
		return 0
	}

	size, _, err := w.fs.GetTempFileInfo(s.TempPath)
	if err != nil {
		a.logger.Warn("temp file not found, starting fresh",
			zap.Int64("expected", offset),
			zap.Error(err))
		s.SetBytesDownloaded(0)
		return 0
	}
	if size != offset {
		a.logger.Info("temp file size differs from saved progress, using file size",
			zap.Int64("saved", offset),
			zap.Int64("actual", size))
		s.SetBytesDownloaded(size)
	}
	return size
}

func requestHeaders(base domain.Headers, offset int64) domain.Headers {
	out := make(domain.Headers, 0, len(base)+1)
	for _, h := range base {
		if strings.EqualFold(h.Name, "Range") {
			continue
		}
		out = append(out, h)
	}
	if offset > 0 {
		out = append(out, domain.Header{Name: "Range", Value: "bytes=" + strconv.FormatInt(offset, 10) + "-"})
	}
	return out
}

func (w *Worker) applyContentRange(a *attempt, resp *port.Response, offset int64) error {
	s := a.session

	header := resp.Header.Get("Content-Range")
	if header == "" {
		// Some servers answer a range request with 206 and no Content-Range.
		if resp.ContentLength > 0 {
			s.SetBytesTotal(offset + resp.ContentLength)
		}
		return nil
	}

	cr, err := parseContentRange(header)
	if err != nil {
		return domain.NewProtocolError(resp.StatusCode, err)
	}
	if cr.Start != offset {
		return domain.NewProtocolError(resp.StatusCode,
			fmt.Errorf("Content-Range starts at %d, expected %d", cr.Start, offset))
	}

	switch {
	case domain.IsTotalKnown(cr.Total):
		s.SetBytesTotal(cr.Total)
	case resp.ContentLength > 0:
		s.SetBytesTotal(offset + resp.ContentLength)
	default:
		s.SetBytesTotal(-1)
	}
	return nil
}

func (w *Worker) begin(a *attempt, resp *port.Response) {
	if a.session.HasReportedBegin() {
		return
	}
	w.reporter.Begin(a.tok, a.session.BytesTotal(), domain.ResponseHeaders(resp.Header))
}

// rangeNotSatisfiable treats a 416 as completion when the temp file already
// holds the whole entity
func (w *Worker) rangeNotSatisfiable(ctx context.Context, a *attempt, resp *port.Response) domain.Outcome {
	s := a.session

	total := s.BytesTotal()
	if !domain.IsTotalKnown(total) {
		if cr, err := parseContentRange(resp.Header.Get("Content-Range")); err == nil && domain.IsTotalKnown(cr.Total) {
			total = cr.Total
			s.SetBytesTotal(total)
		}
	}

	size, _, err := w.fs.GetTempFileInfo(s.TempPath)
	if err == nil && domain.IsTotalKnown(total) && size >= total {
		a.logger.Info("range not satisfiable but temp file is complete",
			zap.Int64("size", size),
			zap.Int64("total", total))
		s.SetBytesDownloaded(size)
		return w.finish(ctx, a)
	}

	return w.classify(ctx, a, domain.NewProtocolError(resp.StatusCode,
		fmt.Errorf("range not satisfiable at offset %d", s.BytesDownloaded())))
}

// stream copies body into the temp file chunk by chunk
func (w *Worker) stream(ctx context.Context, a *attempt, body io.ReadCloser, truncate bool) domain.Outcome {
	defer body.Close()
	s := a.session

	if err := w.checkSpace(a); err != nil {
		return w.classify(ctx, a, err)
	}

	f, err := w.fs.OpenTemp(s.TempPath, truncate)
	if err != nil {
		return w.classify(ctx, a, err)
	}
	closed := false
	defer func() {
		if !closed {
			f.Close()
		}
	}()

	buf := make([]byte, w.config.BufferSize)
	for {
		if o, stop := w.checkpoint(a); stop {
			return o
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if w.limiter != nil {
				if err := w.limiter.WaitN(ctx, n); err != nil {
					return w.classify(ctx, a, domain.NewTransportError(err))
				}
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return w.classify(ctx, a, domain.NewFilesystemError(domain.FilesystemCode(err),
					fmt.Errorf("failed to write temp file: %w", err)))
			}
			downloaded := s.AddBytes(int64(n))

			if o, stop := w.checkpoint(a); stop {
				return o
			}

			total := s.BytesTotal()
			w.reporter.Progress(a.tok, downloaded, total)
			a.logs.Do(func() {
				a.logger.Debug("download progress",
					zap.Int64("bytes_downloaded", downloaded),
					zap.Int64("bytes_total", total),
					zap.Float64("percent", domain.Percent(downloaded, total)))
			})
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return w.classify(ctx, a, domain.NewTransportError(readErr))
		}
	}

	if o, stop := w.checkpoint(a); stop {
		return o
	}

	closed = true
	if err := f.Sync(); err != nil {
		f.Close()
		return w.classify(ctx, a, domain.NewFilesystemError(domain.FilesystemCode(err),
			fmt.Errorf("failed to sync temp file: %w", err)))
	}
	if err := f.Close(); err != nil {
		return w.classify(ctx, a, domain.NewFilesystemError(domain.FilesystemCode(err),
			fmt.Errorf("failed to close temp file: %w", err)))
	}

	return w.finish(ctx, a)
}

func (w *Worker) checkSpace(a *attempt) error {
	if !w.config.CheckFreeSpace {
		return nil
	}
	s := a.session
	total := s.BytesTotal()
	if !domain.IsTotalKnown(total) {
		return nil
	}
	need := total - s.BytesDownloaded()
	if need <= 0 {
		return nil
	}

	usage, err := w.fs.GetDiskUsage(s.TempPath)
	if err != nil {
		a.logger.Debug("free space check skipped", zap.Error(err))
		return nil
	}
	if usage.Free < uint64(need) {
		return domain.NewFilesystemError(domain.ErrCodeStorageFull,
			fmt.Errorf("not enough free space: need %d bytes, have %d", need, usage.Free))
	}
	return nil
}

// finish moves the temp file into place. The move runs under the token's
// guard so a pause or cancel cannot land between the last checkpoint and it.
func (w *Worker) finish(ctx context.Context, a *attempt) domain.Outcome {
	s := a.session

	var moveErr error
	if !s.Guard(a.tok, func() {
		if s.IsCancelled() || s.IsPaused() {
			moveErr = errStopped
			return
		}
		moveErr = w.fs.Move(s.TempPath, s.Destination)
	}) {
		return domain.SessionInvalidated{ID: s.ID}
	}
	if moveErr != nil {
		return w.classify(ctx, a, moveErr)
	}

	a.logger.Info("download finished",
		zap.String("destination", s.Destination),
		zap.Int64("size", s.BytesDownloaded()))

	return domain.Success{
		ID:              s.ID,
		Location:        s.Destination,
		BytesDownloaded: s.BytesDownloaded(),
		BytesTotal:      s.BytesTotal(),
	}
}

var errStopped = errors.New("transfer stopped")

// checkpoint re-validates the session; stop is true when the attempt must end
func (w *Worker) checkpoint(a *attempt) (domain.Outcome, bool) {
	s := a.session
	switch s.Checkpoint(a.tok) {
	case domain.CheckpointInvalidated:
		return domain.SessionInvalidated{ID: s.ID}, true
	case domain.CheckpointCancelled:
		return domain.Cancelled{ID: s.ID}, true
	case domain.CheckpointPaused:
		return domain.Paused{ID: s.ID, BytesDownloaded: s.BytesDownloaded(), BytesTotal: s.BytesTotal()}, true
	}
	return nil, false
}

// classify turns an error into an outcome. Interruptions caused by the engine
// itself (invalidation, cancel, pause, shutdown) are never failures.
func (w *Worker) classify(ctx context.Context, a *attempt, err error) domain.Outcome {
	if o, stop := w.checkpoint(a); stop {
		a.logger.Debug("attempt interrupted",
			zap.String("outcome", domain.OutcomeName(o)),
			zap.NamedError("cause", err))
		return o
	}

	s := a.session
	if ctx.Err() != nil {
		a.logger.Info("attempt interrupted by shutdown", zap.NamedError("cause", err))
		return domain.Paused{ID: s.ID, BytesDownloaded: s.BytesDownloaded(), BytesTotal: s.BytesTotal()}
	}

	if domain.KindOf(err) == "" {
		err = domain.NewTransportError(err)
	}
	a.logger.Warn("download failed",
		zap.String("url", s.URL()),
		zap.Int("code", domain.CodeOf(err)),
		zap.Error(err))
	return domain.FailureFromError(s.ID, err)
}
