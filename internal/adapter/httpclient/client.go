package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vertextoedge/resumable-downloader/internal/port"
)

// ErrReadTimeout is returned by a body read that saw no data for the read timeout
var ErrReadTimeout = errors.New("read timeout")

// Config contains HTTP client configuration
type Config struct {
	ConnectTimeout time.Duration // dial + TLS handshake
	ReadTimeout    time.Duration // response headers, then idle time between body reads
	BufferSize     int           // transport read/write buffer size
	SkipTLSVerify  bool
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    30 * time.Second,
		BufferSize:     64 * 1024,
	}
}

// Client is a net/http backed port.HTTPClient that never follows redirects
type Client struct {
	config     *Config
	httpClient *http.Client
}

// Ensure Client implements port.HTTPClient
var _ port.HTTPClient = (*Client)(nil)

// New creates a new Client
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		TLSHandshakeTimeout: cfg.ConnectTimeout,

		// Connection pooling
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     120 * time.Second,

		// Buffer sizes for high-speed transfers
		WriteBufferSize: cfg.BufferSize,
		ReadBufferSize:  cfg.BufferSize,

		ForceAttemptHTTP2: true,

		// Byte offsets must refer to the stored representation
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Open issues the request and returns the response with a streaming body.
// Cancelling ctx closes the connection.
func (c *Client) Open(ctx context.Context, r *port.Request) (*port.Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	reqCtx, cancel := context.WithCancel(ctx)
	var stopDeadline func() bool
	if r.Timeout > 0 {
		t := time.AfterFunc(r.Timeout, cancel)
		stopDeadline = t.Stop
	}

	req, err := http.NewRequestWithContext(reqCtx, method, r.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	r.Headers.Apply(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	body := &idleTimeoutBody{
		body:    resp.Body,
		cancel:  cancel,
		timeout: c.config.ReadTimeout,
	}
	if stopDeadline != nil {
		body.stopDeadline = stopDeadline
	}
	body.arm()

	return &port.Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          body,
	}, nil
}

// idleTimeoutBody cancels the request when no Read completes within timeout
type idleTimeoutBody struct {
	body         io.ReadCloser
	cancel       context.CancelFunc
	timeout      time.Duration
	stopDeadline func() bool

	mu       sync.Mutex
	timer    *time.Timer
	timedOut atomic.Bool
	closed   bool
}

func (b *idleTimeoutBody) arm() {
	if b.timeout <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.timeout, func() {
			b.timedOut.Store(true)
			b.cancel()
		})
		return
	}
	b.timer.Reset(b.timeout)
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && err != io.EOF && b.timedOut.Load() {
		return n, fmt.Errorf("%w after %s: %v", ErrReadTimeout, b.timeout, err)
	}
	if n > 0 {
		b.arm()
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	if b.stopDeadline != nil {
		b.stopDeadline()
	}
	err := b.body.Close()
	b.cancel()
	return err
}
