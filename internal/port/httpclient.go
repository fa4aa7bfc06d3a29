package port

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
)

// Request is a single HTTP request issued by the engine
type Request struct {
	Method  string
	URL     string
	Headers domain.Headers
	// Timeout bounds the whole request when > 0 (redirect probes)
	Timeout time.Duration
}

// Response is the status line, headers and body stream of a response.
// Redirects are never followed; 3xx responses are returned as-is.
type Response struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// HTTPClient opens requests. Cancelling ctx force-closes the connection and
// unblocks a pending connect, header read or body read.
type HTTPClient interface {
	Open(ctx context.Context, req *Request) (*Response, error)
}
