package port

import (
	"context"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
)

// BulkRequest is a whole-file transfer handed to a bulk download facility
type BulkRequest struct {
	ID          string
	URL         string
	Destination string
	TempPath    string
	Headers     domain.Headers

	// OnBegin is called once with the expected size (-1 unknown) and response headers
	OnBegin func(expected int64, headers map[string]string)
	// OnProgress is called after every chunk
	OnProgress func(downloaded, total int64)
	// OnDone is called exactly once with the final outcome
	OnDone func(outcome domain.Outcome)
}

// BulkDownloader is a download facility that owns whole transfers and cannot pause them
type BulkDownloader interface {
	// Enqueue accepts a transfer; it fails when the queue is full or closed
	Enqueue(ctx context.Context, req BulkRequest) error

	// Cancel aborts a queued or running transfer; false if unknown
	Cancel(id string) bool
}
