package event

import (
	"time"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
)

// Event names
const (
	NameTransferBegan     = "transfer.begin"
	NameTransferProgress  = "transfer.progress"
	NameTransferCompleted = "transfer.complete"
	NameTransferFailed    = "transfer.failed"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// TransferBegan is raised once per logical transfer, when the first response arrives
type TransferBegan struct {
	BaseEvent
	ID            string
	ExpectedBytes int64
	Headers       map[string]string
}

// EventName returns the event name
func (e TransferBegan) EventName() string {
	return NameTransferBegan
}

// NewTransferBegan creates a new TransferBegan event
func NewTransferBegan(id string, expected int64, headers map[string]string) TransferBegan {
	return TransferBegan{
		BaseEvent:     BaseEvent{Timestamp: time.Now()},
		ID:            id,
		ExpectedBytes: expected,
		Headers:       headers,
	}
}

// TransferProgress carries one flushed batch of progress updates
type TransferProgress struct {
	BaseEvent
	Updates []domain.ProgressUpdate
}

// EventName returns the event name
func (e TransferProgress) EventName() string {
	return NameTransferProgress
}

// NewTransferProgress creates a new TransferProgress event
func NewTransferProgress(updates []domain.ProgressUpdate) TransferProgress {
	return TransferProgress{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Updates:   updates,
	}
}

// TransferCompleted is raised when the file has been moved to its destination
type TransferCompleted struct {
	BaseEvent
	ID              string
	Location        string
	BytesDownloaded int64
	BytesTotal      int64
}

// EventName returns the event name
func (e TransferCompleted) EventName() string {
	return NameTransferCompleted
}

// NewTransferCompleted creates a new TransferCompleted event
func NewTransferCompleted(id, location string, downloaded, total int64) TransferCompleted {
	return TransferCompleted{
		BaseEvent:       BaseEvent{Timestamp: time.Now()},
		ID:              id,
		Location:        location,
		BytesDownloaded: downloaded,
		BytesTotal:      total,
	}
}

// TransferFailed is raised on a genuine transfer failure
type TransferFailed struct {
	BaseEvent
	ID      string
	Message string
	Code    int
}

// EventName returns the event name
func (e TransferFailed) EventName() string {
	return NameTransferFailed
}

// NewTransferFailed creates a new TransferFailed event
func NewTransferFailed(id, message string, code int) TransferFailed {
	return TransferFailed{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		ID:        id,
		Message:   message,
		Code:      code,
	}
}
