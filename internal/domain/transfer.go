package domain

import "time"

// TransferState is the externally visible state of one transfer id.
type TransferState string

const (
	StateIdle      TransferState = "idle"
	StateRunning   TransferState = "running"
	StatePaused    TransferState = "paused"
	StateCancelled TransferState = "cancelled"
	StateCompleted TransferState = "completed"
	StateFailed    TransferState = "failed"
)

var validTransitions = map[TransferState][]TransferState{
	StateIdle:    {StateRunning},
	StateRunning: {StatePaused, StateCancelled, StateCompleted, StateFailed},
	StatePaused:  {StateRunning, StateCancelled},
}

// IsTerminal reports whether no further transition is possible
func (s TransferState) IsTerminal() bool {
	switch s {
	case StateCancelled, StateCompleted, StateFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> to is an edge of the transfer state machine
func (s TransferState) CanTransitionTo(to TransferState) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Strategy names the execution strategy chosen for a transfer at start time.
type Strategy string

const (
	StrategyRange Strategy = "range"
	StrategyBulk  Strategy = "bulk"
)

// IsTotalKnown is the single predicate for "bytesTotal is a real byte count".
// Both -1 and 0 mean unknown.
func IsTotalKnown(total int64) bool {
	return total > 0
}

// Percent returns progress in [0,100], or 0 when the total is unknown.
func Percent(downloaded, total int64) float64 {
	if !IsTotalKnown(total) {
		return 0
	}
	p := float64(downloaded) / float64(total) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// TempPath derives the temp file path for a destination
func TempPath(destination, suffix string) string {
	if suffix == "" {
		suffix = DefaultTempSuffix
	}
	return destination + suffix
}

// DefaultTempSuffix is appended to a destination to name its temp file.
const DefaultTempSuffix = ".tmp"

// ActiveTransfer is one entry of listActive.
type ActiveTransfer struct {
	ID              string        `json:"id"`
	URL             string        `json:"url"`
	Destination     string        `json:"destination"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	BytesTotal      int64         `json:"bytes_total"`
	Paused          bool          `json:"paused"`
	State           TransferState `json:"state"`
	Strategy        Strategy      `json:"strategy"`
}

// TransferSnapshot is the persisted form of a transfer, used to resume across restarts.
type TransferSnapshot struct {
	ID              string        `json:"id"`
	URL             string        `json:"url"`
	Destination     string        `json:"destination"`
	Headers         Headers       `json:"headers,omitempty"`
	Metadata        string        `json:"metadata,omitempty"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	BytesTotal      int64         `json:"bytes_total"`
	State           TransferState `json:"state"`
	Strategy        Strategy      `json:"strategy"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ProgressUpdate is one entry of a progress batch.
type ProgressUpdate struct {
	ID              string `json:"id"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	BytesTotal      int64  `json:"bytes_total"`
}
