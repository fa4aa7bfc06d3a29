package domain

// Outcome is the result of one worker execution attempt.
// It is one of Success, Paused, Cancelled, SessionInvalidated or Failure.
type Outcome interface {
	TransferID() string
	isOutcome()
}

// Success means the file was moved to its destination.
type Success struct {
	ID              string
	Location        string
	BytesDownloaded int64
	BytesTotal      int64
}

// Paused means the worker stopped because the session was paused.
type Paused struct {
	ID              string
	BytesDownloaded int64
	BytesTotal      int64
}

// Cancelled means the worker stopped because the session was cancelled.
type Cancelled struct {
	ID string
}

// SessionInvalidated means a newer generation superseded the worker.
type SessionInvalidated struct {
	ID string
}

// Failure is a genuine transfer failure.
// Code is the HTTP status for protocol errors, otherwise one of the ErrCode constants.
type Failure struct {
	ID      string
	Message string
	Code    int
	Err     error
}

func (o Success) TransferID() string            { return o.ID }
func (o Paused) TransferID() string             { return o.ID }
func (o Cancelled) TransferID() string          { return o.ID }
func (o SessionInvalidated) TransferID() string { return o.ID }
func (o Failure) TransferID() string            { return o.ID }

func (Success) isOutcome()            {}
func (Paused) isOutcome()             {}
func (Cancelled) isOutcome()          {}
func (SessionInvalidated) isOutcome() {}
func (Failure) isOutcome()            {}

// FailureFromError builds a Failure from a (possibly classified) error
func FailureFromError(id string, err error) Failure {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Failure{ID: id, Message: msg, Code: CodeOf(err), Err: err}
}

// IsTerminal reports whether an outcome ends the logical transfer.
// Paused and SessionInvalidated never do.
func IsTerminal(o Outcome) bool {
	switch o.(type) {
	case Success, Failure, Cancelled:
		return true
	default:
		return false
	}
}

// OutcomeName returns a short label for logging
func OutcomeName(o Outcome) string {
	switch o.(type) {
	case Success:
		return "success"
	case Paused:
		return "paused"
	case Cancelled:
		return "cancelled"
	case SessionInvalidated:
		return "session_invalidated"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}
