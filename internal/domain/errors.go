package domain

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Common domain errors
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotPaused        = errors.New("transfer is not paused")
	ErrNotRunning       = errors.New("transfer is not running")
	ErrTransferExists   = errors.New("transfer already exists")
	ErrStaleGeneration  = errors.New("stale session generation")
	ErrRangeUnsupported = errors.New("server ignored range request")

	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrSnapshotNotFound       = errors.New("snapshot not found")
)

// Error codes forwarded to listeners for failures that carry no HTTP status.
const (
	ErrCodeStorageFull       = 0
	ErrCodeNoInternet        = 1
	ErrCodeNoWritePermission = 2
	ErrCodeFileNotFound      = 3
	ErrCodeOther             = 100
	ErrCodeTransport         = -1
)

// ErrorKind classifies a transfer failure.
type ErrorKind string

const (
	KindProtocol       ErrorKind = "protocol"
	KindTransport      ErrorKind = "transport"
	KindFilesystem     ErrorKind = "filesystem"
	KindInvalidRequest ErrorKind = "invalid_request"
)

// TransferError is a classified transfer failure.
// Code is the HTTP status for protocol errors and one of the ErrCode constants otherwise.
type TransferError struct {
	Kind ErrorKind
	Code int
	Err  error
}

// Error returns the error message
func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error
func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a protocol error carrying an HTTP status code
func NewProtocolError(status int, err error) *TransferError {
	return &TransferError{Kind: KindProtocol, Code: status, Err: err}
}

// NewTransportError creates a transport error
func NewTransportError(err error) *TransferError {
	return &TransferError{Kind: KindTransport, Code: ErrCodeTransport, Err: err}
}

// NewFilesystemError creates a filesystem error with the given code
func NewFilesystemError(code int, err error) *TransferError {
	return &TransferError{Kind: KindFilesystem, Code: code, Err: err}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(msg string) *TransferError {
	return &TransferError{Kind: KindInvalidRequest, Code: ErrCodeOther, Err: fmt.Errorf("%w: %s", ErrInvalidRequest, msg)}
}

// KindOf returns the kind of a classified error, or "" if err is not a TransferError.
func KindOf(err error) ErrorKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsKind reports whether err is a TransferError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// CodeOf returns the code carried by a classified error, or ErrCodeOther.
func CodeOf(err error) int {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrCodeOther
}

// FilesystemCode maps an OS error onto the transfer error codes
func FilesystemCode(err error) int {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return ErrCodeStorageFull
	case errors.Is(err, os.ErrPermission):
		return ErrCodeNoWritePermission
	case errors.Is(err, os.ErrNotExist):
		return ErrCodeFileNotFound
	default:
		return ErrCodeOther
	}
}
