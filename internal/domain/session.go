package domain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Token is the capability a worker holds for one generation of one session.
// Only a session can mint one; observations made with a stale token are rejected.
type Token struct {
	session    *DownloadSession
	generation uint64
}

// ID returns the transfer id the token belongs to
func (t Token) ID() string {
	if t.session == nil {
		return ""
	}
	return t.session.ID
}

// Generation returns the generation captured in the token
func (t Token) Generation() uint64 {
	return t.generation
}

// Session returns the session the token was minted by
func (t Token) Session() *DownloadSession {
	return t.session
}

// Valid reports whether the token was minted by a session
func (t Token) Valid() bool {
	return t.session != nil
}

// Checkpoint is the result of a worker re-validating its session.
type Checkpoint int

const (
	CheckpointContinue Checkpoint = iota
	CheckpointInvalidated
	CheckpointCancelled
	CheckpointPaused
)

// WorkerHandle is the control path's reference to a running worker.
type WorkerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewWorkerHandle creates a handle whose Stop cancels the worker's context
func NewWorkerHandle(cancel context.CancelFunc) *WorkerHandle {
	return &WorkerHandle{cancel: cancel, done: make(chan struct{})}
}

// Stop force-unblocks the worker by cancelling its context, which closes its
// connection and body stream.
func (h *WorkerHandle) Stop() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

// Finish marks the worker as exited
func (h *WorkerHandle) Finish() {
	h.once.Do(func() { close(h.done) })
}

// Done is closed once the worker has exited
func (h *WorkerHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the worker exits or ctx is done
func (h *WorkerHandle) Wait(ctx context.Context) error {
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionParams holds the immutable identity of a session.
type SessionParams struct {
	ID          string
	URL         string
	Destination string
	TempPath    string
	Headers     Headers
	Metadata    string
	Strategy    Strategy
	StartByte   int64
	TotalHint   int64
}

// DownloadSession is the mutable record of one transfer.
// Control-path writes: flags, generation. Worker writes: counters, url.
type DownloadSession struct {
	ID          string
	Destination string
	TempPath    string
	Headers     Headers
	Metadata    string
	Strategy    Strategy
	CreatedAt   time.Time

	// mu fences generation changes against guarded observations.
	// generation is only written with mu held exclusively.
	mu         sync.RWMutex
	generation atomic.Uint64

	url             atomic.Pointer[string]
	bytesDownloaded atomic.Int64
	bytesTotal      atomic.Int64
	paused          atomic.Bool
	cancelled       atomic.Bool
	reportedBegin   atomic.Bool
	state           atomic.Pointer[TransferState]
	worker          atomic.Pointer[WorkerHandle]
}

// NewDownloadSession creates a running session at the given generation
func NewDownloadSession(p SessionParams, generation uint64) *DownloadSession {
	s := &DownloadSession{
		ID:          p.ID,
		Destination: p.Destination,
		TempPath:    p.TempPath,
		Headers:     p.Headers.Clone(),
		Metadata:    p.Metadata,
		Strategy:    p.Strategy,
		CreatedAt:   time.Now(),
	}
	s.generation.Store(generation)
	if s.Strategy == "" {
		s.Strategy = StrategyRange
	}
	url := p.URL
	s.url.Store(&url)

	total := p.TotalHint
	if !IsTotalKnown(total) {
		total = -1
	}
	s.bytesTotal.Store(total)

	if p.StartByte > 0 {
		s.bytesDownloaded.Store(p.StartByte)
		s.reportedBegin.Store(true)
	}

	state := StateRunning
	s.state.Store(&state)
	return s
}

// Token returns a token for the current generation
func (s *DownloadSession) Token() Token {
	return Token{session: s, generation: s.generation.Load()}
}

// Generation returns the current generation
func (s *DownloadSession) Generation() uint64 {
	return s.generation.Load()
}

// Advance increments the generation, invalidating every outstanding token.
// It waits for in-flight guarded observations to finish.
func (s *DownloadSession) Advance() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Token{session: s, generation: s.generation.Add(1)}
}

// IsCurrent reports whether t was minted by s for its current generation
func (s *DownloadSession) IsCurrent(t Token) bool {
	return t.session == s && s.generation.Load() == t.generation
}

// Guard runs fn only while t is current. No generation change can interleave
// with fn, so fn must not advance this session.
func (s *DownloadSession) Guard(t Token, fn func()) bool {
	if t.session != s {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.generation.Load() != t.generation {
		return false
	}
	fn()
	return true
}

// Checkpoint re-validates the session for the holder of t.
// Invalidation beats cancellation, which beats pause.
func (s *DownloadSession) Checkpoint(t Token) Checkpoint {
	if !s.IsCurrent(t) {
		return CheckpointInvalidated
	}
	if s.cancelled.Load() {
		return CheckpointCancelled
	}
	if s.paused.Load() {
		return CheckpointPaused
	}
	return CheckpointContinue
}

// URL returns the current source URL
func (s *DownloadSession) URL() string {
	return *s.url.Load()
}

// SetURL records a redirect target so later attempts start there
func (s *DownloadSession) SetURL(u string) {
	s.url.Store(&u)
}

// BytesDownloaded returns the byte counter
func (s *DownloadSession) BytesDownloaded() int64 {
	return s.bytesDownloaded.Load()
}

// AddBytes advances the byte counter and returns the new value
func (s *DownloadSession) AddBytes(n int64) int64 {
	return s.bytesDownloaded.Add(n)
}

// SetBytesDownloaded overwrites the byte counter (restart or reconciliation)
func (s *DownloadSession) SetBytesDownloaded(n int64) {
	s.bytesDownloaded.Store(n)
}

// BytesTotal returns the expected size, -1 when unknown
func (s *DownloadSession) BytesTotal() int64 {
	return s.bytesTotal.Load()
}

// SetBytesTotal records the expected size; unknown values are stored as -1
func (s *DownloadSession) SetBytesTotal(n int64) {
	if !IsTotalKnown(n) {
		n = -1
	}
	s.bytesTotal.Store(n)
}

// IsPaused returns the paused flag
func (s *DownloadSession) IsPaused() bool {
	return s.paused.Load()
}

// SetPaused sets the paused flag and reports whether it changed
func (s *DownloadSession) SetPaused(v bool) bool {
	return s.paused.CompareAndSwap(!v, v)
}

// IsCancelled returns the cancelled flag
func (s *DownloadSession) IsCancelled() bool {
	return s.cancelled.Load()
}

// MarkCancelled sets the cancelled flag. It returns false if it was already set.
func (s *DownloadSession) MarkCancelled() bool {
	return s.cancelled.CompareAndSwap(false, true)
}

// HasReportedBegin reports whether begin has fired for this logical transfer
func (s *DownloadSession) HasReportedBegin() bool {
	return s.reportedBegin.Load()
}

// ClaimBegin returns true exactly once per logical transfer
func (s *DownloadSession) ClaimBegin() bool {
	return s.reportedBegin.CompareAndSwap(false, true)
}

// State returns the state machine position
func (s *DownloadSession) State() TransferState {
	return *s.state.Load()
}

// Transition moves the state machine along a valid edge
func (s *DownloadSession) Transition(to TransferState) error {
	for {
		cur := s.state.Load()
		if *cur == to {
			return nil
		}
		if !cur.CanTransitionTo(to) {
			return ErrInvalidStateTransition
		}
		next := to
		if s.state.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}

// AttachWorker records the running worker and returns the one it replaces
func (s *DownloadSession) AttachWorker(h *WorkerHandle) *WorkerHandle {
	return s.worker.Swap(h)
}

// Worker returns the running worker handle, if any
func (s *DownloadSession) Worker() *WorkerHandle {
	return s.worker.Load()
}

// Active returns the listActive view of the session
func (s *DownloadSession) Active() ActiveTransfer {
	return ActiveTransfer{
		ID:              s.ID,
		URL:             s.URL(),
		Destination:     s.Destination,
		BytesDownloaded: s.BytesDownloaded(),
		BytesTotal:      s.BytesTotal(),
		Paused:          s.IsPaused(),
		State:           s.State(),
		Strategy:        s.Strategy,
	}
}

// Snapshot returns the persisted form of the session
func (s *DownloadSession) Snapshot() TransferSnapshot {
	return TransferSnapshot{
		ID:              s.ID,
		URL:             s.URL(),
		Destination:     s.Destination,
		Headers:         s.Headers.Clone(),
		Metadata:        s.Metadata,
		BytesDownloaded: s.BytesDownloaded(),
		BytesTotal:      s.BytesTotal(),
		State:           s.State(),
		Strategy:        s.Strategy,
		UpdatedAt:       time.Now(),
	}
}
