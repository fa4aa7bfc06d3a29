package domain

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestSession(gen uint64) *DownloadSession {
	return NewDownloadSession(SessionParams{
		ID:          "t1",
		URL:         "http://example.com/file",
		Destination: "/tmp/file",
		TempPath:    "/tmp/file.tmp",
		TotalHint:   -1,
	}, gen)
}

func TestNewDownloadSession(t *testing.T) {
	s := newTestSession(1)

	if s.BytesDownloaded() != 0 {
		t.Errorf("BytesDownloaded() = %d, want 0", s.BytesDownloaded())
	}
	if s.BytesTotal() != -1 {
		t.Errorf("BytesTotal() = %d, want -1", s.BytesTotal())
	}
	if s.IsPaused() || s.IsCancelled() {
		t.Error("flags should be false at creation")
	}
	if s.HasReportedBegin() {
		t.Error("begin should not be reported for a fresh transfer")
	}
	if s.State() != StateRunning {
		t.Errorf("State() = %v, want %v", s.State(), StateRunning)
	}
	if s.Strategy != StrategyRange {
		t.Errorf("Strategy = %v, want %v", s.Strategy, StrategyRange)
	}
}

func TestNewDownloadSession_StartByte(t *testing.T) {
	s := NewDownloadSession(SessionParams{ID: "t1", StartByte: 100, TotalHint: 0}, 1)

	if s.BytesDownloaded() != 100 {
		t.Errorf("BytesDownloaded() = %d, want 100", s.BytesDownloaded())
	}
	if !s.HasReportedBegin() {
		t.Error("resumed transfer should not re-announce begin")
	}
	if s.BytesTotal() != -1 {
		t.Errorf("zero hint should be stored as unknown, got %d", s.BytesTotal())
	}
}

func TestDownloadSession_Advance(t *testing.T) {
	s := newTestSession(1)
	old := s.Token()

	if !s.IsCurrent(old) {
		t.Fatal("fresh token should be current")
	}

	next := s.Advance()
	if next.Generation() != old.Generation()+1 {
		t.Errorf("Generation() = %d, want %d", next.Generation(), old.Generation()+1)
	}
	if s.IsCurrent(old) {
		t.Error("old token should be stale after Advance")
	}
	if !s.IsCurrent(next) {
		t.Error("new token should be current")
	}
}

func TestDownloadSession_IsCurrent_ForeignToken(t *testing.T) {
	a := newTestSession(1)
	b := newTestSession(1)

	if a.IsCurrent(b.Token()) {
		t.Error("token from another session must not be current")
	}
	if a.IsCurrent(Token{}) {
		t.Error("zero token must not be current")
	}
}

func TestDownloadSession_Guard(t *testing.T) {
	s := newTestSession(1)
	tok := s.Token()

	ran := false
	if !s.Guard(tok, func() { ran = true }) || !ran {
		t.Fatal("Guard should run fn for a current token")
	}

	s.Advance()
	ran = false
	if s.Guard(tok, func() { ran = true }) || ran {
		t.Error("Guard should not run fn for a stale token")
	}
}

func TestDownloadSession_GuardBlocksAdvance(t *testing.T) {
	s := newTestSession(1)
	tok := s.Token()

	inside := make(chan struct{})
	release := make(chan struct{})
	advanced := make(chan struct{})

	go func() {
		s.Guard(tok, func() {
			close(inside)
			<-release
		})
	}()
	<-inside

	go func() {
		s.Advance()
		close(advanced)
	}()

	select {
	case <-advanced:
		t.Fatal("Advance should wait for the guarded observation")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-advanced:
	case <-time.After(time.Second):
		t.Fatal("Advance did not complete")
	}
}

func TestDownloadSession_Checkpoint(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *DownloadSession)
		stale bool
		want  Checkpoint
	}{
		{"continue", func(s *DownloadSession) {}, false, CheckpointContinue},
		{"paused", func(s *DownloadSession) { s.SetPaused(true) }, false, CheckpointPaused},
		{"cancelled", func(s *DownloadSession) { s.MarkCancelled() }, false, CheckpointCancelled},
		{"cancel beats pause", func(s *DownloadSession) { s.SetPaused(true); s.MarkCancelled() }, false, CheckpointCancelled},
		{"invalidated beats cancel", func(s *DownloadSession) { s.MarkCancelled() }, true, CheckpointInvalidated},
		{"invalidated beats pause", func(s *DownloadSession) { s.SetPaused(true) }, true, CheckpointInvalidated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(1)
			tok := s.Token()
			tt.setup(s)
			if tt.stale {
				s.Advance()
			}
			if got := s.Checkpoint(tok); got != tt.want {
				t.Errorf("Checkpoint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDownloadSession_ClaimBegin(t *testing.T) {
	s := newTestSession(1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ClaimBegin() {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if claims != 1 {
		t.Errorf("ClaimBegin succeeded %d times, want 1", claims)
	}
}

func TestDownloadSession_Transition(t *testing.T) {
	s := newTestSession(1)

	if err := s.Transition(StatePaused); err != nil {
		t.Fatalf("Running -> Paused: %v", err)
	}
	if err := s.Transition(StateCompleted); err != ErrInvalidStateTransition {
		t.Errorf("Paused -> Completed error = %v, want %v", err, ErrInvalidStateTransition)
	}
	if err := s.Transition(StateRunning); err != nil {
		t.Fatalf("Paused -> Running: %v", err)
	}
	if err := s.Transition(StateCancelled); err != nil {
		t.Fatalf("Running -> Cancelled: %v", err)
	}
	if err := s.Transition(StateRunning); err != ErrInvalidStateTransition {
		t.Error("terminal state must not transition")
	}
}

func TestDownloadSession_SetBytesTotal(t *testing.T) {
	s := newTestSession(1)

	s.SetBytesTotal(0)
	if s.BytesTotal() != -1 {
		t.Errorf("BytesTotal() = %d, want -1", s.BytesTotal())
	}
	s.SetBytesTotal(1000)
	if s.BytesTotal() != 1000 {
		t.Errorf("BytesTotal() = %d, want 1000", s.BytesTotal())
	}
}

func TestDownloadSession_SnapshotAndActive(t *testing.T) {
	s := newTestSession(1)
	s.AddBytes(42)
	s.SetURL("http://mirror.example.com/file")
	s.SetPaused(true)

	snap := s.Snapshot()
	if snap.URL != "http://mirror.example.com/file" {
		t.Errorf("Snapshot().URL = %q", snap.URL)
	}
	if snap.BytesDownloaded != 42 {
		t.Errorf("Snapshot().BytesDownloaded = %d, want 42", snap.BytesDownloaded)
	}

	a := s.Active()
	if !a.Paused || a.BytesDownloaded != 42 || a.ID != "t1" {
		t.Errorf("Active() = %+v", a)
	}
}

func TestWorkerHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewWorkerHandle(cancel)

	h.Stop()
	if ctx.Err() == nil {
		t.Error("Stop should cancel the worker context")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer waitCancel()
	if err := h.Wait(waitCtx); err == nil {
		t.Error("Wait should time out before Finish")
	}

	h.Finish()
	h.Finish()
	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("Wait after Finish = %v", err)
	}

	var nilHandle *WorkerHandle
	nilHandle.Stop()
	if err := nilHandle.Wait(context.Background()); err != nil {
		t.Errorf("nil handle Wait = %v", err)
	}
}

func TestDownloadSession_FlagsReportChange(t *testing.T) {
	s := newTestSession(1)

	if !s.SetPaused(true) {
		t.Error("first SetPaused(true) should report a change")
	}
	if s.SetPaused(true) {
		t.Error("second SetPaused(true) should be a no-op")
	}
	if !s.SetPaused(false) {
		t.Error("SetPaused(false) on a paused session should report a change")
	}

	if !s.MarkCancelled() {
		t.Error("first MarkCancelled() should report a change")
	}
	if s.MarkCancelled() {
		t.Error("second MarkCancelled() should be a no-op")
	}
}

func TestHeadersFromMap_SortedByName(t *testing.T) {
	h := HeadersFromMap(map[string]string{"X-B": "2", "Authorization": "t", "X-A": "1"})
	want := []string{"Authorization", "X-A", "X-B"}
	for i, name := range want {
		if h[i].Name != name {
			t.Fatalf("HeadersFromMap()[%d] = %q, want %q", i, h[i].Name, name)
		}
	}
}
