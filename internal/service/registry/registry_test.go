package registry

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
)

func params(id string) domain.SessionParams {
	return domain.SessionParams{
		ID:          id,
		URL:         "http://example.com/" + id,
		Destination: "/tmp/" + id,
		TempPath:    "/tmp/" + id + ".tmp",
		TotalHint:   -1,
	}
}

func TestRegistry_Create(t *testing.T) {
	r := New(zap.NewNop())

	tok, pred := r.Create(params("a"))
	if pred != nil {
		t.Error("first Create should have no predecessor")
	}
	if tok.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", tok.Generation())
	}
	if !r.IsCurrent(tok) {
		t.Error("fresh token should be current")
	}
	if s, ok := r.Get("a"); !ok || s != tok.Session() {
		t.Error("Get should return the created session")
	}
}

func TestRegistry_CreateWithStartByte(t *testing.T) {
	r := New(zap.NewNop())

	p := params("a")
	p.StartByte = 100
	tok, _ := r.Create(p)

	if !tok.Session().HasReportedBegin() {
		t.Error("resumed transfer should have begin pre-reported")
	}
	if tok.Session().BytesDownloaded() != 100 {
		t.Errorf("BytesDownloaded() = %d, want 100", tok.Session().BytesDownloaded())
	}
}

func TestRegistry_CreateReplacesExisting(t *testing.T) {
	r := New(zap.NewNop())

	first, _ := r.Create(params("a"))
	ctx, cancel := context.WithCancel(context.Background())
	h := domain.NewWorkerHandle(cancel)
	r.AttachWorker(first, h)

	second, pred := r.Create(params("a"))

	if pred != h {
		t.Error("predecessor should be the old session's worker")
	}
	if ctx.Err() == nil {
		t.Error("old worker should be stopped")
	}
	if r.IsCurrent(first) {
		t.Error("old token must be stale after replacement")
	}
	if first.Session().Checkpoint(first) != domain.CheckpointInvalidated {
		t.Error("old worker should observe invalidation")
	}
	if first.Session().IsCancelled() {
		t.Error("replacement must not mark the old session cancelled")
	}
	if second.Generation() <= first.Generation() {
		t.Errorf("generation did not increase: %d -> %d", first.Generation(), second.Generation())
	}
}

func TestRegistry_GenerationSurvivesRemoval(t *testing.T) {
	r := New(zap.NewNop())

	first, _ := r.Create(params("a"))
	r.BeginGeneration("a")
	r.BeginGeneration("a")
	r.Remove("a")

	second, _ := r.Create(params("a"))
	if second.Generation() <= first.Session().Generation() {
		t.Errorf("generation reused after removal: %d <= %d", second.Generation(), first.Session().Generation())
	}
}

func TestRegistry_BeginGeneration(t *testing.T) {
	r := New(zap.NewNop())

	if _, ok := r.BeginGeneration("missing"); ok {
		t.Error("BeginGeneration on unknown id should fail")
	}

	tok, _ := r.Create(params("a"))
	next, ok := r.BeginGeneration("a")
	if !ok {
		t.Fatal("BeginGeneration failed")
	}
	if next.Generation() != tok.Generation()+1 {
		t.Errorf("Generation() = %d, want %d", next.Generation(), tok.Generation()+1)
	}
	if r.IsCurrent(tok) {
		t.Error("old token should be stale")
	}
	if !r.IsCurrent(next) {
		t.Error("new token should be current")
	}
}

func TestRegistry_Guard(t *testing.T) {
	r := New(zap.NewNop())
	tok, _ := r.Create(params("a"))

	ran := false
	if !r.Guard(tok, func() { ran = true }) || !ran {
		t.Error("Guard should run for the current token")
	}

	r.BeginGeneration("a")
	ran = false
	if r.Guard(tok, func() { ran = true }) || ran {
		t.Error("Guard should reject a stale token")
	}

	// Guarded callbacks may re-enter the registry.
	cur, _ := r.BeginGeneration("a")
	if !r.Guard(cur, func() { r.RemoveSession(cur.Session()) }) {
		t.Error("Guard should run for the current token")
	}
	if _, ok := r.Get("a"); ok {
		t.Error("session should be removed")
	}
	if r.Guard(cur, func() {}) {
		t.Error("Guard should reject a token of a removed session")
	}
}

func TestRegistry_RemoveSession(t *testing.T) {
	r := New(zap.NewNop())

	first, _ := r.Create(params("a"))
	second, _ := r.Create(params("a"))

	if r.RemoveSession(first.Session()) {
		t.Error("RemoveSession should not remove a replaced session")
	}
	if !r.RemoveSession(second.Session()) {
		t.Error("RemoveSession should remove the current session")
	}
	if r.Remove("a") {
		t.Error("Remove on a missing id should return false")
	}
}

func TestRegistry_DrainingPredecessor(t *testing.T) {
	r := New(zap.NewNop())

	tok, _ := r.Create(params("a"))
	_, cancel := context.WithCancel(context.Background())
	h := domain.NewWorkerHandle(cancel)
	r.AttachWorker(tok, h)

	r.Remove("a")
	if got := r.Predecessor("a"); got != h {
		t.Fatal("removed session with a running worker should be draining")
	}

	_, pred := r.Create(params("a"))
	if pred != h {
		t.Error("Create should return the draining worker as predecessor")
	}

	h.Finish()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		_, draining := r.draining["a"]
		r.mu.Unlock()
		if !draining {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("finished worker should leave the draining set")
}

func TestRegistry_List(t *testing.T) {
	r := New(zap.NewNop())

	r.Create(params("a"))
	time.Sleep(time.Millisecond)
	tb, _ := r.Create(params("b"))
	tb.Session().SetPaused(true)
	tb.Session().AddBytes(10)

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("List() order = %s, %s", list[0].ID, list[1].ID)
	}
	if !list[1].Paused || list[1].BytesDownloaded != 10 {
		t.Errorf("List()[1] = %+v", list[1])
	}
	if r.CountRunning() != 1 {
		t.Errorf("CountRunning() = %d, want 1", r.CountRunning())
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}
