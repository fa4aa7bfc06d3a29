package bulk

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/adapter/filesystem"
	"github.com/vertextoedge/resumable-downloader/internal/adapter/httpclient"
	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/port"
)

type result struct {
	mu       sync.Mutex
	begins   []int64
	progress []int64
	outcome  domain.Outcome
	done     chan struct{}
}

func newResult() *result {
	return &result{done: make(chan struct{})}
}

func (r *result) request(id, url, dest string) port.BulkRequest {
	return port.BulkRequest{
		ID:          id,
		URL:         url,
		Destination: dest,
		TempPath:    dest + ".tmp",
		OnBegin: func(expected int64, headers map[string]string) {
			r.mu.Lock()
			r.begins = append(r.begins, expected)
			r.mu.Unlock()
		},
		OnProgress: func(downloaded, total int64) {
			r.mu.Lock()
			r.progress = append(r.progress, downloaded)
			r.mu.Unlock()
		},
		OnDone: func(outcome domain.Outcome) {
			r.mu.Lock()
			r.outcome = outcome
			r.mu.Unlock()
			close(r.done)
		},
	}
}

func (r *result) wait(t *testing.T) domain.Outcome {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnDone")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

func newTestPool(t *testing.T) (*Pool, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := filesystem.NewManager(dir, ".tmp")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.BufferSize = 16
	cfg.ProgressInterval = 0
	p := New(cfg, httpclient.New(nil), fs, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return p, dir
}

func TestPool_Download(t *testing.T) {
	body := bytes.Repeat([]byte("bulk"), 25)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/file", http.StatusFound)
			return
		}
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(body)
	}))
	defer server.Close()

	p, dir := newTestPool(t)
	dest := filepath.Join(dir, "out.bin")
	res := newResult()
	req := res.request("a", server.URL+"/moved", dest)
	req.Headers = domain.Headers{{Name: "X-Token", Value: "secret"}}

	if err := p.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	success, ok := res.wait(t).(domain.Success)
	if !ok {
		t.Fatalf("outcome = %#v, want Success", res.outcome)
	}
	if success.BytesDownloaded != 100 || success.BytesTotal != 100 || success.Location != dest {
		t.Errorf("Success = %+v", success)
	}
	data, err := os.ReadFile(dest)
	if err != nil || !bytes.Equal(data, body) {
		t.Errorf("destination content mismatch: %v", err)
	}
	if len(res.begins) != 1 || res.begins[0] != 100 {
		t.Errorf("begins = %v, want [100]", res.begins)
	}
	if len(res.progress) == 0 || res.progress[len(res.progress)-1] != 100 {
		t.Errorf("progress = %v, want to end at 100", res.progress)
	}
	for i := 1; i < len(res.progress); i++ {
		if res.progress[i] < res.progress[i-1] {
			t.Fatalf("progress decreased: %v", res.progress)
		}
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d after completion, want 0", p.Len())
	}
}

func TestPool_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p, dir := newTestPool(t)
	res := newResult()
	p.Enqueue(context.Background(), res.request("a", server.URL, filepath.Join(dir, "x")))

	failure, ok := res.wait(t).(domain.Failure)
	if !ok {
		t.Fatalf("outcome = %#v, want Failure", res.outcome)
	}
	if failure.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want 404", failure.Code)
	}
}

func TestPool_Cancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write(bytes.Repeat([]byte("x"), 100))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p, dir := newTestPool(t)
	dest := filepath.Join(dir, "c.bin")
	res := newResult()
	p.Enqueue(context.Background(), res.request("c", server.URL, dest))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		res.mu.Lock()
		n := len(res.progress)
		res.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !p.Cancel("c") {
		t.Fatal("Cancel() = false, want true")
	}
	if _, ok := res.wait(t).(domain.Cancelled); !ok {
		t.Fatalf("outcome = %#v, want Cancelled", res.outcome)
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be removed after cancel")
	}
	if p.Cancel("c") {
		t.Error("Cancel() of a finished transfer should return false")
	}
}

func TestPool_EnqueueValidation(t *testing.T) {
	p := New(nil, httpclient.New(nil), nil, zap.NewNop())
	if err := p.Enqueue(context.Background(), port.BulkRequest{ID: "a"}); !domain.IsKind(err, domain.KindInvalidRequest) {
		t.Errorf("Enqueue() error = %v, want invalid request", err)
	}
}

func TestPool_QueueFullAndStopped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	p := New(cfg, httpclient.New(nil), nil, zap.NewNop())

	req := port.BulkRequest{ID: "a", URL: "http://example.com", Destination: "d", TempPath: "d.tmp"}
	if err := p.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	req.ID = "b"
	if err := p.Enqueue(context.Background(), req); err != ErrQueueFull {
		t.Errorf("second Enqueue() error = %v, want ErrQueueFull", err)
	}

	p.Stop()
	req.ID = "c"
	if err := p.Enqueue(context.Background(), req); err != ErrClosed {
		t.Errorf("Enqueue() after Stop error = %v, want ErrClosed", err)
	}
}
