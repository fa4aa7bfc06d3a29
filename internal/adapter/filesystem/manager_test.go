package filesystem

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), ".tmp")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestManager_Resolve(t *testing.T) {
	m := newTestManager(t)

	if got := m.Resolve("a/b.bin"); got != filepath.Join(m.RootDir(), "a/b.bin") {
		t.Errorf("Resolve(relative) = %q", got)
	}
	if got := m.Resolve("/abs/./c.bin"); got != "/abs/c.bin" {
		t.Errorf("Resolve(absolute) = %q", got)
	}
}

func TestManager_OpenTemp(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(m.RootDir(), "nested", "f.bin.tmp")

	f, err := m.OpenTemp(path, true)
	if err != nil {
		t.Fatalf("OpenTemp() error = %v", err)
	}
	f.Write([]byte("hello"))
	f.Close()

	// append
	f, err = m.OpenTemp(path, false)
	if err != nil {
		t.Fatalf("OpenTemp(append) error = %v", err)
	}
	f.Write([]byte(" world"))
	f.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "hello world" {
		t.Errorf("content = %q, want %q", data, "hello world")
	}

	// truncate
	f, err = m.OpenTemp(path, true)
	if err != nil {
		t.Fatalf("OpenTemp(truncate) error = %v", err)
	}
	f.Write([]byte("x"))
	f.Close()

	size, _, err := m.GetTempFileInfo(path)
	if err != nil || size != 1 {
		t.Errorf("GetTempFileInfo() = %d, %v, want 1", size, err)
	}
}

func TestManager_Move(t *testing.T) {
	m := newTestManager(t)
	src := filepath.Join(m.RootDir(), "f.bin.tmp")
	dst := filepath.Join(m.RootDir(), "out", "f.bin")
	os.WriteFile(src, []byte("payload"), 0644)

	if err := m.Move(src, dst); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if m.FileExists(src) {
		t.Error("source should not exist after Move")
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "payload" {
		t.Errorf("destination content = %q", data)
	}
}

func TestManager_MoveMissingSource(t *testing.T) {
	m := newTestManager(t)

	err := m.Move(filepath.Join(m.RootDir(), "missing"), filepath.Join(m.RootDir(), "dst"))
	if err == nil {
		t.Fatal("Move() should fail for a missing source")
	}
	if !domain.IsKind(err, domain.KindFilesystem) {
		t.Errorf("error kind = %v, want filesystem", domain.KindOf(err))
	}
	if domain.CodeOf(err) != domain.ErrCodeFileNotFound {
		t.Errorf("CodeOf() = %d, want %d", domain.CodeOf(err), domain.ErrCodeFileNotFound)
	}
}

func TestManager_DeleteTempFile(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(m.RootDir(), "x.tmp")
	os.WriteFile(path, []byte("x"), 0644)

	if err := m.DeleteTempFile(path); err != nil {
		t.Fatalf("DeleteTempFile() error = %v", err)
	}
	if err := m.DeleteTempFile(path); err != nil {
		t.Errorf("DeleteTempFile(missing) error = %v", err)
	}
}

func TestManager_CleanOldTempFiles(t *testing.T) {
	m := newTestManager(t)
	old := time.Now().Add(-2 * time.Hour)

	stale := filepath.Join(m.RootDir(), "stale.bin.tmp")
	kept := filepath.Join(m.RootDir(), "active.bin.tmp")
	fresh := filepath.Join(m.RootDir(), "fresh.bin.tmp")
	other := filepath.Join(m.RootDir(), "done.bin")
	for _, p := range []string{stale, kept, fresh, other} {
		os.WriteFile(p, []byte("x"), 0644)
	}
	for _, p := range []string{stale, kept, other} {
		os.Chtimes(p, old, old)
	}

	n, err := m.CleanOldTempFiles(time.Hour, func(p string) bool { return p == kept })
	if err != nil {
		t.Fatalf("CleanOldTempFiles() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d files, want 1", n)
	}
	if m.FileExists(stale) {
		t.Error("stale temp file should be deleted")
	}
	for _, p := range []string{kept, fresh, other} {
		if !m.FileExists(p) {
			t.Errorf("%s should be kept", filepath.Base(p))
		}
	}
}

func TestManager_GetDiskUsage(t *testing.T) {
	m := newTestManager(t)

	usage, err := m.GetDiskUsage(filepath.Join(m.RootDir(), "not", "yet", "created.bin"))
	if err != nil {
		t.Fatalf("GetDiskUsage() error = %v", err)
	}
	if usage.Total == 0 {
		t.Error("Total should be non-zero")
	}
}
