package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "state", "engine.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Errorf("Get(missing) = ok %v, err %v", ok, err)
	}

	if err := s.Set(ctx, "downloader_transfers", `{"a":1}`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "downloader_transfers", `{"a":2}`); err != nil {
		t.Fatalf("Set(overwrite) error = %v", err)
	}

	v, ok, err := s.Get(ctx, "downloader_transfers")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v", ok, err)
	}
	if v != `{"a":2}` {
		t.Errorf("Get() = %q, want %q", v, `{"a":2}`)
	}
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "engine.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Set(ctx, "k", "v")
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	if v, ok, _ := s.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("Get() after reopen = %q, %v", v, ok)
	}
}
