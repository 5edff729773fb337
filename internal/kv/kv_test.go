package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileStorage(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	lite, err := NewSQLiteStorage(filepath.Join(dir, "db", "tripsync.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	mr := miniredis.RunT(t)
	rds, err := NewRedisStorage(mr.Addr(), 0, "test:")
	if err != nil {
		t.Fatalf("NewRedisStorage: %v", err)
	}

	all := map[string]Storage{"file": file, "sqlite": lite, "redis": rds}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func TestStorageContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.GetItem(ctx, "missing"); err != nil || ok {
				t.Fatalf("GetItem(missing) = ok=%v err=%v, want absent", ok, err)
			}

			if err := s.SetItem(ctx, "pending_trips", `[{"a":1}]`); err != nil {
				t.Fatalf("SetItem: %v", err)
			}
			got, ok, err := s.GetItem(ctx, "pending_trips")
			if err != nil || !ok || got != `[{"a":1}]` {
				t.Fatalf("GetItem = %q ok=%v err=%v", got, ok, err)
			}

			if err := s.SetItem(ctx, "pending_trips", `[]`); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			if got, _, _ := s.GetItem(ctx, "pending_trips"); got != `[]` {
				t.Fatalf("overwrite not visible, got %q", got)
			}

			if err := s.RemoveItem(ctx, "pending_trips"); err != nil {
				t.Fatalf("RemoveItem: %v", err)
			}
			if _, ok, _ := s.GetItem(ctx, "pending_trips"); ok {
				t.Fatal("value still present after RemoveItem")
			}
			if err := s.RemoveItem(ctx, "pending_trips"); err != nil {
				t.Fatalf("removing an absent key should not fail: %v", err)
			}
		})
	}
}

func TestFileStorageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetItem(ctx, "k/with slash", "v"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}

	reopened, err := NewFileStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := reopened.GetItem(ctx, "k/with slash")
	if err != nil || !ok || got != "v" {
		t.Fatalf("GetItem after reopen = %q ok=%v err=%v", got, ok, err)
	}
}

func TestSQLiteStorageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "q.db")

	s, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetItem(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if got, ok, _ := reopened.GetItem(ctx, "k"); !ok || got != "v" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(Options{Backend: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
