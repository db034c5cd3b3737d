package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rcliao/resonance/internal/guard"
)

func testBackends(t *testing.T) map[string]Backend {
	t.Helper()
	fsb, err := NewFSBackend(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("create fs backend: %v", err)
	}
	sqb, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "resonance.db"), nil)
	if err != nil {
		t.Fatalf("create sqlite backend: %v", err)
	}
	t.Cleanup(func() {
		fsb.Close()
		sqb.Close()
	})
	return map[string]Backend{"fs": fsb, "sqlite": sqb}
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Write(ctx, "persona", "01A", []byte(`{"v":1}`)); err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := b.Read(ctx, "persona", "01A")
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != `{"v":1}` {
				t.Errorf("expected round trip, got %q", got)
			}

			// Overwrite replaces.
			if err := b.Write(ctx, "persona", "01A", []byte(`{"v":2}`)); err != nil {
				t.Fatalf("rewrite: %v", err)
			}
			got, _ = b.Read(ctx, "persona", "01A")
			if string(got) != `{"v":2}` {
				t.Errorf("expected overwrite, got %q", got)
			}
		})
	}
}

func TestBackendReadMissing(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Read(ctx, "persona", "nope")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestBackendListSorted(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"03C", "01A", "02B"} {
				if err := b.Write(ctx, "technical", id, []byte("{}")); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			ids, err := b.List(ctx, "technical")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			want := []string{"01A", "02B", "03C"}
			if len(ids) != len(want) {
				t.Fatalf("expected %d ids, got %d", len(want), len(ids))
			}
			for i := range want {
				if ids[i] != want[i] {
					t.Errorf("expected %v, got %v", want, ids)
					break
				}
			}
		})
	}
}

func TestBackendListEmptyPartition(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ids, err := b.List(ctx, "sessions")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(ids) != 0 {
				t.Errorf("expected empty list, got %v", ids)
			}
		})
	}
}

func TestBackendDelete(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Write(ctx, "runtime", "01A", []byte("{}")); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := b.Delete(ctx, "runtime", "01A"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := b.Read(ctx, "runtime", "01A"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
			if err := b.Delete(ctx, "runtime", "01A"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound on missing delete, got %v", err)
			}
		})
	}
}

func TestBackendPartitionsIsolated(t *testing.T) {
	ctx := context.Background()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			b.Write(ctx, "persona", "01A", []byte("p"))
			b.Write(ctx, "graph", "01A", []byte("g"))

			got, err := b.Read(ctx, "graph", "01A")
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(got) != "g" {
				t.Errorf("partitions leaked: got %q", got)
			}
			if err := b.Delete(ctx, "persona", "01A"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := b.Read(ctx, "graph", "01A"); err != nil {
				t.Errorf("delete crossed partitions: %v", err)
			}
		})
	}
}

func TestFSBackendWritesJSONFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := NewFSBackend(root, nil)
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}

	if err := b.Write(ctx, "persona", "01A", []byte("{}")); err != nil {
		t.Fatalf("write: %v", err)
	}
	path := filepath.Join(b.Root(), "persona", "01A.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected record file at %s: %v", path, err)
	}

	entries, err := os.ReadDir(filepath.Join(b.Root(), "persona"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFSBackendRejectsPathSeparators(t *testing.T) {
	ctx := context.Background()
	b, err := NewFSBackend(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}

	if err := b.Write(ctx, "persona", "../escape", []byte("{}")); err == nil {
		t.Error("expected separator in id to be rejected")
	}
	if err := b.Write(ctx, "a/b", "01A", []byte("{}")); err == nil {
		t.Error("expected separator in partition to be rejected")
	}
}

func TestFSBackendHonorsGuard(t *testing.T) {
	root := t.TempDir()
	g := guard.New(guard.Policy{AllowedPathGlobs: []string{filepath.Join(root, "allowed", "**")}})

	if _, err := NewFSBackend(filepath.Join(root, "other"), g); !errors.Is(err, guard.ErrPathRejected) {
		t.Errorf("expected ErrPathRejected outside allow list, got %v", err)
	}
	if _, err := NewFSBackend(filepath.Join(root, "allowed", "store"), g); err != nil {
		t.Errorf("expected allowed root to open, got %v", err)
	}
}

func TestSQLiteBackendCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "resonance.db")
	b, err := NewSQLiteBackend(dbPath, nil)
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	b.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("expected db file to be created")
	}
}
