package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rcliao/resonance/internal/guard"
)

// FSBackend keeps one JSON document per record under a directory per
// partition. Every resolved path is cleared through the guard before
// it is touched; writes go through a temporary file and rename so a
// crash never leaves a half-written record behind.
type FSBackend struct {
	root string
	g    *guard.Guard
}

// NewFSBackend creates the root directory if needed. A nil guard
// means the permissive default policy.
func NewFSBackend(root string, g *guard.Guard) (*FSBackend, error) {
	if g == nil {
		g = guard.New(guard.DefaultPolicy)
	}
	norm, err := g.CheckPath(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(norm, 0o750); err != nil {
		return nil, fmt.Errorf("init store directory %s: %w", norm, err)
	}
	return &FSBackend{root: norm, g: g}, nil
}

// Root returns the normalized store root.
func (b *FSBackend) Root() string { return b.root }

func (b *FSBackend) recordPath(partition, id string) (string, error) {
	if partition == "" || id == "" {
		return "", fmt.Errorf("invalid record address %q/%q", partition, id)
	}
	if strings.ContainsAny(partition, "/\\") || strings.ContainsAny(id, "/\\") {
		return "", fmt.Errorf("record address %q/%q contains path separator", partition, id)
	}
	return b.g.CheckPath(filepath.Join(b.root, partition, id+".json"))
}

func (b *FSBackend) Write(_ context.Context, partition, id string, data []byte) error {
	path, err := b.recordPath(partition, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("init partition %s: %w", partition, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("atomic rename %s: %w", path, err)
	}
	return nil
}

func (b *FSBackend) Read(_ context.Context, partition, id string) ([]byte, error) {
	path, err := b.recordPath(partition, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", partition, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (b *FSBackend) List(_ context.Context, partition string) ([]string, error) {
	if partition == "" || strings.ContainsAny(partition, "/\\") {
		return nil, fmt.Errorf("invalid partition %q", partition)
	}
	dir, err := b.g.CheckPath(filepath.Join(b.root, partition))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *FSBackend) Delete(_ context.Context, partition, id string) error {
	path, err := b.recordPath(partition, id)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", partition, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (b *FSBackend) Close() error { return nil }
