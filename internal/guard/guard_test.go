package guard

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckPath_EmptyPolicyAllowsAll(t *testing.T) {
	g := New(Policy{})
	norm, err := g.CheckPath("/tmp/anywhere/file.json")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if norm != "/tmp/anywhere/file.json" {
		t.Errorf("unexpected normalized path %q", norm)
	}
}

func TestCheckPath_DenyWins(t *testing.T) {
	g := New(Policy{
		AllowedPathGlobs: []string{"/data/**"},
		DeniedPathGlobs:  []string{"/data/secrets/**"},
	})

	if _, err := g.CheckPath("/data/store/a.json"); err != nil {
		t.Errorf("allowed path rejected: %v", err)
	}

	_, err := g.CheckPath("/data/secrets/key.json")
	if !errors.Is(err, ErrPathRejected) {
		t.Errorf("expected ErrPathRejected, got %v", err)
	}
}

func TestCheckPath_OutsideAllowRejected(t *testing.T) {
	g := New(Policy{AllowedPathGlobs: []string{"/data/**"}})

	norm, err := g.CheckPath("/etc/passwd")
	if !errors.Is(err, ErrPathRejected) {
		t.Fatalf("expected ErrPathRejected, got %v", err)
	}
	if norm != "/etc/passwd" {
		t.Errorf("rejection must still report the normalized path, got %q", norm)
	}
}

func TestCheckPath_NormalizesTraversal(t *testing.T) {
	g := New(Policy{AllowedPathGlobs: []string{"/data/**"}})

	// The cleaned path escapes /data, so it must be rejected.
	if _, err := g.CheckPath("/data/store/../../etc/passwd"); !errors.Is(err, ErrPathRejected) {
		t.Errorf("expected traversal to be rejected, got %v", err)
	}

	norm, err := g.CheckPath("/data//store/./a.json")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if norm != filepath.Join("/data", "store", "a.json") {
		t.Errorf("expected cleaned path, got %q", norm)
	}
}

func TestLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(2)
	l.SetClock(func() time.Time { return now })

	if err := l.Allow("alice"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.Allow("alice"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if err := l.Allow("alice"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}

	// Another client has its own budget.
	if err := l.Allow("bob"); err != nil {
		t.Errorf("other client limited: %v", err)
	}

	// Window rolls after 60s.
	now = now.Add(61 * time.Second)
	if err := l.Allow("alice"); err != nil {
		t.Errorf("expected fresh window, got %v", err)
	}
}

func TestLimiter_NonPositiveLimitDisables(t *testing.T) {
	l := NewLimiter(0)
	for i := 0; i < 100; i++ {
		if err := l.Allow("anyone"); err != nil {
			t.Fatalf("unlimited limiter rejected: %v", err)
		}
	}
}
