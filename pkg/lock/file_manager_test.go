package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T, owner string, now func() time.Time) (*FileManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recovery.lock")
	opts := []FileOption{WithFileOwner(owner)}
	if now != nil {
		opts = append(opts, WithFileTimeSource(now))
	}
	manager, err := NewFileManager(path, time.Minute, opts...)
	if err != nil {
		t.Fatalf("new file manager: %v", err)
	}
	return manager, path
}

func TestFileManagerAcquireAndRelease(t *testing.T) {
	manager, path := newTestManager(t, "pass-a", nil)

	lease, err := manager.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lease file to exist: %v", err)
	}

	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected lease file to be removed, got %v", err)
	}
}

func TestFileManagerContendedLease(t *testing.T) {
	manager, path := newTestManager(t, "pass-a", nil)
	if _, err := manager.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	second, err := NewFileManager(path, time.Minute, WithFileOwner("pass-b"))
	if err != nil {
		t.Fatalf("new second manager: %v", err)
	}
	if _, err := second.Acquire(context.Background()); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
}

func TestFileManagerBreaksStaleLease(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	manager, path := newTestManager(t, "pass-a", func() time.Time { return base })
	if _, err := manager.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// A second pass two minutes later sees a lease past its one-minute TTL.
	later := base.Add(2 * time.Minute)
	second, err := NewFileManager(path, time.Minute, WithFileOwner("pass-b"), WithFileTimeSource(func() time.Time { return later }))
	if err != nil {
		t.Fatalf("new second manager: %v", err)
	}
	lease, err := second.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected stale lease to be broken, got %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestFileManagerBreaksCorruptLease(t *testing.T) {
	manager, path := newTestManager(t, "pass-a", nil)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write corrupt lease: %v", err)
	}

	if _, err := manager.Acquire(context.Background()); err != nil {
		t.Fatalf("expected corrupt lease to be broken, got %v", err)
	}
}

func TestFileLeaseReleaseSkipsForeignLease(t *testing.T) {
	manager, path := newTestManager(t, "pass-a", func() time.Time { return time.Unix(1_700_000_000, 0) })
	lease, err := manager.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Simulate a later pass breaking the lease and acquiring its own.
	second, err := NewFileManager(path, time.Minute, WithFileOwner("pass-b"), WithFileTimeSource(func() time.Time { return time.Unix(1_700_000_000, 0).Add(2 * time.Minute) }))
	if err != nil {
		t.Fatalf("new second manager: %v", err)
	}
	if _, err := second.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected foreign lease to survive release, got %v", err)
	}
}

func TestFileManagerAcquireContextCancelled(t *testing.T) {
	manager, _ := newTestManager(t, "pass-a", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := manager.Acquire(ctx); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
