package cooldown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// windowRecord is the on-disk representation of one cooldown window.
type windowRecord struct {
	Node      string    `json:"node"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileManager persists the cooldown window in a single JSON file, surviving
// watchdog restarts between cron-style invocations.
type FileManager struct {
	path string
	node string
	now  func() time.Time
}

// FileOption customises a FileManager.
type FileOption func(*FileManager)

// WithTimeSource injects a custom clock, used by tests.
func WithTimeSource(now func() time.Time) FileOption {
	return func(m *FileManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewFileManager creates a file-backed cooldown manager.
func NewFileManager(path, node string, opts ...FileOption) (*FileManager, error) {
	if path == "" {
		return nil, errors.New("cooldown file path must not be empty")
	}
	m := &FileManager{path: path, node: node, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Status reports whether a cooldown window is still open. A missing or
// unreadable record counts as no active cooldown so a lost state file never
// blocks recovery forever.
func (m *FileManager) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	raw, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("read cooldown file: %w", err)
	}

	var record windowRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return Status{}, nil
	}

	now := m.now()
	if !now.Before(record.ExpiresAt) {
		return Status{}, nil
	}
	return Status{
		Active:    true,
		Node:      record.Node,
		StartedAt: record.StartedAt,
		ExpiresAt: record.ExpiresAt,
		Remaining: record.ExpiresAt.Sub(now),
	}, nil
}

// Start opens a new cooldown window, replacing any existing one. The record is
// written via a temp file and rename so readers never observe a torn write.
func (m *FileManager) Start(ctx context.Context, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if duration <= 0 {
		return nil
	}

	now := m.now()
	payload, err := json.Marshal(windowRecord{
		Node:      m.node,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
	})
	if err != nil {
		return fmt.Errorf("encode cooldown record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create cooldown directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create cooldown temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cooldown record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cooldown temp file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cooldown file: %w", err)
	}
	return nil
}

// Close is a no-op for the file-backed manager.
func (m *FileManager) Close() error { return nil }
