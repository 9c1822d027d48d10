package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// leaseRecord is the on-disk representation of a held lease.
type leaseRecord struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileManager implements Manager with an exclusively created lease file.
// A lease older than the TTL is treated as abandoned by a crashed pass and
// broken, so a dead holder cannot permanently block recovery.
type FileManager struct {
	path  string
	ttl   time.Duration
	owner string
	now   func() time.Time
}

// FileOption customises a FileManager.
type FileOption func(*FileManager)

// WithFileTimeSource injects a custom time source for tests.
func WithFileTimeSource(fn func() time.Time) FileOption {
	return func(m *FileManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithFileOwner overrides the owner identity recorded in the lease file.
func WithFileOwner(owner string) FileOption {
	return func(m *FileManager) {
		if strings.TrimSpace(owner) != "" {
			m.owner = owner
		}
	}
}

// NewFileManager constructs a file-backed lease manager at the given path.
func NewFileManager(path string, ttl time.Duration, opts ...FileOption) (*FileManager, error) {
	cleaned := strings.TrimSpace(path)
	if cleaned == "" {
		return nil, errors.New("lock file path must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be greater than zero")
	}

	host, _ := os.Hostname()
	manager := &FileManager{
		path:  cleaned,
		ttl:   ttl,
		owner: fmt.Sprintf("%s/%d", host, os.Getpid()),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager, nil
}

// Acquire implements Manager. It never blocks waiting for the lease: a live
// competing lease yields ErrNotAcquired immediately.
func (m *FileManager) Acquire(ctx context.Context) (Lease, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lease, err := m.tryCreate()
	if err == nil {
		return lease, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	stale, readErr := m.holderIsStale()
	if readErr != nil {
		return nil, readErr
	}
	if !stale {
		return nil, ErrNotAcquired
	}

	// Break the stale lease and retry the exclusive create exactly once; a
	// racing pass may legitimately win the recreate.
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale lock: %w", err)
	}
	lease, err = m.tryCreate()
	if err == nil {
		return lease, nil
	}
	if errors.Is(err, os.ErrExist) {
		return nil, ErrNotAcquired
	}
	return nil, fmt.Errorf("create lock file: %w", err)
}

func (m *FileManager) tryCreate() (Lease, error) {
	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	record := leaseRecord{Owner: m.owner, PID: os.Getpid(), AcquiredAt: m.now()}
	payload, err := json.Marshal(record)
	if err != nil {
		f.Close()
		os.Remove(m.path)
		return nil, fmt.Errorf("marshal lease record: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(m.path)
		return nil, fmt.Errorf("write lease record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(m.path)
		return nil, fmt.Errorf("close lease file: %w", err)
	}
	return &fileLease{path: m.path, owner: m.owner}, nil
}

func (m *FileManager) holderIsStale() (bool, error) {
	payload, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Holder released between our create attempt and the read.
			return true, nil
		}
		return false, fmt.Errorf("read lock file: %w", err)
	}

	var record leaseRecord
	if err := json.Unmarshal(payload, &record); err != nil || record.AcquiredAt.IsZero() {
		// An unreadable lease file cannot be trusted to expire on its own.
		return true, nil
	}
	return m.now().Sub(record.AcquiredAt) > m.ttl, nil
}

type fileLease struct {
	path  string
	owner string
}

// Release removes the lease file if this lease still owns it. A lease that was
// broken as stale by another pass is not removed out from under the new holder.
func (l *fileLease) Release(ctx context.Context) error {
	payload, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read lease file: %w", err)
	}

	var record leaseRecord
	if err := json.Unmarshal(payload, &record); err == nil && record.Owner != l.owner {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lease file: %w", err)
	}
	return nil
}

var _ Manager = (*FileManager)(nil)
var _ Lease = (*fileLease)(nil)
