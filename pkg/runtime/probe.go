package runtime

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRuntimeUnavailable indicates the container engine itself cannot be reached.
	ErrRuntimeUnavailable = errors.New("runtime: container engine unreachable")
	// ErrContainerNotFound indicates the named container does not exist.
	// Callers probing for existence treat this as a normal negative result.
	ErrContainerNotFound = errors.New("runtime: container not found")
)

// State captures the lifecycle facts the watchdog needs about one container.
type State struct {
	Exists    bool
	Running   bool
	CreatedAt time.Time
}

// Probe queries and drives containers by name through the container engine.
type Probe interface {
	// State reports existence, running state, and creation time. A missing
	// container yields State{Exists: false} with a nil error.
	State(ctx context.Context, name string) (State, error)
	// ResolveDataMount returns the host source path of the first mount whose
	// destination matches one of the candidates, in candidate order.
	ResolveDataMount(ctx context.Context, name string, destinations []string) (string, error)
	Start(ctx context.Context, name string) error
	// Stop requests a graceful stop bounded by timeout. Exceeding the bound is
	// a soft failure callers may escalate to Kill.
	Stop(ctx context.Context, name string, timeout time.Duration) error
	Kill(ctx context.Context, name string) error
	// TailLogs returns up to lines recent log lines for diagnostics.
	TailLogs(ctx context.Context, name string, lines int) ([]string, error)
	// MemoryUsage reports current memory consumption in bytes.
	MemoryUsage(ctx context.Context, name string) (uint64, error)
}
