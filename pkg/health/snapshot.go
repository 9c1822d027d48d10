package health

import (
	"time"

	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/resources"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/runtime"
)

// Role distinguishes the two supervised services. The execution service must
// always be started before the consensus service and stopped after it.
type Role string

const (
	RoleExecution Role = "execution"
	RoleConsensus Role = "consensus"
)

// SyncStatus is a per-service view of synchronization progress, captured from
// a single round trip and never reused across cycles.
type SyncStatus struct {
	IsSyncing bool
	// Current is the head block (execution) or head slot (consensus).
	Current uint64
	// Target is only meaningful when HasTarget is set.
	Target    uint64
	HasTarget bool
	// LatestTimestampUnix is the timestamp of the newest block the execution
	// service has; zero when unknown (consensus side never sets it).
	LatestTimestampUnix uint64
}

// ServiceSnapshot combines container state with the service's own status
// answers for one evaluation cycle.
type ServiceSnapshot struct {
	Role      Role
	Container string
	State     runtime.State
	// Sync and Peers stay nil when the dimension was not assessed, either
	// because the container is down or because the query failed (see the
	// corresponding error field).
	Sync        *SyncStatus
	SyncErr     error
	Peers       *uint64
	PeersErr    error
	MemoryBytes uint64
}

// Snapshot is the complete input to one health evaluation.
type Snapshot struct {
	Now          time.Time
	EngineErr    error
	Execution    ServiceSnapshot
	Consensus    ServiceSnapshot
	Resources    *resources.Snapshot
	ResourcesErr error
}
