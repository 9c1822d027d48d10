package health

import (
	"context"
	"time"

	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/chainclient"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/resources"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/runtime"
)

// ExecutionAPI is the slice of the execution JSON-RPC surface the collector
// needs. Satisfied by chainclient.ExecutionClient.
type ExecutionAPI interface {
	SyncStatus(ctx context.Context) (chainclient.ExecutionSync, error)
	LatestBlock(ctx context.Context) (chainclient.Block, error)
	PeerCount(ctx context.Context) (uint64, error)
}

// ConsensusAPI is the slice of the beacon REST surface the collector needs.
// Satisfied by chainclient.ConsensusClient.
type ConsensusAPI interface {
	SyncStatus(ctx context.Context) (chainclient.ConsensusSync, error)
	PeerCount(ctx context.Context) (uint64, error)
}

// ExecutionService binds a container name to its API client.
type ExecutionService struct {
	Container string
	API       ExecutionAPI
}

// ConsensusService binds a container name to its API client.
type ConsensusService struct {
	Container string
	API       ConsensusAPI
}

// Collector gathers one Snapshot per invocation. It never mutates anything; it
// only observes.
type Collector struct {
	probe             runtime.Probe
	execution         ExecutionService
	consensus         ConsensusService
	mountDestinations []string

	now              func() time.Time
	collectResources func(dataPath string) (resources.Snapshot, error)
}

// CollectorOption customises a Collector.
type CollectorOption func(*Collector)

// WithTimeSource overrides the wall clock, used by tests.
func WithTimeSource(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithResourceCollector overrides disk and memory collection, used by tests.
func WithResourceCollector(fn func(dataPath string) (resources.Snapshot, error)) CollectorOption {
	return func(c *Collector) {
		if fn != nil {
			c.collectResources = fn
		}
	}
}

// NewCollector wires a collector over the container probe and service clients.
// mountDestinations lists candidate in-container data mount paths in
// preference order; the first one present on the execution container decides
// which host filesystem disk usage is measured on.
func NewCollector(probe runtime.Probe, execution ExecutionService, consensus ConsensusService, mountDestinations []string, opts ...CollectorOption) *Collector {
	c := &Collector{
		probe:             probe,
		execution:         execution,
		consensus:         consensus,
		mountDestinations: mountDestinations,
		now:               time.Now,
		collectResources:  resources.Collect,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect produces a point-in-time snapshot. It never returns an error;
// failures land in the snapshot's error fields so the evaluator can classify
// them instead of aborting the cycle.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{
		Now:       c.now(),
		Execution: ServiceSnapshot{Role: RoleExecution, Container: c.execution.Container},
		Consensus: ServiceSnapshot{Role: RoleConsensus, Container: c.consensus.Container},
	}

	execState, execErr := c.probe.State(ctx, c.execution.Container)
	consState, consErr := c.probe.State(ctx, c.consensus.Container)
	if execErr != nil {
		snap.EngineErr = execErr
	} else if consErr != nil {
		snap.EngineErr = consErr
	}
	snap.Execution.State = execState
	snap.Consensus.State = consState

	// With the engine down nothing below can be trusted; report only what we
	// have so far.
	if snap.EngineErr != nil {
		return snap
	}

	if snap.Execution.State.Running {
		c.collectExecution(ctx, &snap.Execution)
	}
	if snap.Consensus.State.Running {
		c.collectConsensus(ctx, &snap.Consensus)
	}

	c.collectHostResources(ctx, &snap)
	return snap
}

func (c *Collector) collectExecution(ctx context.Context, svc *ServiceSnapshot) {
	block, blockErr := c.execution.API.LatestBlock(ctx)
	status, statusErr := c.execution.API.SyncStatus(ctx)
	switch {
	case blockErr != nil:
		svc.SyncErr = blockErr
	case statusErr != nil:
		svc.SyncErr = statusErr
	default:
		sync := SyncStatus{
			IsSyncing:           status.IsSyncing,
			Current:             block.Number,
			LatestTimestampUnix: block.TimestampUnix,
		}
		if status.IsSyncing {
			sync.Current = status.CurrentBlock
			sync.Target = status.HighestBlock
			sync.HasTarget = true
		}
		svc.Sync = &sync
	}

	if peers, err := c.execution.API.PeerCount(ctx); err != nil {
		svc.PeersErr = err
	} else {
		svc.Peers = &peers
	}

	// Memory is informational only; a stats failure never degrades the cycle.
	if bytes, err := c.probe.MemoryUsage(ctx, svc.Container); err == nil {
		svc.MemoryBytes = bytes
	}
}

func (c *Collector) collectConsensus(ctx context.Context, svc *ServiceSnapshot) {
	if status, err := c.consensus.API.SyncStatus(ctx); err != nil {
		svc.SyncErr = err
	} else {
		svc.Sync = &SyncStatus{
			IsSyncing: status.IsSyncing,
			Current:   status.HeadSlot,
			Target:    status.HeadSlot + status.SyncDistance,
			HasTarget: true,
		}
	}

	if peers, err := c.consensus.API.PeerCount(ctx); err != nil {
		svc.PeersErr = err
	} else {
		svc.Peers = &peers
	}

	if bytes, err := c.probe.MemoryUsage(ctx, svc.Container); err == nil {
		svc.MemoryBytes = bytes
	}
}

func (c *Collector) collectHostResources(ctx context.Context, snap *Snapshot) {
	dataPath := ""
	if snap.Execution.State.Exists {
		if resolved, err := c.probe.ResolveDataMount(ctx, c.execution.Container, c.mountDestinations); err == nil {
			dataPath = resolved
		}
	}
	if dataPath == "" && len(c.mountDestinations) > 0 {
		// Without a resolvable mount fall back to the first candidate path on
		// the host, which on single-disk setups measures the same filesystem.
		dataPath = c.mountDestinations[0]
	}

	res, err := c.collectResources(dataPath)
	if err != nil {
		snap.ResourcesErr = err
		return
	}
	snap.Resources = &res
}
