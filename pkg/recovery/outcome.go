package recovery

import (
	"errors"

	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/health"
)

// ErrActionFailed marks a container action whose effect could not be
// performed or verified.
var ErrActionFailed = errors.New("recovery: container action failed")

// Status represents the final result of a single recovery pass.
type Status string

const (
	StatusHealthy             Status = "healthy"
	StatusDisabled            Status = "disabled"
	StatusLockUnavailable     Status = "lock_unavailable"
	StatusCooldownWithheld    Status = "cooldown_withheld"
	StatusDryRun              Status = "dry_run"
	StatusRecoveredSync       Status = "recovered_sync"
	StatusRecoveredPeers      Status = "recovered_peers"
	StatusRecoveredContainers Status = "recovered_containers"
	StatusEngineUnreachable   Status = "engine_unreachable"
	StatusContainerMissing    Status = "container_missing"
	StatusActionFailed        Status = "action_failed"
	StatusDiskCritical        Status = "disk_critical"
)

// Process exit codes form a stable contract with cron jobs and alerting
// hooks; renumbering them is a breaking change.
const (
	ExitNoAction            = 0
	ExitRecoveredSync       = 10
	ExitRecoveredPeers      = 11
	ExitRecoveredContainers = 12
	ExitEngineUnreachable   = 20
	ExitContainerMissing    = 21
	ExitActionFailed        = 22
	ExitDiskCritical        = 23
)

// ExitCode maps a pass status to the process exit code contract.
func (s Status) ExitCode() int {
	switch s {
	case StatusRecoveredSync:
		return ExitRecoveredSync
	case StatusRecoveredPeers:
		return ExitRecoveredPeers
	case StatusRecoveredContainers:
		return ExitRecoveredContainers
	case StatusEngineUnreachable:
		return ExitEngineUnreachable
	case StatusContainerMissing:
		return ExitContainerMissing
	case StatusActionFailed:
		return ExitActionFailed
	case StatusDiskCritical:
		return ExitDiskCritical
	default:
		return ExitNoAction
	}
}

// Fatal reports whether the status requires operator attention and cannot be
// resolved by another automated pass.
func (s Status) Fatal() bool {
	switch s {
	case StatusEngineUnreachable, StatusContainerMissing, StatusActionFailed, StatusDiskCritical:
		return true
	default:
		return false
	}
}

// Outcome summarises one recovery pass.
type Outcome struct {
	Status       Status
	Message      string
	Decision     Decision
	DryRun       bool
	LockAcquired bool
	Snapshot     *health.Snapshot
	Report       *health.Report
	// LogTail carries suspicious log lines from a container whose start or
	// restart could not be verified.
	LogTail []string
}
