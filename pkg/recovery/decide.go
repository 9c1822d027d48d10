package recovery

import (
	"fmt"
	"strings"

	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/health"
)

// Action names the single corrective measure chosen for a pass.
type Action string

const (
	// ActionNone means the node is healthy enough to leave alone.
	ActionNone Action = "none"
	// ActionStartStopped starts existing but stopped containers in dependency
	// order, execution before consensus.
	ActionStartStopped Action = "start_stopped"
	// ActionFullRestart stops and restarts both services after a sync stall.
	ActionFullRestart Action = "full_restart"
	// ActionRestartExecution restarts only the execution service to recover
	// its peer connectivity.
	ActionRestartExecution Action = "restart_execution"
	// ActionReportEngineDown, ActionReportMissing, and ActionReportDiskFull
	// take no container action; the condition needs an operator.
	ActionReportEngineDown Action = "report_engine_down"
	ActionReportMissing    Action = "report_missing"
	ActionReportDiskFull   Action = "report_disk_full"
)

// Restart reports whether the action stops or starts containers.
func (a Action) Restart() bool {
	switch a {
	case ActionStartStopped, ActionFullRestart, ActionRestartExecution:
		return true
	default:
		return false
	}
}

// Decision pairs the chosen action with its trigger. StoppedRoles is only set
// for ActionStartStopped and lists what must be started, in start order.
type Decision struct {
	Action       Action
	Reason       string
	StoppedRoles []health.Role
}

// Decide picks at most one corrective action for the snapshot. The order is
// fixed: engine and container existence first, then stopped containers, then
// a stuck sync, then low peers, then unrecoverable disk pressure. A stuck
// sync outranks low peers because the full restart it triggers also renews
// peer connections.
func Decide(snap health.Snapshot, report health.Report, th health.Thresholds) Decision {
	if snap.EngineErr != nil {
		return Decision{
			Action: ActionReportEngineDown,
			Reason: fmt.Sprintf("container engine unreachable: %v", snap.EngineErr),
		}
	}

	var missing []string
	for _, svc := range []health.ServiceSnapshot{snap.Execution, snap.Consensus} {
		if !svc.State.Exists {
			missing = append(missing, svc.Container)
		}
	}
	if len(missing) > 0 {
		return Decision{
			Action: ActionReportMissing,
			Reason: fmt.Sprintf("container %s does not exist", strings.Join(missing, ", ")),
		}
	}

	var stoppedRoles []health.Role
	var stoppedNames []string
	for _, svc := range []health.ServiceSnapshot{snap.Execution, snap.Consensus} {
		if !svc.State.Running {
			stoppedRoles = append(stoppedRoles, svc.Role)
			stoppedNames = append(stoppedNames, svc.Container)
		}
	}
	if len(stoppedRoles) > 0 {
		return Decision{
			Action:       ActionStartStopped,
			Reason:       fmt.Sprintf("container %s stopped", strings.Join(stoppedNames, ", ")),
			StoppedRoles: stoppedRoles,
		}
	}

	if report.Severity(health.DimensionSync) == health.SeverityCritical {
		reason := "sync stalled"
		if v, ok := report.Verdict(health.DimensionSync); ok {
			reason = v.Message
		}
		return Decision{Action: ActionFullRestart, Reason: reason}
	}

	if report.Severity(health.DimensionPeers) == health.SeverityCritical {
		reason := "peer count below minimum"
		if v, ok := report.Verdict(health.DimensionPeers); ok {
			reason = v.Message
		}
		return Decision{Action: ActionRestartExecution, Reason: reason}
	}

	if snap.Resources != nil && snap.Resources.DiskUsedPercent > th.DiskFatalPercent {
		return Decision{
			Action: ActionReportDiskFull,
			Reason: fmt.Sprintf("disk %d%% used on %s, free space before restarting", snap.Resources.DiskUsedPercent, snap.Resources.DataPath),
		}
	}

	return Decision{Action: ActionNone, Reason: "all health dimensions within bounds"}
}
