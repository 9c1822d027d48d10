package health

import (
	"fmt"
	"strings"
	"time"
)

// Dimension identifies one evaluated aspect of node health.
type Dimension string

const (
	DimensionContainers Dimension = "containers"
	DimensionSync       Dimension = "sync"
	DimensionPeers      Dimension = "peers"
	DimensionDisk       Dimension = "disk"
	DimensionRAM        Dimension = "ram"
)

// Dimensions lists every dimension in report order. Each evaluation emits one
// verdict per dimension, including the ones that could not be assessed.
var Dimensions = []Dimension{DimensionContainers, DimensionSync, DimensionPeers, DimensionDisk, DimensionRAM}

// Severity classifies a verdict.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Verdict is the classification of a single dimension for one cycle.
type Verdict struct {
	Dimension Dimension
	Severity  Severity
	Message   string
}

// Report aggregates the verdicts of one evaluation cycle.
type Report struct {
	Verdicts []Verdict
}

// Verdict returns the verdict for the given dimension.
func (r Report) Verdict(d Dimension) (Verdict, bool) {
	for _, v := range r.Verdicts {
		if v.Dimension == d {
			return v, true
		}
	}
	return Verdict{}, false
}

// Severity returns the severity for the given dimension, defaulting to OK for
// an unknown dimension.
func (r Report) Severity(d Dimension) Severity {
	if v, ok := r.Verdict(d); ok {
		return v.Severity
	}
	return SeverityOK
}

// Worst returns the highest severity across all verdicts.
func (r Report) Worst() Severity {
	worst := SeverityOK
	for _, v := range r.Verdicts {
		if v.Severity > worst {
			worst = v.Severity
		}
	}
	return worst
}

// Thresholds parameterise the evaluation; they come from configuration, never
// from constants buried in the logic.
type Thresholds struct {
	SyncStall        time.Duration
	MinPeers         uint64
	DiskWarnPercent  int
	DiskCritPercent  int
	DiskFatalPercent int
	RAMWarnPercent   int
	RAMCritPercent   int
}

// Display-only peer bands; recovery only acts on MinPeers.
const (
	peersVeryLowBand = 5
	peersLowBand     = 15
)

// Sync head age up to this bound still counts as fully in sync for display.
const syncFreshBound = 60 * time.Second

// Evaluate classifies a snapshot into one verdict per dimension. It is a pure
// function of its inputs: identical snapshots yield identical reports.
func Evaluate(snap Snapshot, th Thresholds) Report {
	return Report{Verdicts: []Verdict{
		evaluateContainers(snap),
		evaluateSync(snap, th),
		evaluatePeers(snap, th),
		evaluateDisk(snap, th),
		evaluateRAM(snap, th),
	}}
}

func evaluateContainers(snap Snapshot) Verdict {
	verdict := Verdict{Dimension: DimensionContainers}

	if snap.EngineErr != nil {
		verdict.Severity = SeverityCritical
		verdict.Message = fmt.Sprintf("container engine unreachable: %v", snap.EngineErr)
		return verdict
	}

	var missing, stopped []string
	for _, svc := range []ServiceSnapshot{snap.Execution, snap.Consensus} {
		switch {
		case !svc.State.Exists:
			missing = append(missing, svc.Container)
		case !svc.State.Running:
			stopped = append(stopped, svc.Container)
		}
	}

	switch {
	case len(missing) > 0:
		verdict.Severity = SeverityCritical
		verdict.Message = fmt.Sprintf("container %s missing", strings.Join(missing, ", "))
	case len(stopped) > 0:
		verdict.Severity = SeverityCritical
		verdict.Message = fmt.Sprintf("container %s stopped", strings.Join(stopped, ", "))
	default:
		verdict.Severity = SeverityOK
		verdict.Message = fmt.Sprintf("%s and %s running", snap.Execution.Container, snap.Consensus.Container)
	}
	return verdict
}

func servicesDown(snap Snapshot) bool {
	return snap.EngineErr != nil || !snap.Execution.State.Running || !snap.Consensus.State.Running
}

func evaluateSync(snap Snapshot, th Thresholds) Verdict {
	verdict := Verdict{Dimension: DimensionSync}

	if servicesDown(snap) {
		verdict.Severity = SeverityWarning
		verdict.Message = "not assessed: services not running"
		return verdict
	}
	if snap.Execution.SyncErr != nil {
		verdict.Severity = SeverityWarning
		verdict.Message = fmt.Sprintf("assessment failed: %v", snap.Execution.SyncErr)
		return verdict
	}
	sync := snap.Execution.Sync
	if sync == nil || sync.LatestTimestampUnix == 0 {
		verdict.Severity = SeverityWarning
		verdict.Message = "assessment failed: no block timestamp available"
		return verdict
	}

	age := snap.Now.Sub(time.Unix(int64(sync.LatestTimestampUnix), 0))
	if age < 0 {
		age = 0
	}

	// Strictly beyond the stall threshold is stuck; exactly at it is not.
	if age > th.SyncStall {
		verdict.Severity = SeverityCritical
		verdict.Message = fmt.Sprintf("no new execution blocks for %ds (threshold %ds)", int(age.Seconds()), int(th.SyncStall.Seconds()))
		return verdict
	}

	detail := fmt.Sprintf("head block %d, age %ds", sync.Current, int(age.Seconds()))
	if cons := snap.Consensus.Sync; cons != nil && cons.IsSyncing {
		detail += fmt.Sprintf("; beacon syncing, %d slots behind", cons.Target-cons.Current)
	}

	switch {
	case sync.IsSyncing:
		verdict.Severity = SeverityWarning
		verdict.Message = fmt.Sprintf("syncing block %d of %d", sync.Current, sync.Target)
	case age > syncFreshBound:
		verdict.Severity = SeverityWarning
		verdict.Message = "head lagging: " + detail
	default:
		verdict.Severity = SeverityOK
		verdict.Message = "in sync: " + detail
	}
	return verdict
}

func evaluatePeers(snap Snapshot, th Thresholds) Verdict {
	verdict := Verdict{Dimension: DimensionPeers}

	if servicesDown(snap) {
		verdict.Severity = SeverityWarning
		verdict.Message = "not assessed: services not running"
		return verdict
	}
	if snap.Execution.PeersErr != nil {
		verdict.Severity = SeverityWarning
		verdict.Message = fmt.Sprintf("assessment failed: %v", snap.Execution.PeersErr)
		return verdict
	}
	if snap.Execution.Peers == nil {
		verdict.Severity = SeverityWarning
		verdict.Message = "assessment failed: no peer count available"
		return verdict
	}

	peers := *snap.Execution.Peers
	detail := fmt.Sprintf("execution peers %d", peers)
	if snap.Consensus.Peers != nil {
		detail += fmt.Sprintf(", beacon peers %d", *snap.Consensus.Peers)
	}

	switch {
	case peers < th.MinPeers:
		verdict.Severity = SeverityCritical
		verdict.Message = fmt.Sprintf("%s, below minimum %d", detail, th.MinPeers)
	case peers < peersVeryLowBand:
		verdict.Severity = SeverityWarning
		verdict.Message = detail + " (very low)"
	case peers < peersLowBand:
		verdict.Severity = SeverityWarning
		verdict.Message = detail + " (low)"
	default:
		verdict.Severity = SeverityOK
		verdict.Message = detail
	}
	return verdict
}

func evaluateDisk(snap Snapshot, th Thresholds) Verdict {
	verdict := Verdict{Dimension: DimensionDisk}

	if snap.ResourcesErr != nil {
		verdict.Severity = SeverityWarning
		verdict.Message = fmt.Sprintf("assessment failed: %v", snap.ResourcesErr)
		return verdict
	}
	if snap.Resources == nil {
		verdict.Severity = SeverityWarning
		verdict.Message = "assessment failed: no resource snapshot"
		return verdict
	}

	used := snap.Resources.DiskUsedPercent
	detail := fmt.Sprintf("disk %d%% used on %s (%s free)", used, snap.Resources.DataPath, humanBytes(snap.Resources.DiskAvailableBytes))

	switch {
	case used > th.DiskFatalPercent:
		verdict.Severity = SeverityCritical
		verdict.Message = detail + ", beyond automated recovery"
	case used > th.DiskCritPercent:
		verdict.Severity = SeverityCritical
		verdict.Message = detail
	case used > th.DiskWarnPercent:
		verdict.Severity = SeverityWarning
		verdict.Message = detail
	default:
		verdict.Severity = SeverityOK
		verdict.Message = detail
	}
	return verdict
}

func evaluateRAM(snap Snapshot, th Thresholds) Verdict {
	verdict := Verdict{Dimension: DimensionRAM}

	if snap.ResourcesErr != nil {
		verdict.Severity = SeverityWarning
		verdict.Message = fmt.Sprintf("assessment failed: %v", snap.ResourcesErr)
		return verdict
	}
	if snap.Resources == nil {
		verdict.Severity = SeverityWarning
		verdict.Message = "assessment failed: no resource snapshot"
		return verdict
	}

	used := snap.Resources.RAMUsedPercent
	detail := fmt.Sprintf("ram %d%% used", used)

	switch {
	case used > th.RAMCritPercent:
		verdict.Severity = SeverityCritical
		verdict.Message = detail
	case used > th.RAMWarnPercent:
		verdict.Severity = SeverityWarning
		verdict.Message = detail
	default:
		verdict.Severity = SeverityOK
		verdict.Message = detail
	}
	return verdict
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
