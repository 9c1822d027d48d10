package health

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/resources"
	"github.com/MaximCincinnatis/PulseChain-ArchiveNode-Installer/pkg/runtime"
)

func testThresholds() Thresholds {
	return Thresholds{
		SyncStall:        1800 * time.Second,
		MinPeers:         3,
		DiskWarnPercent:  80,
		DiskCritPercent:  90,
		DiskFatalPercent: 95,
		RAMWarnPercent:   80,
		RAMCritPercent:   90,
	}
}

func uintPtr(v uint64) *uint64 { return &v }

func healthySnapshot(now time.Time) Snapshot {
	running := runtime.State{Exists: true, Running: true}
	return Snapshot{
		Now: now,
		Execution: ServiceSnapshot{
			Role:      RoleExecution,
			Container: "execution",
			State:     running,
			Sync: &SyncStatus{
				Current:             19_000_000,
				LatestTimestampUnix: uint64(now.Add(-10 * time.Second).Unix()),
			},
			Peers: uintPtr(25),
		},
		Consensus: ServiceSnapshot{
			Role:      RoleConsensus,
			Container: "beacon",
			State:     running,
			Sync:      &SyncStatus{Current: 5_000_000, Target: 5_000_000, HasTarget: true},
			Peers:     uintPtr(40),
		},
		Resources: &resources.Snapshot{
			DataPath:           "/blockchain",
			DiskUsedPercent:    55,
			DiskAvailableBytes: 900 << 30,
			DiskTotalBytes:     2 << 40,
			RAMUsedPercent:     60,
		},
	}
}

func TestEvaluateHealthyIsAllOK(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	report := Evaluate(healthySnapshot(now), testThresholds())

	if len(report.Verdicts) != len(Dimensions) {
		t.Fatalf("expected %d verdicts, got %d", len(Dimensions), len(report.Verdicts))
	}
	for _, d := range Dimensions {
		if got := report.Severity(d); got != SeverityOK {
			v, _ := report.Verdict(d)
			t.Fatalf("dimension %s: expected ok, got %s (%s)", d, got, v.Message)
		}
	}
	if report.Worst() != SeverityOK {
		t.Fatalf("expected overall ok, got %s", report.Worst())
	}
}

func TestEvaluateSyncStallBoundary(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		age  time.Duration
		want Severity
	}{
		{"just inside", 1799 * time.Second, SeverityWarning},
		{"exactly at threshold", 1800 * time.Second, SeverityWarning},
		{"one second beyond", 1801 * time.Second, SeverityCritical},
		{"far beyond", 2000 * time.Second, SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := healthySnapshot(now)
			snap.Execution.Sync.LatestTimestampUnix = uint64(now.Add(-tc.age).Unix())
			report := Evaluate(snap, testThresholds())
			if got := report.Severity(DimensionSync); got != tc.want {
				t.Fatalf("age %s: expected %s, got %s", tc.age, tc.want, got)
			}
		})
	}
}

func TestEvaluateSyncFreshHeadIsOK(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Execution.Sync.LatestTimestampUnix = uint64(now.Add(-60 * time.Second).Unix())

	report := Evaluate(snap, testThresholds())
	if got := report.Severity(DimensionSync); got != SeverityOK {
		t.Fatalf("60s old head: expected ok, got %s", got)
	}
}

func TestEvaluateSyncingIsWarningNotCritical(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Execution.Sync = &SyncStatus{
		IsSyncing:           true,
		Current:             18_000_000,
		Target:              19_000_000,
		HasTarget:           true,
		LatestTimestampUnix: uint64(now.Add(-5 * time.Second).Unix()),
	}

	report := Evaluate(snap, testThresholds())
	if got := report.Severity(DimensionSync); got != SeverityWarning {
		t.Fatalf("expected warning while catching up, got %s", got)
	}
}

func TestEvaluatePeersBoundary(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		peers uint64
		want  Severity
	}{
		{0, SeverityCritical},
		{2, SeverityCritical},
		{3, SeverityWarning},
		{4, SeverityWarning},
		{5, SeverityWarning},
		{14, SeverityWarning},
		{15, SeverityOK},
		{30, SeverityOK},
	}
	for _, tc := range cases {
		snap := healthySnapshot(now)
		snap.Execution.Peers = uintPtr(tc.peers)
		report := Evaluate(snap, testThresholds())
		if got := report.Severity(DimensionPeers); got != tc.want {
			t.Fatalf("peers %d: expected %s, got %s", tc.peers, tc.want, got)
		}
	}
}

func TestEvaluateDiskBoundaries(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		used int
		want Severity
	}{
		{79, SeverityOK},
		{80, SeverityOK},
		{81, SeverityWarning},
		{90, SeverityWarning},
		{91, SeverityCritical},
		{95, SeverityCritical},
		{96, SeverityCritical},
	}
	for _, tc := range cases {
		snap := healthySnapshot(now)
		snap.Resources.DiskUsedPercent = tc.used
		report := Evaluate(snap, testThresholds())
		if got := report.Severity(DimensionDisk); got != tc.want {
			t.Fatalf("disk %d%%: expected %s, got %s", tc.used, tc.want, got)
		}
	}
}

func TestEvaluateDiskBeyondRecoveryMessage(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Resources.DiskUsedPercent = 97

	report := Evaluate(snap, testThresholds())
	v, _ := report.Verdict(DimensionDisk)
	if v.Severity != SeverityCritical {
		t.Fatalf("expected critical, got %s", v.Severity)
	}
	if want := "beyond automated recovery"; !contains(v.Message, want) {
		t.Fatalf("expected message to mention %q, got %q", want, v.Message)
	}
}

func TestEvaluateRAMBoundaries(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		used int
		want Severity
	}{
		{80, SeverityOK},
		{81, SeverityWarning},
		{90, SeverityWarning},
		{91, SeverityCritical},
	}
	for _, tc := range cases {
		snap := healthySnapshot(now)
		snap.Resources.RAMUsedPercent = tc.used
		report := Evaluate(snap, testThresholds())
		if got := report.Severity(DimensionRAM); got != tc.want {
			t.Fatalf("ram %d%%: expected %s, got %s", tc.used, tc.want, got)
		}
	}
}

func TestEvaluateEngineUnreachable(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.EngineErr = runtime.ErrRuntimeUnavailable
	snap.Execution.State = runtime.State{}
	snap.Consensus.State = runtime.State{}
	snap.Execution.Sync, snap.Execution.Peers = nil, nil
	snap.Consensus.Sync, snap.Consensus.Peers = nil, nil

	report := Evaluate(snap, testThresholds())
	if got := report.Severity(DimensionContainers); got != SeverityCritical {
		t.Fatalf("expected critical containers verdict, got %s", got)
	}
	for _, d := range []Dimension{DimensionSync, DimensionPeers} {
		v, _ := report.Verdict(d)
		if v.Severity != SeverityWarning || !contains(v.Message, "not assessed") {
			t.Fatalf("dimension %s: expected not-assessed warning, got %s %q", d, v.Severity, v.Message)
		}
	}
}

func TestEvaluateStoppedContainer(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Execution.State = runtime.State{Exists: true, Running: false}
	snap.Execution.Sync, snap.Execution.Peers = nil, nil

	report := Evaluate(snap, testThresholds())
	v, _ := report.Verdict(DimensionContainers)
	if v.Severity != SeverityCritical || !contains(v.Message, "stopped") {
		t.Fatalf("expected stopped critical, got %s %q", v.Severity, v.Message)
	}
	if got := report.Severity(DimensionSync); got != SeverityWarning {
		t.Fatalf("expected sync not assessed, got %s", got)
	}
	// Disk and RAM are host facts and stay assessable regardless.
	if got := report.Severity(DimensionDisk); got != SeverityOK {
		t.Fatalf("expected disk still ok, got %s", got)
	}
}

func TestEvaluateMissingContainer(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Consensus.State = runtime.State{}
	snap.Consensus.Sync, snap.Consensus.Peers = nil, nil

	report := Evaluate(snap, testThresholds())
	v, _ := report.Verdict(DimensionContainers)
	if v.Severity != SeverityCritical || !contains(v.Message, "missing") {
		t.Fatalf("expected missing critical, got %s %q", v.Severity, v.Message)
	}
}

func TestEvaluateQueryFailureIsWarning(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Execution.Sync = nil
	snap.Execution.SyncErr = errors.New("connection refused")
	snap.Execution.Peers = nil
	snap.Execution.PeersErr = errors.New("connection refused")

	report := Evaluate(snap, testThresholds())
	for _, d := range []Dimension{DimensionSync, DimensionPeers} {
		v, _ := report.Verdict(d)
		if v.Severity != SeverityWarning || !contains(v.Message, "assessment failed") {
			t.Fatalf("dimension %s: expected assessment-failed warning, got %s %q", d, v.Severity, v.Message)
		}
	}
}

func TestEvaluateResourceFailureIsWarning(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Resources = nil
	snap.ResourcesErr = errors.New("statfs failed")

	report := Evaluate(snap, testThresholds())
	for _, d := range []Dimension{DimensionDisk, DimensionRAM} {
		if got := report.Severity(d); got != SeverityWarning {
			t.Fatalf("dimension %s: expected warning, got %s", d, got)
		}
	}
}

func TestEvaluateIsPure(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Execution.Peers = uintPtr(2)
	snap.Resources.DiskUsedPercent = 92

	first := Evaluate(snap, testThresholds())
	second := Evaluate(snap, testThresholds())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("evaluation not deterministic:\n%+v\n%+v", first, second)
	}
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
