package health

import (
	"strings"
	"testing"
	"time"
)

func TestRenderListsEveryDimension(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Execution.MemoryBytes = 24 << 30
	report := Evaluate(snap, testThresholds())

	out := Render("archive-01", snap, report)

	if !strings.HasPrefix(out, "node archive-01 health at 2026-08-31T12:00:00Z") {
		t.Fatalf("unexpected header: %q", out)
	}
	for _, d := range Dimensions {
		if !strings.Contains(out, string(d)) {
			t.Fatalf("missing dimension %s in output:\n%s", d, out)
		}
	}
	if !strings.Contains(out, "execution container memory: 24.0 GiB") {
		t.Fatalf("missing memory line:\n%s", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "overall: ok") {
		t.Fatalf("missing overall line:\n%s", out)
	}
}

func TestRenderOverallTracksWorstVerdict(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snap := healthySnapshot(now)
	snap.Execution.Peers = uintPtr(1)
	report := Evaluate(snap, testThresholds())

	out := Render("archive-01", snap, report)
	if !strings.Contains(out, "overall: critical") {
		t.Fatalf("expected critical overall:\n%s", out)
	}
}
