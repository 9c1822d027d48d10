package health

import (
	"fmt"
	"strings"
	"time"
)

// Render formats a report for operators, one line per dimension plus an
// overall line. The layout is stable so it can be grepped from cron mail.
func Render(nodeName string, snap Snapshot, report Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "node %s health at %s\n", nodeName, snap.Now.UTC().Format(time.RFC3339))

	width := 0
	for _, d := range Dimensions {
		if len(d) > width {
			width = len(d)
		}
	}
	for _, d := range Dimensions {
		v, ok := report.Verdict(d)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %-*s  %-8s  %s\n", width, v.Dimension, v.Severity, v.Message)
	}

	for _, svc := range []ServiceSnapshot{snap.Execution, snap.Consensus} {
		if svc.MemoryBytes > 0 {
			fmt.Fprintf(&b, "  %s container memory: %s\n", svc.Role, humanBytes(svc.MemoryBytes))
		}
	}

	fmt.Fprintf(&b, "overall: %s\n", report.Worst())
	return b.String()
}
