package resources

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
)

// Snapshot captures disk usage of the blockchain data path and host memory.
type Snapshot struct {
	DataPath           string
	DiskUsedPercent    int
	DiskAvailableBytes uint64
	DiskTotalBytes     uint64
	RAMUsedPercent     int
	RAMTotalBytes      uint64
}

// Hooks for tests; production uses gopsutil directly.
var (
	diskUsage     = disk.Usage
	virtualMemory = mem.VirtualMemory
)

// Collect reads current disk and memory figures for the given data path.
// Percentages use truncating integer arithmetic so threshold comparisons are
// reproducible across runs.
func Collect(dataPath string) (Snapshot, error) {
	if strings.TrimSpace(dataPath) == "" {
		return Snapshot{}, errors.New("data path must not be empty")
	}

	usage, err := diskUsage(dataPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("disk usage for %s: %w", dataPath, err)
	}
	if usage.Total == 0 {
		return Snapshot{}, fmt.Errorf("disk usage for %s: zero total capacity", dataPath)
	}

	vm, err := virtualMemory()
	if err != nil {
		return Snapshot{}, fmt.Errorf("virtual memory: %w", err)
	}
	if vm.Total == 0 {
		return Snapshot{}, errors.New("virtual memory: zero total capacity")
	}

	return Snapshot{
		DataPath:           dataPath,
		DiskUsedPercent:    usedPercent(usage.Free, usage.Total),
		DiskAvailableBytes: usage.Free,
		DiskTotalBytes:     usage.Total,
		RAMUsedPercent:     usedPercent(vm.Available, vm.Total),
		RAMTotalBytes:      vm.Total,
	}, nil
}

// usedPercent computes 100 - available*100/total with truncating division.
func usedPercent(available, total uint64) int {
	if total == 0 {
		return 0
	}
	return 100 - int(available*100/total)
}
