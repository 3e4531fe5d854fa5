package placement

import (
	"fmt"
	"runtime"

	"github.com/cuemby/hive/pkg/types"
	"github.com/prometheus/procfs"
)

// StatsCollector reads the node capacity figures from procfs
type StatsCollector struct {
	fs procfs.FS
}

// NewStatsCollector creates a collector reading mountPoint, /proc when empty
func NewStatsCollector(mountPoint string) (*StatsCollector, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return &StatsCollector{fs: fs}, nil
}

// Collect returns the current load and memory figures and their score
func (c *StatsCollector) Collect() (types.NodeStats, error) {
	var stats types.NodeStats

	load, err := c.fs.LoadAvg()
	if err != nil {
		return stats, fmt.Errorf("failed to read load average: %w", err)
	}
	stats.Load15 = load.Load15

	mem, err := c.fs.Meminfo()
	if err != nil {
		return stats, fmt.Errorf("failed to read meminfo: %w", err)
	}
	if mem.MemTotal != nil && *mem.MemTotal > 0 {
		stats.MemTotalMB = *mem.MemTotal / 1024
		if mem.MemAvailable != nil {
			stats.MemAvailPct = int(*mem.MemAvailable * 100 / *mem.MemTotal)
		}
	}

	stats.Score = ComputeScore(stats, runtime.NumCPU())
	return stats, nil
}

// ComputeScore weighs the available memory percentage by the cpu headroom.
// The result is in [0, 100].
func ComputeScore(stats types.NodeStats, ncpu int) int {
	if ncpu <= 0 {
		ncpu = 1
	}
	busy := stats.Load15 / float64(ncpu)
	if busy > 1 {
		busy = 1
	}
	return int(float64(stats.MemAvailPct) * (1 - busy/2))
}
