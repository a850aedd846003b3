package agent

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// MetricsCollector gathers host statistics for heartbeats and the
// get_metrics control command.
type MetricsCollector struct {
	hostname  string
	workDir   string
	startTime time.Time
}

// NewMetricsCollector creates a collector. workDir is the directory whose
// disk usage is reported, usually the transcode scratch space.
func NewMetricsCollector(workDir string) *MetricsCollector {
	hostname, _ := os.Hostname()
	return &MetricsCollector{
		hostname:  hostname,
		workDir:   workDir,
		startTime: time.Now(),
	}
}

// Snapshot collects current host metrics. Probes that fail are simply left
// out of the result.
func (c *MetricsCollector) Snapshot(ctx context.Context) map[string]any {
	stats := map[string]any{
		"hostname":       c.hostname,
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"agent_uptime_s": int64(time.Since(c.startTime).Seconds()),
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		stats["host_uptime_s"] = int64(uptime)
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats["cpu_cores"] = counts
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats["cpu_percent"] = percents[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats["load_1m"] = avg.Load1
		stats["load_5m"] = avg.Load5
		stats["load_15m"] = avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["memory_total_bytes"] = vm.Total
		stats["memory_used_bytes"] = vm.Used
		stats["memory_percent"] = vm.UsedPercent
	}
	if c.workDir != "" {
		if usage, err := disk.UsageWithContext(ctx, c.workDir); err == nil {
			stats["disk_total_bytes"] = usage.Total
			stats["disk_free_bytes"] = usage.Free
			stats["disk_percent"] = usage.UsedPercent
		}
	}
	return stats
}
