package metrics_collectors

import (
	"context"

	"github.com/benmeehan/mip-agent/internal/constants"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/disk"
)

// DiskMetricCollector collects disk usage of the filesystem holding Path.
type DiskMetricCollector struct {
	Path   string
	Logger zerolog.Logger
}

func (d *DiskMetricCollector) Name() string {
	return constants.PropertyDisk
}

func (d *DiskMetricCollector) Collect(ctx context.Context) any {
	path := d.Path
	if path == "" {
		path = "/"
	}
	diskStats, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		d.Logger.Error().Err(err).Str("path", path).Msg("Failed to get disk usage")
		return nil
	}
	return round2(diskStats.UsedPercent)
}
