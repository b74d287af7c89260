package metrics_collectors

import (
	"context"

	"github.com/benmeehan/mip-agent/internal/constants"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/host"
)

// UptimeMetricCollector reports the host uptime in seconds.
type UptimeMetricCollector struct {
	Logger zerolog.Logger
}

func (u *UptimeMetricCollector) Name() string {
	return constants.PropertyUptime
}

func (u *UptimeMetricCollector) Collect(ctx context.Context) any {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		u.Logger.Error().Err(err).Msg("Failed to get host uptime")
		return nil
	}
	return uptime
}
