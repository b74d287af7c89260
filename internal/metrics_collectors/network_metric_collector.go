package metrics_collectors

import (
	"context"
	"sync"
	"time"

	"github.com/benmeehan/mip-agent/internal/constants"
	"github.com/benmeehan/mip-agent/internal/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/net"
)

// NetworkMetricCollector collects network I/O rates between two collections.
type NetworkMetricCollector struct {
	Logger zerolog.Logger

	mu       sync.Mutex
	lastIn   uint64
	lastOut  uint64
	lastTime time.Time
}

// Name returns the property key for network rates.
func (n *NetworkMetricCollector) Name() string {
	return constants.PropertyNetwork
}

// Collect retrieves the network I/O rates. The first call only primes the counters.
func (n *NetworkMetricCollector) Collect(ctx context.Context) any {
	netStats, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		n.Logger.Error().Err(err).Msg("Failed to retrieve network statistics")
		return nil
	}
	if len(netStats) == 0 {
		n.Logger.Warn().Msg("No network statistics available")
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	curr := netStats[0]
	now := time.Now()
	if n.lastTime.IsZero() {
		n.lastIn, n.lastOut, n.lastTime = curr.BytesRecv, curr.BytesSent, now
		return nil
	}

	secs := now.Sub(n.lastTime).Seconds()
	if secs <= 0 {
		return nil
	}

	rates := models.NetworkRates{
		InRate:  round2(float64(curr.BytesRecv-n.lastIn) / secs),
		OutRate: round2(float64(curr.BytesSent-n.lastOut) / secs),
	}
	n.lastIn, n.lastOut, n.lastTime = curr.BytesRecv, curr.BytesSent, now

	n.Logger.Debug().
		Float64("network_in", rates.InRate).
		Float64("network_out", rates.OutRate).
		Msg("Network I/O rate collected successfully")
	return rates
}
