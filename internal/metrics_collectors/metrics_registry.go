package metrics_collectors

import (
	"context"
	"math"

	"github.com/benmeehan/mip-agent/internal/utils"
	"github.com/benmeehan/mip-agent/pkg/identity"
	"github.com/rs/zerolog"
)

// MetricsRegistry holds the property collectors in registration order.
type MetricsRegistry struct {
	collectors map[string]PropertyCollector
	order      []string
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		collectors: make(map[string]PropertyCollector),
	}
}

// NewDefaultRegistry registers the built-in collectors named in enabled. An empty
// list enables all of them.
func NewDefaultRegistry(enabled []string, diskPath string, deviceInfo identity.DeviceInfoInterface, logger zerolog.Logger) *MetricsRegistry {
	all := []PropertyCollector{
		&FirmwareVersionCollector{DeviceInfo: deviceInfo},
		&ModelCollector{DeviceInfo: deviceInfo},
		&CPUMetricCollector{Logger: logger},
		&MemoryMetricCollector{Logger: logger},
		&DiskMetricCollector{Path: diskPath, Logger: logger},
		&UptimeMetricCollector{Logger: logger},
		&NetworkMetricCollector{Logger: logger},
	}

	want := utils.SliceToSet(enabled)
	r := NewMetricsRegistry()
	for _, c := range all {
		if _, ok := want[c.Name()]; len(want) == 0 || ok {
			r.Register(c)
		}
	}
	return r
}

// Register adds a collector. A collector with the same name replaces the old one.
func (r *MetricsRegistry) Register(collector PropertyCollector) {
	name := collector.Name()
	if _, exists := r.collectors[name]; !exists {
		r.order = append(r.order, name)
	}
	r.collectors[name] = collector
}

// Names returns the registered property keys in registration order.
func (r *MetricsRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// Collect runs every collector and returns the values that were available.
func (r *MetricsRegistry) Collect(ctx context.Context) map[string]any {
	values := make(map[string]any, len(r.order))
	for _, name := range r.order {
		if ctx.Err() != nil {
			break
		}
		if v := r.collectors[name].Collect(ctx); v != nil {
			values[name] = v
		}
	}
	return values
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
