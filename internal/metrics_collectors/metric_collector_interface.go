package metrics_collectors

import (
	"context"
)

// PropertyCollector collects one device property for property uplinks.
type PropertyCollector interface {
	Name() string                    // Property key in the uplink payload
	Collect(ctx context.Context) any // Current value, nil when unavailable
}
