package health

import (
	"context"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/monitor"
)

// SystemHealth is the aggregated view over every check's latest result.
type SystemHealth struct {
	Status       Status            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Checks       map[string]Result `json:"checks"`
	StatusCounts map[Status]int    `json:"status_counts"`
	Resources    *monitor.Sample   `json:"resources,omitempty"`
}

// Aggregator folds the registry's latest results into a single status.
type Aggregator struct {
	registry *Registry
	monitor  *monitor.Monitor
}

// NewAggregator wires the aggregator. monitor may be nil.
func NewAggregator(registry *Registry, mon *monitor.Monitor) *Aggregator {
	return &Aggregator{registry: registry, monitor: mon}
}

// Aggregate computes the system-wide status from the latest result per
// check: no results is unknown, any critical is critical, all healthy is
// healthy, anything else is degraded.
func (a *Aggregator) Aggregate(ctx context.Context) SystemHealth {
	latest := a.registry.Latest()

	counts := make(map[Status]int)
	for _, result := range latest {
		counts[result.Status]++
	}

	status := StatusUnknown
	switch {
	case len(latest) == 0:
		status = StatusUnknown
	case counts[StatusCritical] > 0:
		status = StatusCritical
	case counts[StatusHealthy] == len(latest):
		status = StatusHealthy
	default:
		status = StatusDegraded
	}

	health := SystemHealth{
		Status:       status,
		Timestamp:    time.Now().UTC(),
		Checks:       latest,
		StatusCounts: counts,
	}
	if a.monitor != nil {
		if sample, ok := a.monitor.Latest(); ok {
			health.Resources = &sample
		}
	}
	return health
}
