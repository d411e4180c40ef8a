package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/thoughtpilot/ghostplane/pkg/monitor"
)

// RegisterResourceChecks installs cpu, memory, and disk checks backed by
// the resource monitor's latest sample.
func RegisterResourceChecks(r *Registry, mon *monitor.Monitor) {
	sample := func(pick func(monitor.Sample) float64, what string) CheckFunc {
		return func(ctx context.Context) (float64, string, map[string]any, error) {
			s, ok := mon.Latest()
			if !ok {
				return 0, "", nil, errors.New("no resource sample available yet")
			}
			value := pick(s)
			return value, fmt.Sprintf("%s usage %.1f%%", what, value), map[string]any{
				"sampled_at": s.Timestamp,
			}, nil
		}
	}

	r.Register(Check{
		Name:              "cpu_usage",
		Type:              ComponentCPU,
		Enabled:           true,
		Fn:                sample(func(s monitor.Sample) float64 { return s.CPUPercent }, "cpu"),
		WarningThreshold:  70,
		CriticalThreshold: 90,
	})
	r.Register(Check{
		Name:              "memory_usage",
		Type:              ComponentMemory,
		Enabled:           true,
		Fn:                sample(func(s monitor.Sample) float64 { return s.MemoryPercent }, "memory"),
		WarningThreshold:  80,
		CriticalThreshold: 95,
	})
	r.Register(Check{
		Name:              "disk_usage",
		Type:              ComponentStorage,
		Enabled:           true,
		Fn:                sample(func(s monitor.Sample) float64 { return s.DiskPercent }, "disk"),
		WarningThreshold:  85,
		CriticalThreshold: 95,
	})
}

// RegisterServiceCheck installs a liveness check backed by a probe
// function; probe failure is critical.
func RegisterServiceCheck(r *Registry, name string, componentType ComponentType, probe func(ctx context.Context) error) {
	r.Register(Check{
		Name:    name,
		Type:    componentType,
		Enabled: true,
		Fn: func(ctx context.Context) (float64, string, map[string]any, error) {
			if err := probe(ctx); err != nil {
				return 1, "", nil, err
			}
			return 0, name + " reachable", nil, nil
		},
	})
}
