package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

func newTestRegistry() *Registry {
	return NewRegistry(config.HealthConfig{
		Interval:     30 * time.Second,
		CheckTimeout: 100 * time.Millisecond,
		HistorySize:  1000,
	})
}

func staticCheck(value float64) CheckFunc {
	return func(ctx context.Context) (float64, string, map[string]any, error) {
		return value, "ok", nil, nil
	}
}

func TestStatusDerivedFromThresholds(t *testing.T) {
	r := newTestRegistry()
	r.Register(Check{Name: "c", Type: ComponentCPU, Enabled: true,
		Fn: staticCheck(50), WarningThreshold: 70, CriticalThreshold: 90})

	results := r.RunAll(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, StatusHealthy, results[0].Status)

	r.Register(Check{Name: "c", Type: ComponentCPU, Enabled: true,
		Fn: staticCheck(75), WarningThreshold: 70, CriticalThreshold: 90})
	assert.Equal(t, StatusWarning, r.RunAll(context.Background())[0].Status)

	r.Register(Check{Name: "c", Type: ComponentCPU, Enabled: true,
		Fn: staticCheck(95), WarningThreshold: 70, CriticalThreshold: 90})
	assert.Equal(t, StatusCritical, r.RunAll(context.Background())[0].Status)
}

func TestSlowCheckForcedCritical(t *testing.T) {
	r := newTestRegistry()
	r.Register(Check{
		Name:    "slow",
		Type:    ComponentService,
		Enabled: true,
		Timeout: 50 * time.Millisecond,
		Fn: func(ctx context.Context) (float64, string, map[string]any, error) {
			time.Sleep(500 * time.Millisecond)
			return 0, "eventually fine", nil, nil
		},
	})

	results := r.RunAll(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, StatusCritical, results[0].Status)
	assert.Contains(t, results[0].Message, "timed out")
}

func TestCheckErrorIsCritical(t *testing.T) {
	r := newTestRegistry()
	r.Register(Check{Name: "e", Type: ComponentNetwork, Enabled: true,
		Fn: func(ctx context.Context) (float64, string, map[string]any, error) {
			return 0, "", nil, errors.New("connection refused")
		}})

	results := r.RunAll(context.Background())
	assert.Equal(t, StatusCritical, results[0].Status)
}

func TestDisabledCheckSkipped(t *testing.T) {
	r := newTestRegistry()
	r.Register(Check{Name: "off", Type: ComponentSystem, Enabled: false, Fn: staticCheck(0)})

	assert.Empty(t, r.RunAll(context.Background()))

	require.True(t, r.SetEnabled("off", true))
	assert.Len(t, r.RunAll(context.Background()), 1)
	assert.False(t, r.SetEnabled("missing", true))
}

func TestAggregatorStates(t *testing.T) {
	r := newTestRegistry()
	agg := NewAggregator(r, nil)

	// No results yet.
	assert.Equal(t, StatusUnknown, agg.Aggregate(context.Background()).Status)

	r.Register(Check{Name: "a", Type: ComponentSystem, Enabled: true, Fn: staticCheck(0)})
	r.Register(Check{Name: "b", Type: ComponentSystem, Enabled: true, Fn: staticCheck(0)})
	r.RunAll(context.Background())
	assert.Equal(t, StatusHealthy, agg.Aggregate(context.Background()).Status)

	// One warning degrades the system.
	r.Register(Check{Name: "b", Type: ComponentSystem, Enabled: true,
		Fn: staticCheck(75), WarningThreshold: 70})
	r.RunAll(context.Background())
	assert.Equal(t, StatusDegraded, agg.Aggregate(context.Background()).Status)

	// Any critical dominates.
	r.Register(Check{Name: "b", Type: ComponentSystem, Enabled: true,
		Fn: staticCheck(99), WarningThreshold: 70, CriticalThreshold: 90})
	r.RunAll(context.Background())
	health := agg.Aggregate(context.Background())
	assert.Equal(t, StatusCritical, health.Status)
	assert.Equal(t, 1, health.StatusCounts[StatusCritical])
}

func TestHistoryBounded(t *testing.T) {
	r := NewRegistry(config.HealthConfig{
		Interval:     time.Second,
		CheckTimeout: time.Second,
		HistorySize:  5,
	})
	r.Register(Check{Name: "c", Type: ComponentSystem, Enabled: true, Fn: staticCheck(0)})

	for i := 0; i < 10; i++ {
		r.RunAll(context.Background())
	}
	assert.Len(t, r.History(0), 5)
}
