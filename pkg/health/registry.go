// Package health runs registered component checks on a fixed cadence and
// aggregates their latest results into a system-wide status.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

// Status is a check or system health status.
type Status string

// Statuses.
const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// ComponentType classifies what a check observes.
type ComponentType string

// Component types.
const (
	ComponentSystem  ComponentType = "system"
	ComponentService ComponentType = "service"
	ComponentDB      ComponentType = "database"
	ComponentNetwork ComponentType = "network"
	ComponentStorage ComponentType = "storage"
	ComponentMemory  ComponentType = "memory"
	ComponentCPU     ComponentType = "cpu"
	ComponentProcess ComponentType = "process"
)

// CheckFunc performs one measurement. It returns the measured value, a
// human-readable message, and optional details.
type CheckFunc func(ctx context.Context) (value float64, message string, details map[string]any, err error)

// Check is one registered health check.
type Check struct {
	Name              string
	Type              ComponentType
	Fn                CheckFunc
	Timeout           time.Duration
	CriticalThreshold float64
	WarningThreshold  float64
	Enabled           bool
}

// Result is one check execution outcome.
type Result struct {
	Name      string         `json:"name"`
	Type      ComponentType  `json:"component_type"`
	Status    Status         `json:"status"`
	Value     float64        `json:"value"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration_ms"`
	Timestamp time.Time      `json:"timestamp"`
}

// Registry holds the checks and their result history. Safe for
// concurrent use.
type Registry struct {
	cfg    config.HealthConfig
	logger *slog.Logger

	mu      sync.Mutex
	checks  map[string]*Check
	latest  map[string]Result
	history []Result

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates an empty check registry.
func NewRegistry(cfg config.HealthConfig) *Registry {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	return &Registry{
		cfg:    cfg,
		logger: slog.Default().With("component", "health-registry"),
		checks: make(map[string]*Check),
		latest: make(map[string]Result),
	}
}

// Register installs or replaces a check. A zero timeout gets the
// configured default.
func (r *Registry) Register(check Check) {
	if check.Timeout <= 0 {
		check.Timeout = r.cfg.CheckTimeout
	}
	r.mu.Lock()
	r.checks[check.Name] = &check
	r.mu.Unlock()
}

// SetEnabled toggles one check. Returns false if the check is unknown.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	check, ok := r.checks[name]
	if !ok {
		return false
	}
	check.Enabled = enabled
	return true
}

// Start launches the periodic check loop.
func (r *Registry) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)
	r.logger.Info("Health registry started", "interval", r.cfg.Interval)
}

// Stop signals the check loop to exit and waits for it.
func (r *Registry) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("Health registry stopped")
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.RunAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunAll(ctx)
		}
	}
}

// RunAll executes every enabled check once and returns the results.
func (r *Registry) RunAll(ctx context.Context) []Result {
	r.mu.Lock()
	checks := make([]*Check, 0, len(r.checks))
	for _, c := range r.checks {
		if c.Enabled {
			checks = append(checks, c)
		}
	}
	r.mu.Unlock()

	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		results = append(results, r.runOne(ctx, check))
	}
	return results
}

type checkOutcome struct {
	value   float64
	message string
	details map[string]any
	err     error
}

// runOne executes a check under its timeout. A check that outruns its
// timeout is recorded as critical no matter what it later returns.
func (r *Registry) runOne(ctx context.Context, check *Check) Result {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	outcome := make(chan checkOutcome, 1)
	go func() {
		value, message, details, err := check.Fn(ctx)
		outcome <- checkOutcome{value: value, message: message, details: details, err: err}
	}()

	result := Result{
		Name:      check.Name,
		Type:      check.Type,
		Timestamp: started.UTC(),
	}

	select {
	case <-ctx.Done():
		result.Status = StatusCritical
		result.Message = "check timed out after " + check.Timeout.String()
	case o := <-outcome:
		result.Value = o.value
		result.Message = o.message
		result.Details = o.details
		switch {
		case o.err != nil:
			result.Status = StatusCritical
			result.Message = o.err.Error()
		case check.CriticalThreshold > 0 && o.value >= check.CriticalThreshold:
			result.Status = StatusCritical
		case check.WarningThreshold > 0 && o.value >= check.WarningThreshold:
			result.Status = StatusWarning
		default:
			result.Status = StatusHealthy
		}
	}
	result.Duration = time.Since(started)

	r.mu.Lock()
	r.latest[check.Name] = result
	r.history = append(r.history, result)
	if len(r.history) > r.cfg.HistorySize {
		r.history = r.history[len(r.history)-r.cfg.HistorySize:]
	}
	r.mu.Unlock()

	if result.Status != StatusHealthy {
		r.logger.Warn("Health check not healthy",
			"check", check.Name, "status", result.Status, "message", result.Message)
	}
	return result
}

// Latest returns the most recent result per check.
func (r *Registry) Latest() map[string]Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Result, len(r.latest))
	for name, res := range r.latest {
		out[name] = res
	}
	return out
}

// History returns up to limit most recent results, oldest first.
func (r *Registry) History(limit int) []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := r.history
	if limit > 0 && len(results) > limit {
		results = results[len(results)-limit:]
	}
	out := make([]Result, len(results))
	copy(out, results)
	return out
}
