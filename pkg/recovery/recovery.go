// Package recovery classifies faults and drives the recovery strategy:
// retry with backoff, restart through a registered hook, escalate to the
// notifier, or ignore.
package recovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thoughtpilot/ghostplane/pkg/audit"
	"github.com/thoughtpilot/ghostplane/pkg/config"
	"github.com/thoughtpilot/ghostplane/pkg/slack"
)

// ErrorType is a fault classification.
type ErrorType string

// Error types.
const (
	TypeNetwork        ErrorType = "network"
	TypeDatabase       ErrorType = "database"
	TypeTimeout        ErrorType = "timeout"
	TypeValidation     ErrorType = "validation"
	TypeAuthentication ErrorType = "authentication"
	TypeSystem         ErrorType = "system"
	TypeResource       ErrorType = "resource"
	TypeUnknown        ErrorType = "unknown"
)

// Severity grades a fault.
type Severity string

// Severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is a recovery strategy.
type Action string

// Actions.
const (
	ActionRetry    Action = "retry"
	ActionRestart  Action = "restart"
	ActionEscalate Action = "escalate"
	ActionIgnore   Action = "ignore"
)

// Record is one handled fault.
type Record struct {
	ErrorID   string    `json:"error_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      ErrorType `json:"type"`
	Severity  Severity  `json:"severity"`
	Action    Action    `json:"action"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Recovered bool      `json:"recovered"`
	Attempts  int       `json:"attempts"`
}

// Stats summarizes handled faults.
type Stats struct {
	TotalErrors    int64               `json:"total_errors"`
	Recovered      int64               `json:"recovered"`
	Escalated      int64               `json:"escalated"`
	TypeCounts     map[ErrorType]int   `json:"type_counts"`
	SeverityCounts map[Severity]int    `json:"severity_counts"`
	ActionCounts   map[Action]int      `json:"action_counts"`
}

// RestartFunc restarts the named component. Registered per component.
type RestartFunc func(ctx context.Context) error

// Manager is the error recovery manager. Safe for concurrent use.
type Manager struct {
	cfg      config.RecoveryConfig
	notifier *slack.Service
	auditLog *audit.Logger
	logger   *slog.Logger

	mu       sync.Mutex
	history  []Record
	restarts map[string]RestartFunc
	stats    Stats
}

// NewManager wires the recovery manager. notifier and auditLog may be
// nil.
func NewManager(cfg config.RecoveryConfig, notifier *slack.Service, auditLog *audit.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		notifier: notifier,
		auditLog: auditLog,
		logger:   slog.Default().With("component", "error-recovery"),
		restarts: make(map[string]RestartFunc),
		stats: Stats{
			TypeCounts:     make(map[ErrorType]int),
			SeverityCounts: make(map[Severity]int),
			ActionCounts:   make(map[Action]int),
		},
	}
}

// RegisterRestart installs a restart hook for a component.
func (m *Manager) RegisterRestart(component string, fn RestartFunc) {
	m.mu.Lock()
	m.restarts[component] = fn
	m.mu.Unlock()
}

// Classify derives the error type and severity from the error text.
func Classify(err error) (ErrorType, Severity) {
	if err == nil {
		return TypeUnknown, SeverityLow
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "connection refused", "connection reset", "no such host", "network", "dial", "broken pipe"):
		return TypeNetwork, SeverityMedium
	case containsAny(msg, "database", "sql", "constraint", "transaction"):
		return TypeDatabase, SeverityHigh
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return TypeTimeout, SeverityMedium
	case containsAny(msg, "validation", "invalid", "malformed", "missing required"):
		return TypeValidation, SeverityLow
	case containsAny(msg, "unauthorized", "forbidden", "authentication", "signature", "permission denied"):
		return TypeAuthentication, SeverityHigh
	case containsAny(msg, "out of memory", "disk full", "no space", "resource", "too many open files"):
		return TypeResource, SeverityCritical
	case containsAny(msg, "panic", "fatal", "system"):
		return TypeSystem, SeverityCritical
	default:
		return TypeUnknown, SeverityMedium
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ActionFor maps an error type to its default recovery action.
func ActionFor(t ErrorType) Action {
	switch t {
	case TypeNetwork, TypeDatabase, TypeTimeout:
		return ActionRetry
	case TypeSystem, TypeResource:
		return ActionRestart
	case TypeAuthentication:
		return ActionEscalate
	case TypeValidation:
		return ActionIgnore
	default:
		return ActionEscalate
	}
}

// Handle classifies the fault, applies the recovery action, and records
// the outcome. op is re-invoked on retry; it may be nil when the caller
// has nothing to re-run.
func (m *Manager) Handle(ctx context.Context, component string, err error, op func(ctx context.Context) error) Record {
	errType, severity := Classify(err)
	action := ActionFor(errType)

	rec := Record{
		ErrorID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      errType,
		Severity:  severity,
		Action:    action,
		Component: component,
		Message:   err.Error(),
	}

	m.logger.Error("Handling fault",
		"error_id", rec.ErrorID,
		"component", component,
		"type", errType,
		"severity", severity,
		"action", action,
		"error", err)

	switch action {
	case ActionRetry:
		rec.Recovered, rec.Attempts = m.retry(ctx, op)
	case ActionRestart:
		rec.Recovered = m.restart(ctx, component)
	case ActionEscalate:
		m.escalate(ctx, rec)
	case ActionIgnore:
		rec.Recovered = true
	}

	if severity == SeverityHigh || severity == SeverityCritical {
		if m.auditLog != nil {
			m.auditLog.Log(audit.Entry{
				Level:     audit.LevelError,
				Category:  audit.CategoryError,
				Message:   rec.Message,
				Component: component,
				RequestID: rec.ErrorID,
				Data: map[string]any{
					"error_type": string(errType),
					"severity":   string(severity),
					"action":     string(action),
					"recovered":  rec.Recovered,
				},
			})
		}
	}

	m.record(rec)
	return rec
}

// retry re-runs op with exponential backoff.
func (m *Manager) retry(ctx context.Context, op func(ctx context.Context) error) (bool, int) {
	if op == nil {
		return false, 0
	}
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		delay := m.cfg.RetryDelay * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return false, attempt - 1
		case <-time.After(delay):
		}
		if err := op(ctx); err == nil {
			return true, attempt
		}
	}
	return false, m.cfg.MaxRetries
}

func (m *Manager) restart(ctx context.Context, component string) bool {
	m.mu.Lock()
	fn := m.restarts[component]
	m.mu.Unlock()

	if fn == nil {
		m.logger.Warn("No restart hook registered", "component", component)
		return false
	}
	if err := fn(ctx); err != nil {
		m.logger.Error("Component restart failed", "component", component, "error", err)
		return false
	}
	m.logger.Info("Component restarted", "component", component)
	return true
}

func (m *Manager) escalate(ctx context.Context, rec Record) {
	m.notifier.NotifyError(ctx, slack.ErrorInput{
		Message:   rec.Message,
		Severity:  string(rec.Severity),
		Component: rec.Component,
		ErrorID:   rec.ErrorID,
	})
	m.mu.Lock()
	m.stats.Escalated++
	m.mu.Unlock()
}

func (m *Manager) record(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, rec)
	if limit := m.cfg.HistorySize; limit > 0 && len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}
	m.stats.TotalErrors++
	if rec.Recovered {
		m.stats.Recovered++
	}
	m.stats.TypeCounts[rec.Type]++
	m.stats.SeverityCounts[rec.Severity]++
	m.stats.ActionCounts[rec.Action]++
}

// History returns up to limit most recent records, oldest first.
func (m *Manager) History(limit int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.history
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}

// GetStats returns recovery statistics.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalErrors:    m.stats.TotalErrors,
		Recovered:      m.stats.Recovered,
		Escalated:      m.stats.Escalated,
		TypeCounts:     make(map[ErrorType]int, len(m.stats.TypeCounts)),
		SeverityCounts: make(map[Severity]int, len(m.stats.SeverityCounts)),
		ActionCounts:   make(map[Action]int, len(m.stats.ActionCounts)),
	}
	for k, v := range m.stats.TypeCounts {
		stats.TypeCounts[k] = v
	}
	for k, v := range m.stats.SeverityCounts {
		stats.SeverityCounts[k] = v
	}
	for k, v := range m.stats.ActionCounts {
		stats.ActionCounts[k] = v
	}
	return stats
}
