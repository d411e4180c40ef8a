// Package cors evaluates cross-origin requests against a configured
// policy and keeps a bounded history of its decisions for the read API.
//
// The stock middleware packages expose a fixed policy with no decision
// introspection; this manager trades them for a policy that can be
// switched at runtime and audited per request.
package cors

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

// Policy names an origin admission strategy.
type Policy string

// Policies.
const (
	PolicyAllowAll   Policy = "allow_all"
	PolicyRestricted Policy = "restricted"
	PolicyWhitelist  Policy = "whitelist"
	PolicyBlacklist  Policy = "blacklist"
)

// Decision is the outcome of evaluating one cross-origin request.
type Decision struct {
	Timestamp      time.Time         `json:"timestamp"`
	Origin         string            `json:"origin"`
	Method         string            `json:"method"`
	RequestHeaders []string          `json:"request_headers,omitempty"`
	Allowed        bool              `json:"allowed"`
	Policy         Policy            `json:"policy"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// Stats summarizes CORS activity.
type Stats struct {
	Policy         Policy `json:"policy"`
	TotalEvaluated int64  `json:"total_evaluated"`
	TotalAllowed   int64  `json:"total_allowed"`
	TotalBlocked   int64  `json:"total_blocked"`
}

// Manager evaluates origins against the active policy. Safe for
// concurrent use.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	cfg     config.CORSConfig
	history []Decision
	stats   Stats

	now func() time.Time
}

// Decisions are kept for a day; the cap guards memory under sustained
// cross-origin traffic.
const (
	historyWindow = 24 * time.Hour
	historyCap    = 1000
)

// NewManager creates a CORS manager from configuration. An unknown
// policy name falls back to restricted.
func NewManager(cfg config.CORSConfig) *Manager {
	m := &Manager{
		logger: slog.Default().With("component", "cors"),
		cfg:    cfg,
		now:    time.Now,
	}
	m.stats.Policy = m.policy()
	return m
}

func (m *Manager) policy() Policy {
	switch Policy(m.cfg.Policy) {
	case PolicyAllowAll, PolicyRestricted, PolicyWhitelist, PolicyBlacklist:
		return Policy(m.cfg.Policy)
	default:
		return PolicyRestricted
	}
}

// SetPolicy switches the active policy at runtime. Returns false for an
// unknown policy name.
func (m *Manager) SetPolicy(name string) bool {
	switch Policy(name) {
	case PolicyAllowAll, PolicyRestricted, PolicyWhitelist, PolicyBlacklist:
	default:
		return false
	}

	m.mu.Lock()
	m.cfg.Policy = name
	m.stats.Policy = Policy(name)
	m.mu.Unlock()
	m.logger.Info("CORS policy changed", "policy", name)
	return true
}

// Config returns the active configuration.
func (m *Manager) Config() config.CORSConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Evaluate decides one cross-origin request from its origin, method,
// and requested header names. Under every policy except allow_all the
// method must be in AllowedMethods and each requested header in
// AllowedHeaders. An allowed decision carries the Access-Control-*
// response headers; a blocked one carries none.
func (m *Manager) Evaluate(origin, method string, requestHeaders []string) Decision {
	m.mu.Lock()
	policy := m.policy()
	cfg := m.cfg
	m.mu.Unlock()

	allowed := false
	switch policy {
	case PolicyAllowAll:
		allowed = true
	case PolicyRestricted, PolicyWhitelist:
		allowed = containsOrigin(cfg.AllowedOrigins, origin)
	case PolicyBlacklist:
		allowed = !containsOrigin(cfg.BlockedOrigins, origin)
	}
	if allowed && policy != PolicyAllowAll {
		allowed = methodAllowed(cfg.AllowedMethods, method) &&
			headersAllowed(cfg.AllowedHeaders, requestHeaders)
	}

	d := Decision{
		Timestamp:      m.now().UTC(),
		Origin:         origin,
		Method:         method,
		RequestHeaders: requestHeaders,
		Allowed:        allowed,
		Policy:         policy,
	}
	if allowed {
		d.Headers = m.responseHeaders(cfg, origin, policy)
	}

	m.mu.Lock()
	m.history = append(m.history, d)
	m.pruneLocked(d.Timestamp)
	m.stats.TotalEvaluated++
	if allowed {
		m.stats.TotalAllowed++
	} else {
		m.stats.TotalBlocked++
	}
	m.mu.Unlock()

	if !allowed {
		m.logger.Warn("Cross-origin request blocked",
			"origin", origin, "method", method, "policy", policy)
	}
	return d
}

// pruneLocked drops decisions older than the history window. Caller
// holds m.mu.
func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-historyWindow)
	drop := 0
	for drop < len(m.history) && m.history[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		m.history = m.history[drop:]
	}
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 || method == "" {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func headersAllowed(allowed, requested []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, h := range requested {
		ok := false
		for _, a := range allowed {
			if strings.EqualFold(a, h) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (m *Manager) responseHeaders(cfg config.CORSConfig, origin string, policy Policy) map[string]string {
	headers := map[string]string{
		"Access-Control-Allow-Methods": strings.Join(cfg.AllowedMethods, ", "),
		"Access-Control-Allow-Headers": strings.Join(cfg.AllowedHeaders, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(cfg.MaxAge),
	}
	if policy == PolicyAllowAll {
		headers["Access-Control-Allow-Origin"] = "*"
	} else {
		headers["Access-Control-Allow-Origin"] = origin
	}
	if len(cfg.ExposeHeaders) > 0 {
		headers["Access-Control-Expose-Headers"] = strings.Join(cfg.ExposeHeaders, ", ")
	}
	if cfg.AllowCredentials && policy != PolicyAllowAll {
		headers["Access-Control-Allow-Credentials"] = "true"
	}
	return headers
}

func containsOrigin(origins []string, origin string) bool {
	for _, o := range origins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// History returns up to limit most recent decisions inside the history
// window, oldest first.
func (m *Manager) History(limit int) []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now().UTC())

	decisions := m.history
	if limit > 0 && len(decisions) > limit {
		decisions = decisions[len(decisions)-limit:]
	}
	out := make([]Decision, len(decisions))
	copy(out, decisions)
	return out
}

// GetStats returns CORS statistics.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
