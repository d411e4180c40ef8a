// Package ratelimit implements per-client, per-endpoint sliding-window
// admission control.
//
// Each (client, endpoint type) pair keeps the timestamps of its requests
// inside the current window. A request is admitted when fewer than the
// rule's maximum remain after pruning. Unknown endpoint types are admitted
// unconditionally so a missing rule can never take an endpoint down.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

// WindowType selects the admission algorithm for a rule.
type WindowType string

// Window types. Only the sliding window is implemented; the others are
// reserved rule vocabulary.
const (
	WindowSliding WindowType = "sliding"
	WindowFixed   WindowType = "fixed"
	WindowToken   WindowType = "token_bucket"
	WindowLeaky   WindowType = "leaky_bucket"
)

// Info is the outcome of one admission decision.
type Info struct {
	Allowed    bool      `json:"allowed"`
	Rule       string    `json:"rule"`
	ClientID   string    `json:"client_id"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"reset_time"`
	RetryAfter float64   `json:"retry_after_seconds,omitempty"`
}

// Stats summarizes limiter state for the read API.
type Stats struct {
	TrackedClients int                       `json:"tracked_clients"`
	TotalAllowed   int64                     `json:"total_allowed"`
	TotalDenied    int64                     `json:"total_denied"`
	Rules          []config.RateLimitRule    `json:"rules"`
	PerRule        map[string]RuleUsageStats `json:"per_rule"`
}

// RuleUsageStats is per-rule usage for the read API.
type RuleUsageStats struct {
	ActiveClients int `json:"active_clients"`
	ActiveWindow  int `json:"requests_in_window"`
}

type pairKey struct {
	clientID string
	rule     string
}

// Limiter is the sliding-window rate limiter. Safe for concurrent use.
type Limiter struct {
	cfg    config.RateLimitConfig
	rules  map[string]config.RateLimitRule
	logger *slog.Logger

	mu      sync.Mutex
	windows map[pairKey][]time.Time
	allowed int64
	denied  int64

	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLimiter creates a limiter from the configured rules.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	rules := make(map[string]config.RateLimitRule, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules[r.Name] = r
	}
	return &Limiter{
		cfg:     cfg,
		rules:   rules,
		logger:  slog.Default().With("component", "rate-limiter"),
		windows: make(map[pairKey][]time.Time),
		now:     time.Now,
	}
}

// Start launches the periodic sweep that drops empty windows.
func (l *Limiter) Start(ctx context.Context) {
	if l.cancel != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go l.run(ctx)
	l.logger.Info("Rate limiter started",
		"rules", len(l.rules), "sweep_interval", l.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it.
func (l *Limiter) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.logger.Info("Rate limiter stopped")
}

func (l *Limiter) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// IsAllowed decides admission for one request and records it if admitted.
func (l *Limiter) IsAllowed(clientID, ruleName string) Info {
	rule, ok := l.rules[ruleName]
	if !ok {
		l.mu.Lock()
		l.allowed++
		l.mu.Unlock()
		return Info{Allowed: true, Rule: ruleName, ClientID: clientID, Remaining: -1}
	}

	now := l.now()
	key := pairKey{clientID: clientID, rule: ruleName}

	l.mu.Lock()
	defer l.mu.Unlock()

	window := pruneWindow(l.windows[key], now.Add(-rule.Window))

	if len(window) >= rule.MaxRequests {
		l.windows[key] = window
		l.denied++
		reset := window[0].Add(rule.Window)
		return Info{
			Allowed:    false,
			Rule:       ruleName,
			ClientID:   clientID,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: reset.Sub(now).Seconds(),
		}
	}

	window = append(window, now)
	l.windows[key] = window
	l.allowed++
	return Info{
		Allowed:   true,
		Rule:      ruleName,
		ClientID:  clientID,
		Remaining: rule.MaxRequests - len(window),
		ResetTime: window[0].Add(rule.Window),
	}
}

func pruneWindow(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}

// ResetClient forgets all windows for one client. Returns how many windows
// were dropped.
func (l *Limiter) ResetClient(clientID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for key := range l.windows {
		if key.clientID == clientID {
			delete(l.windows, key)
			dropped++
		}
	}
	return dropped
}

// ResetAll forgets every window and zeroes the counters.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[pairKey][]time.Time)
	l.allowed = 0
	l.denied = 0
}

// GetStats returns limiter statistics.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	clients := make(map[string]struct{})
	perRule := make(map[string]RuleUsageStats, len(l.rules))
	for name := range l.rules {
		perRule[name] = RuleUsageStats{}
	}
	for key, window := range l.windows {
		clients[key.clientID] = struct{}{}
		s := perRule[key.rule]
		s.ActiveClients++
		s.ActiveWindow += len(window)
		perRule[key.rule] = s
	}

	return Stats{
		TrackedClients: len(clients),
		TotalAllowed:   l.allowed,
		TotalDenied:    l.denied,
		Rules:          l.cfg.Rules,
		PerRule:        perRule,
	}
}

// sweep drops windows whose every timestamp has aged out.
func (l *Limiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, window := range l.windows {
		rule, ok := l.rules[key.rule]
		if !ok {
			delete(l.windows, key)
			continue
		}
		pruned := pruneWindow(window, now.Add(-rule.Window))
		if len(pruned) == 0 {
			delete(l.windows, key)
		} else {
			l.windows[key] = pruned
		}
	}
}
