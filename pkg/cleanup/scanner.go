// Package cleanup scans host processes against configured rules and
// terminates runaways.
//
// Rules are evaluated in ascending priority; the first rule whose name
// pattern, age, and resource conditions all match decides the action.
// Whitelisted process names are never touched, regardless of rules.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

// ProcessInfo is a snapshot of one host process.
type ProcessInfo struct {
	PID           int32     `json:"pid"`
	Name          string    `json:"name"`
	Cmdline       string    `json:"cmdline"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	CreateTime    time.Time `json:"create_time"`
	Status        string    `json:"status"`
	ParentPID     int32     `json:"parent_pid"`
}

// AgeHours returns the process age at the given instant.
func (p ProcessInfo) AgeHours(now time.Time) float64 {
	return now.Sub(p.CreateTime).Hours()
}

// Record is one cleanup action taken (or attempted).
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	PID       int32     `json:"pid"`
	Name      string    `json:"name"`
	Action    string    `json:"action"`
	Rule      string    `json:"rule"`
	AgeHours  float64   `json:"age_hours"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Stats summarizes scanner activity.
type Stats struct {
	ScansCompleted int64 `json:"scans_completed"`
	ActionsTotal   int64 `json:"actions_total"`
	ActionsFailed  int64 `json:"actions_failed"`
	LastScanCount  int   `json:"last_scan_process_count"`
}

type compiledRule struct {
	config.CleanupRule
	pattern *regexp.Regexp
}

// Lister enumerates host processes. Replaceable for tests.
type Lister func() ([]ProcessInfo, error)

// Actor applies an action to a PID. Replaceable for tests.
type Actor func(action string, pid int32) error

// Scanner is the process cleanup scanner. Safe for concurrent use.
type Scanner struct {
	cfg       config.CleanupConfig
	rules     []compiledRule
	whitelist map[string]struct{}
	logger    *slog.Logger

	lister Lister
	actor  Actor
	now    func() time.Time

	mu      sync.Mutex
	history []Record
	stats   Stats

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScanner compiles the configured rules. Rules with invalid patterns
// are skipped with a warning.
func NewScanner(cfg config.CleanupConfig) *Scanner {
	logger := slog.Default().With("component", "process-cleanup")

	rules := make([]compiledRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		re, err := regexp.Compile("(?i)" + r.NamePattern)
		if err != nil {
			logger.Warn("Skipping cleanup rule with invalid pattern",
				"pattern", r.NamePattern, "error", err)
			continue
		}
		rules = append(rules, compiledRule{CleanupRule: r, pattern: re})
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	whitelist := make(map[string]struct{}, len(cfg.Whitelist))
	for _, name := range cfg.Whitelist {
		whitelist[strings.ToLower(name)] = struct{}{}
	}

	s := &Scanner{
		cfg:       cfg,
		rules:     rules,
		whitelist: whitelist,
		logger:    logger,
		now:       time.Now,
	}
	s.lister = listHostProcesses
	s.actor = s.applyHostAction
	return s
}

// Start launches the periodic scan loop.
func (s *Scanner) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)
	s.logger.Info("Process cleanup scanner started",
		"interval", s.cfg.Interval, "rules", len(s.rules))
}

// Stop signals the scan loop to exit and waits for it.
func (s *Scanner) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Process cleanup scanner stopped")
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan()
		}
	}
}

// Scan evaluates every host process once and returns the actions taken.
func (s *Scanner) Scan() []Record {
	procs, err := s.lister()
	if err != nil {
		s.logger.Error("Process listing failed", "error", err)
		return nil
	}

	now := s.now()
	var taken []Record
	for _, p := range procs {
		rule, matched := s.match(p, now)
		if !matched {
			continue
		}
		taken = append(taken, s.act(p, rule, now))
	}

	s.mu.Lock()
	s.stats.ScansCompleted++
	s.stats.LastScanCount = len(procs)
	s.mu.Unlock()

	return taken
}

// match finds the first rule that applies to the process, in priority
// order. Whitelisted names never match.
func (s *Scanner) match(p ProcessInfo, now time.Time) (compiledRule, bool) {
	if _, ok := s.whitelist[strings.ToLower(p.Name)]; ok {
		return compiledRule{}, false
	}

	age := p.AgeHours(now)
	for _, rule := range s.rules {
		if !rule.pattern.MatchString(p.Name) {
			continue
		}
		if age < rule.MaxAgeHours {
			continue
		}
		// Resource conditions: either threshold exceeded, or both
		// thresholds zero (age alone decides).
		zeroThresholds := rule.MaxCPUPercent == 0 && rule.MaxMemoryPercent == 0
		exceeded := (rule.MaxCPUPercent > 0 && p.CPUPercent >= rule.MaxCPUPercent) ||
			(rule.MaxMemoryPercent > 0 && p.MemoryPercent >= rule.MaxMemoryPercent)
		if !zeroThresholds && !exceeded {
			continue
		}
		return rule, true
	}
	return compiledRule{}, false
}

func (s *Scanner) act(p ProcessInfo, rule compiledRule, now time.Time) Record {
	rec := Record{
		Timestamp: now.UTC(),
		PID:       p.PID,
		Name:      p.Name,
		Action:    rule.Action,
		Rule:      rule.NamePattern,
		AgeHours:  p.AgeHours(now),
	}

	if err := s.actor(rule.Action, p.PID); err != nil {
		rec.Error = err.Error()
		s.logger.Error("Cleanup action failed",
			"pid", p.PID, "name", p.Name, "action", rule.Action, "error", err)
	} else {
		rec.Success = true
		s.logger.Info("Cleanup action applied",
			"pid", p.PID, "name", p.Name, "action", rule.Action, "rule", rule.NamePattern)
	}

	s.mu.Lock()
	s.history = append(s.history, rec)
	if limit := s.cfg.HistorySize; limit > 0 && len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.stats.ActionsTotal++
	if !rec.Success {
		s.stats.ActionsFailed++
	}
	s.mu.Unlock()

	return rec
}

// applyHostAction applies terminate/kill/restart to a real PID.
// Restart is reserved: supervised restart needs a process manager this
// control plane does not own, so it only warns.
func (s *Scanner) applyHostAction(action string, pid int32) error {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("opening process %d: %w", pid, err)
	}
	switch action {
	case "terminate":
		return proc.Terminate()
	case "kill":
		return proc.Kill()
	case "restart":
		s.logger.Warn("Restart action is reserved, taking no action", "pid", pid)
		return nil
	default:
		return fmt.Errorf("unknown cleanup action %q", action)
	}
}

// listHostProcesses snapshots host processes through gopsutil. Processes
// that disappear mid-read are skipped.
func listHostProcesses() ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		info := ProcessInfo{PID: p.Pid, Name: name}
		if cmdline, err := p.Cmdline(); err == nil {
			info.Cmdline = cmdline
		}
		if cpu, err := p.CPUPercent(); err == nil {
			info.CPUPercent = cpu
		}
		if memPct, err := p.MemoryPercent(); err == nil {
			info.MemoryPercent = float64(memPct)
		}
		if createMS, err := p.CreateTime(); err == nil {
			info.CreateTime = time.UnixMilli(createMS)
		}
		if status, err := p.Status(); err == nil && len(status) > 0 {
			info.Status = status[0]
		}
		if ppid, err := p.Ppid(); err == nil {
			info.ParentPID = ppid
		}
		out = append(out, info)
	}
	return out, nil
}

// Processes returns a current snapshot of host processes.
func (s *Scanner) Processes() ([]ProcessInfo, error) {
	return s.lister()
}

// History returns up to limit most recent cleanup records, oldest first.
func (s *Scanner) History(limit int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.history
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}

// GetStats returns scanner statistics.
func (s *Scanner) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
