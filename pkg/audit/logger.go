// Package audit provides the structured, hashed, rotated audit log.
//
// Entries are appended one JSON object per line to a daily file under the
// configured directory. Each entry carries a 16-hex-char integrity hash over
// its identifying fields. Values at configured sensitive keys are redacted
// recursively before anything touches disk; redaction is a security
// requirement, not cosmetics.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/config"
	"github.com/thoughtpilot/ghostplane/pkg/slack"
)

// Level is an audit entry severity.
type Level string

// Audit levels.
const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Category classifies an audit entry.
type Category string

// Audit categories.
const (
	CategorySystem      Category = "system"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryUserAction  Category = "user_action"
	CategoryError       Category = "error"
	CategoryPatch       Category = "patch"
	CategoryHealth      Category = "health"
	CategoryResource    Category = "resource"
	CategoryProcess     Category = "process"
)

// Redacted is the placeholder written in place of sensitive values.
const Redacted = "***REDACTED***"

// Entry is a single audit record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Hash      string         `json:"hash"`
}

// Stats holds audit logger statistics.
type Stats struct {
	TotalEntries   int            `json:"total_entries"`
	LevelCounts    map[string]int `json:"level_counts"`
	CategoryCounts map[string]int `json:"category_counts"`
	Recent24h      int            `json:"recent_entries_24h"`
	ActiveFile     string         `json:"log_file"`
	FileSizeMB     float64        `json:"file_size_mb"`
}

// Logger is the audit logger. Safe for concurrent use.
type Logger struct {
	cfg      config.AuditConfig
	notifier *slack.Service
	logger   *slog.Logger

	sensitive map[string]struct{}

	mu          sync.Mutex
	activeFile  string
	currentDate string
	entries     []Entry // bounded in-memory ring for the read API

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLogger creates the audit logger and its directory.
// notifier may be nil (chat escalation disabled).
func NewLogger(cfg config.AuditConfig, notifier *slack.Service) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	if cfg.RecentEntries <= 0 {
		cfg.RecentEntries = 1000
	}

	sensitive := make(map[string]struct{}, len(cfg.SensitiveKeys))
	for _, k := range cfg.SensitiveKeys {
		sensitive[strings.ToLower(k)] = struct{}{}
	}

	l := &Logger{
		cfg:       cfg,
		notifier:  notifier,
		logger:    slog.Default().With("component", "audit-log"),
		sensitive: sensitive,
	}
	l.currentDate = time.Now().UTC().Format("20060102")
	l.activeFile = l.dailyPath(l.currentDate)
	return l, nil
}

// Start launches the hourly retention/rotation sweep.
func (l *Logger) Start(ctx context.Context) {
	if l.cancel != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go l.run(ctx)
	l.logger.Info("Audit logger started",
		"dir", l.cfg.Dir,
		"retention_days", l.cfg.RetentionDays,
		"max_file_size_mb", l.cfg.MaxFileSizeMB)
}

// Stop signals the sweep loop to exit and waits for it.
func (l *Logger) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.logger.Info("Audit logger stopped")
}

func (l *Logger) run(ctx context.Context) {
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

// Log records an entry: redact, hash, append to the daily file, retain in
// memory, and escalate error/critical entries to the chat notifier.
// Returns the entry hash.
func (l *Logger) Log(e Entry) string {
	now := time.Now().UTC()
	e.Timestamp = now.Format(time.RFC3339Nano)
	e.Data = l.redact(e.Data)
	e.Hash = entryHash(e)

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.cfg.RecentEntries {
		l.entries = l.entries[len(l.entries)-l.cfg.RecentEntries:]
	}
	l.rotateLocked(now)
	l.writeLocked(e)
	l.mu.Unlock()

	if e.Level == LevelError || e.Level == LevelCritical {
		l.notifier.NotifyAudit(context.Background(), slack.AuditInput{
			Level:     string(e.Level),
			Category:  string(e.Category),
			Message:   e.Message,
			Component: e.Component,
			Timestamp: e.Timestamp,
		})
	}
	return e.Hash
}

// entryHash computes the 16-hex-char integrity hash over the identity
// fields. The concatenation order is part of the on-disk contract.
func entryHash(e Entry) string {
	content := e.Timestamp + string(e.Level) + string(e.Category) + e.Message + e.UserID + e.SessionID
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// redact replaces values at sensitive keys, recursing into nested maps and
// slices of maps.
func (l *Logger) redact(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, sensitive := l.sensitive[strings.ToLower(k)]; sensitive {
			out[k] = Redacted
			continue
		}
		out[k] = l.redactValue(v)
	}
	return out
}

func (l *Logger) redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return l.redact(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = l.redactValue(item)
		}
		return out
	default:
		return v
	}
}

// rotateLocked handles the daily roll and the size-based rotation.
func (l *Logger) rotateLocked(now time.Time) {
	date := now.Format("20060102")
	if date != l.currentDate {
		l.currentDate = date
		l.activeFile = l.dailyPath(date)
		return
	}

	info, err := os.Stat(l.activeFile)
	if err != nil {
		return
	}
	if info.Size() > int64(l.cfg.MaxFileSizeMB)*1024*1024 {
		archived := l.activeFile + "." + now.Format("20060102150405")
		if err := os.Rename(l.activeFile, archived); err != nil {
			l.logger.Error("Failed to rotate audit log", "error", err)
			return
		}
		l.logger.Info("Rotated audit log", "archived", archived)
	}
}

func (l *Logger) writeLocked(e Entry) {
	f, err := os.OpenFile(l.activeFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Error("Failed to open audit log", "path", l.activeFile, "error", err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		l.logger.Error("Failed to encode audit entry", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Error("Failed to write audit entry", "error", err)
	}
}

// sweep drops in-memory entries past retention and deletes expired files.
func (l *Logger) sweep() {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)

	l.mu.Lock()
	kept := l.entries[:0]
	for _, e := range l.entries {
		t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil || t.After(cutoff) {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	l.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(l.cfg.Dir, "audit_*.log*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				l.logger.Warn("Failed to remove expired audit file", "path", path, "error", err)
			}
		}
	}
}

func (l *Logger) dailyPath(date string) string {
	return filepath.Join(l.cfg.Dir, "audit_"+date+".log")
}

// Query filters the in-memory entries, newest first.
// Zero values disable the corresponding filter.
func (l *Logger) Query(level Level, category Category, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, limit)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if level != "" && e.Level != level {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetStats returns audit logging statistics.
func (l *Logger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	levelCounts := make(map[string]int)
	categoryCounts := make(map[string]int)
	recent := 0
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	for _, e := range l.entries {
		levelCounts[string(e.Level)]++
		categoryCounts[string(e.Category)]++
		if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil && t.After(cutoff) {
			recent++
		}
	}

	var sizeMB float64
	if info, err := os.Stat(l.activeFile); err == nil {
		sizeMB = float64(info.Size()) / (1024 * 1024)
	}

	return Stats{
		TotalEntries:   len(l.entries),
		LevelCounts:    levelCounts,
		CategoryCounts: categoryCounts,
		Recent24h:      recent,
		ActiveFile:     l.activeFile,
		FileSizeMB:     sizeMB,
	}
}

// ActiveFile returns the current daily file path.
func (l *Logger) ActiveFile() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeFile
}
