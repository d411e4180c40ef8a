// Package events provides the append-only JSON event journal.
//
// The journal is a single JSON document on disk. It is loaded once at
// startup, mutated in memory, and rewritten atomically (temp file + rename)
// on every append. The file has exactly one writer: all appends funnel
// through the Log mutex.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

// Event kinds. EventType (the free-form subkey) is carried per event.
const (
	TypePatch  = "patch_event"
	TypeSlack  = "slack_event"
	TypeSystem = "system_event"
)

// Event is a single journal entry. Kind-specific payload fields are
// flattened into the same object, matching the on-disk journal format.
type Event map[string]any

// journal is the on-disk document shape.
type journal struct {
	Events      []Event `json:"events"`
	LastUpdated string  `json:"last_updated"`
	TotalEvents int     `json:"total_events"`
}

// Summary holds aggregate journal statistics.
type Summary struct {
	TotalEvents int            `json:"total_events"`
	EventCounts map[string]int `json:"event_counts"`
	LastUpdated string         `json:"last_updated"`
}

// Log is the event journal. Safe for concurrent use.
type Log struct {
	path      string
	maxEvents int
	logger    *slog.Logger

	mu     sync.Mutex
	events []Event
}

// NewLog opens (or creates) the journal at the configured path.
func NewLog(cfg config.EventLogConfig) (*Log, error) {
	l := &Log{
		path:      cfg.Path,
		maxEvents: cfg.MaxEvents,
		logger:    slog.Default().With("component", "event-log"),
	}
	if l.maxEvents <= 0 {
		l.maxEvents = 1000
	}

	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		l.events = []Event{}
		return l.writeLocked()
	}
	if err != nil {
		return fmt.Errorf("reading event journal %s: %w", l.path, err)
	}

	var doc journal
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupt journal must not take the control plane down.
		l.logger.Error("Event journal is corrupt, starting empty", "path", l.path, "error", err)
		l.events = []Event{}
		return l.writeLocked()
	}
	l.events = doc.Events
	return nil
}

// LogPatchEvent appends a patch-related event.
func (l *Log) LogPatchEvent(eventType string, patch map[string]any, result map[string]any) {
	meta, _ := patch["metadata"].(map[string]any)
	e := Event{
		"patch_id":    stringField(patch, "id", "unknown"),
		"target_file": stringField(patch, "target_file", ""),
		"description": stringField(patch, "description", ""),
		"author":      stringField(meta, "author", "unknown"),
		"source":      stringField(meta, "source", "unknown"),
		"result":      orEmpty(result),
	}
	l.append(TypePatch, eventType, e)
}

// LogSlackEvent appends a chat-platform event.
func (l *Log) LogSlackEvent(eventType string, slackData map[string]any, result map[string]any) {
	e := Event{
		"user_id":    stringField(slackData, "user_id", "unknown"),
		"channel_id": stringField(slackData, "channel_id", "unknown"),
		"command":    stringField(slackData, "command", ""),
		"text":       stringField(slackData, "text", ""),
		"result":     orEmpty(result),
	}
	l.append(TypeSlack, eventType, e)
}

// LogSystemEvent appends a system event with free-form data.
func (l *Log) LogSystemEvent(eventType string, data map[string]any) {
	l.append(TypeSystem, eventType, Event{"data": orEmpty(data)})
}

// append stamps identity fields and persists the journal. The cap is
// enforced before the write so the on-disk document never exceeds it.
func (l *Log) append(kind, eventType string, e Event) {
	prefix := map[string]string{
		TypePatch:  "patch",
		TypeSlack:  "slack",
		TypeSystem: "system",
	}[kind]

	e["id"] = fmt.Sprintf("%s_%d", prefix, time.Now().UnixMilli())
	e["type"] = kind
	e["event_type"] = eventType
	e["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, e)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	if err := l.writeLocked(); err != nil {
		l.logger.Error("Failed to persist event journal", "error", err)
	}
}

// writeLocked rewrites the journal atomically. Caller holds l.mu (or is the
// constructor, before the log is shared).
func (l *Log) writeLocked() error {
	doc := journal{
		Events:      l.events,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		TotalEvents: len(l.events),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding event journal: %w", err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating journal directory: %w", err)
		}
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing event journal: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replacing event journal: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent events, optionally filtered by kind
// (patch_event, slack_event, system_event).
func (l *Log) Recent(limit int, kind string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := l.events
	if kind != "" {
		filtered = make([]Event, 0, len(l.events))
		for _, e := range l.events {
			if e["type"] == kind {
				filtered = append(filtered, e)
			}
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	out := make([]Event, len(filtered))
	copy(out, filtered)
	return out
}

// PatchEvents returns recent patch events.
func (l *Log) PatchEvents(limit int) []Event { return l.Recent(limit, TypePatch) }

// SlackEvents returns recent chat-platform events.
func (l *Log) SlackEvents(limit int) []Event { return l.Recent(limit, TypeSlack) }

// Summary returns aggregate statistics over the journal.
func (l *Log) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[string]int)
	for _, e := range l.events {
		kind, _ := e["type"].(string)
		if kind == "" {
			kind = "unknown"
		}
		counts[kind]++
	}
	return Summary{
		TotalEvents: len(l.events),
		EventCounts: counts,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
}

// ClearOldEvents drops events older than the given number of days and
// rewrites the journal. Events with unparseable timestamps are kept.
func (l *Log) ClearOldEvents(days int) int {
	cutoff := time.Now().AddDate(0, 0, -days)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		ts, _ := e["timestamp"].(string)
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil || t.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(l.events) - len(kept)
	l.events = kept
	if removed > 0 {
		if err := l.writeLocked(); err != nil {
			l.logger.Error("Failed to persist event journal after retention pass", "error", err)
		}
	}
	return removed
}

func stringField(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
