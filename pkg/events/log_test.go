package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

func newTestLog(t *testing.T, maxEvents int) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event-log.json")
	l, err := NewLog(config.EventLogConfig{Path: path, MaxEvents: maxEvents})
	require.NoError(t, err)
	return l
}

func TestLogSystemEvent(t *testing.T) {
	l := newTestLog(t, 100)

	l.LogSystemEvent("webhook_patch_saved", map[string]any{"patch_id": "p-1"})

	recent := l.Recent(10, "")
	require.Len(t, recent, 1)
	assert.Equal(t, TypeSystem, recent[0]["type"])
	assert.Equal(t, "webhook_patch_saved", recent[0]["event_type"])
	assert.Contains(t, recent[0]["id"], "system_")
	assert.NotEmpty(t, recent[0]["timestamp"])
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event-log.json")
	cfg := config.EventLogConfig{Path: path, MaxEvents: 100}

	l, err := NewLog(cfg)
	require.NoError(t, err)
	l.LogPatchEvent("patch_created", map[string]any{"id": "p-1", "target_file": "a.ts"}, nil)

	reopened, err := NewLog(cfg)
	require.NoError(t, err)
	events := reopened.PatchEvents(10)
	require.Len(t, events, 1)
	assert.Equal(t, "p-1", events[0]["patch_id"])
}

func TestJournalCapEnforced(t *testing.T) {
	l := newTestLog(t, 5)

	for i := 0; i < 20; i++ {
		l.LogSystemEvent("tick", nil)
	}

	assert.Len(t, l.Recent(0, ""), 5)

	// The on-disk document respects the cap too.
	data, err := os.ReadFile(l.path)
	require.NoError(t, err)
	var doc journal
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc.Events, 5)
	assert.Equal(t, 5, doc.TotalEvents)
}

func TestRecentFiltersByKind(t *testing.T) {
	l := newTestLog(t, 100)

	l.LogSystemEvent("startup", nil)
	l.LogPatchEvent("patch_created", map[string]any{"id": "p-1"}, nil)
	l.LogSlackEvent("command", map[string]any{"user_id": "u-1", "command": "/patch"}, nil)

	assert.Len(t, l.PatchEvents(10), 1)
	assert.Len(t, l.SlackEvents(10), 1)
	assert.Len(t, l.Recent(10, TypeSystem), 1)
	assert.Len(t, l.Recent(10, ""), 3)
}

func TestSummaryCountsByType(t *testing.T) {
	l := newTestLog(t, 100)

	l.LogSystemEvent("a", nil)
	l.LogSystemEvent("b", nil)
	l.LogPatchEvent("patch_created", map[string]any{"id": "p-1"}, nil)

	s := l.Summary()
	assert.Equal(t, 3, s.TotalEvents)
	assert.Equal(t, 2, s.EventCounts[TypeSystem])
	assert.Equal(t, 1, s.EventCounts[TypePatch])
}

func TestCorruptJournalStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event-log.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l, err := NewLog(config.EventLogConfig{Path: path, MaxEvents: 10})
	require.NoError(t, err)
	assert.Empty(t, l.Recent(0, ""))
}
