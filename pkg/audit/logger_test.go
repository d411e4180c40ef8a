package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	cfg := config.AuditConfig{
		Dir:           t.TempDir(),
		MaxFileSizeMB: 10,
		RetentionDays: 90,
		SweepInterval: time.Hour,
		SensitiveKeys: []string{"password", "token", "secret", "key"},
		RecentEntries: 1000,
	}
	l, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	return l
}

func TestLogWritesJSONLine(t *testing.T) {
	l := newTestLogger(t)

	hash := l.Log(Entry{
		Level:    LevelInfo,
		Category: CategorySystem,
		Message:  "server started",
	})
	assert.Len(t, hash, 16)

	f, err := os.Open(l.ActiveFile())
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var got Entry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
	assert.Equal(t, LevelInfo, got.Level)
	assert.Equal(t, CategorySystem, got.Category)
	assert.Equal(t, "server started", got.Message)
	assert.Equal(t, hash, got.Hash)
}

func TestEntryHashIsDeterministic(t *testing.T) {
	e := Entry{
		Timestamp: "2026-01-15T10:00:00Z",
		Level:     LevelError,
		Category:  CategorySecurity,
		Message:   "bad signature",
		UserID:    "u-1",
		SessionID: "s-1",
	}

	sum := sha256.Sum256([]byte("2026-01-15T10:00:00Z" + "error" + "security" + "bad signature" + "u-1" + "s-1"))
	want := hex.EncodeToString(sum[:])[:16]
	assert.Equal(t, want, entryHash(e))
}

func TestSensitiveKeysRedactedRecursively(t *testing.T) {
	l := newTestLogger(t)

	l.Log(Entry{
		Level:    LevelInfo,
		Category: CategoryUserAction,
		Message:  "login",
		Data: map[string]any{
			"username": "alice",
			"Password": "hunter2",
			"nested": map[string]any{
				"token": "xoxb-123",
				"ok":    true,
			},
			"items": []any{
				map[string]any{"secret": "s3cr3t"},
			},
		},
	})

	entries := l.Query("", "", 1)
	require.Len(t, entries, 1)
	data := entries[0].Data
	assert.Equal(t, "alice", data["username"])
	assert.Equal(t, Redacted, data["Password"])

	nested := data["nested"].(map[string]any)
	assert.Equal(t, Redacted, nested["token"])
	assert.Equal(t, true, nested["ok"])

	item := data["items"].([]any)[0].(map[string]any)
	assert.Equal(t, Redacted, item["secret"])
}

func TestSizeRotationArchivesFile(t *testing.T) {
	cfg := config.AuditConfig{
		Dir:           t.TempDir(),
		MaxFileSizeMB: 0, // any non-empty file triggers rotation
		RetentionDays: 90,
		SweepInterval: time.Hour,
		RecentEntries: 100,
	}
	l, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	l.Log(Entry{Level: LevelInfo, Category: CategorySystem, Message: "first"})
	l.Log(Entry{Level: LevelInfo, Category: CategorySystem, Message: "second"})

	matches, err := os.ReadDir(cfg.Dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(matches), 2, "expected active file plus archived file")
}

func TestQueryFilters(t *testing.T) {
	l := newTestLogger(t)

	l.Log(Entry{Level: LevelInfo, Category: CategorySystem, Message: "a"})
	l.Log(Entry{Level: LevelError, Category: CategorySecurity, Message: "b"})
	l.Log(Entry{Level: LevelError, Category: CategorySystem, Message: "c"})

	assert.Len(t, l.Query(LevelError, "", 0), 2)
	assert.Len(t, l.Query(LevelError, CategorySecurity, 0), 1)
	assert.Len(t, l.Query("", "", 2), 2)

	// Newest first.
	got := l.Query("", "", 0)
	assert.Equal(t, "c", got[0].Message)
}

func TestGetStats(t *testing.T) {
	l := newTestLogger(t)

	l.Log(Entry{Level: LevelInfo, Category: CategorySystem, Message: "a"})
	l.Log(Entry{Level: LevelError, Category: CategoryError, Message: "b"})

	stats := l.GetStats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.LevelCounts["info"])
	assert.Equal(t, 1, stats.LevelCounts["error"])
	assert.Equal(t, 2, stats.Recent24h)
	assert.Equal(t, l.ActiveFile(), stats.ActiveFile)
}
