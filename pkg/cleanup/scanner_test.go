package cleanup

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

func testCleanupConfig() config.CleanupConfig {
	return config.CleanupConfig{
		Interval:  time.Minute,
		Whitelist: []string{"systemd", "sshd", "ghostplane"},
		Rules: []config.CleanupRule{
			{NamePattern: "python", MaxAgeHours: 24, MaxCPUPercent: 80, MaxMemoryPercent: 90, Action: "terminate", Priority: 1},
			{NamePattern: "node", MaxAgeHours: 12, MaxCPUPercent: 85, MaxMemoryPercent: 85, Action: "terminate", Priority: 2},
			{NamePattern: ".*", MaxAgeHours: 48, MaxCPUPercent: 0, MaxMemoryPercent: 0, Action: "kill", Priority: 3},
		},
		HistorySize: 50,
	}
}

type fakeActor struct {
	calls []string
	fail  bool
}

func (f *fakeActor) apply(action string, pid int32) error {
	f.calls = append(f.calls, action)
	if f.fail {
		return errors.New("permission denied")
	}
	return nil
}

func newTestScanner(procs []ProcessInfo, actor *fakeActor) *Scanner {
	s := NewScanner(testCleanupConfig())
	s.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	s.lister = func() ([]ProcessInfo, error) { return procs, nil }
	s.actor = actor.apply
	return s
}

func procAged(name string, ageHours, cpu, mem float64) ProcessInfo {
	created := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC).Add(-time.Duration(ageHours * float64(time.Hour)))
	return ProcessInfo{PID: 100, Name: name, CPUPercent: cpu, MemoryPercent: mem, CreateTime: created}
}

func TestWhitelistedNeverTouched(t *testing.T) {
	actor := &fakeActor{}
	s := newTestScanner([]ProcessInfo{
		procAged("sshd", 100, 99, 99),
		procAged("GHOSTPLANE", 100, 99, 99), // whitelist match is case-insensitive
	}, actor)

	records := s.Scan()
	assert.Empty(t, records)
	assert.Empty(t, actor.calls)
}

func TestFirstMatchingRuleWins(t *testing.T) {
	actor := &fakeActor{}
	// python3 at 25h with high cpu matches rule 1 (terminate), not the
	// catch-all kill rule.
	s := newTestScanner([]ProcessInfo{procAged("python3", 25, 85, 10)}, actor)

	records := s.Scan()
	require.Len(t, records, 1)
	assert.Equal(t, "terminate", records[0].Action)
	assert.Equal(t, "python", records[0].Rule)
	assert.True(t, records[0].Success)
}

func TestYoungProcessSkipped(t *testing.T) {
	actor := &fakeActor{}
	s := newTestScanner([]ProcessInfo{procAged("python3", 2, 99, 99)}, actor)

	assert.Empty(t, s.Scan())
}

func TestResourceConditionRequired(t *testing.T) {
	actor := &fakeActor{}
	// Old python but idle: rule 1 needs cpu or memory above threshold,
	// and at 25h the catch-all 48h rule does not apply yet.
	s := newTestScanner([]ProcessInfo{procAged("python3", 25, 5, 5)}, actor)

	assert.Empty(t, s.Scan())
}

func TestZeroThresholdRuleMatchesOnAgeAlone(t *testing.T) {
	actor := &fakeActor{}
	// Exactly at the 48h boundary with zero cpu and zero memory: only the
	// zero-threshold catch-all may act.
	s := newTestScanner([]ProcessInfo{procAged("some-daemon", 48, 0, 0)}, actor)

	records := s.Scan()
	require.Len(t, records, 1)
	assert.Equal(t, "kill", records[0].Action)
	assert.Equal(t, ".*", records[0].Rule)
}

func TestFailedActionRecorded(t *testing.T) {
	actor := &fakeActor{fail: true}
	s := newTestScanner([]ProcessInfo{procAged("python3", 25, 90, 10)}, actor)

	records := s.Scan()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].Error, "permission denied")

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.ActionsTotal)
	assert.Equal(t, int64(1), stats.ActionsFailed)
}

func TestHistoryBounded(t *testing.T) {
	cfg := testCleanupConfig()
	cfg.HistorySize = 3
	s := NewScanner(cfg)
	s.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	actor := &fakeActor{}
	s.actor = actor.apply
	s.lister = func() ([]ProcessInfo, error) {
		return []ProcessInfo{procAged("python3", 25, 90, 10)}, nil
	}

	for i := 0; i < 10; i++ {
		s.Scan()
	}
	assert.Len(t, s.History(0), 3)
	assert.Equal(t, int64(10), s.GetStats().ActionsTotal)
}
