package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		MaxRetries:  3,
		RetryDelay:  time.Millisecond,
		HistorySize: 100,
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err      string
		wantType ErrorType
		wantSev  Severity
	}{
		{"dial tcp 127.0.0.1:5053: connection refused", TypeNetwork, SeverityMedium},
		{"context deadline exceeded", TypeTimeout, SeverityMedium},
		{"validation error: missing required field: id", TypeValidation, SeverityLow},
		{"401 unauthorized", TypeAuthentication, SeverityHigh},
		{"write /tmp: no space left on device", TypeResource, SeverityCritical},
		{"panic recovered in handler", TypeSystem, SeverityCritical},
		{"something odd happened", TypeUnknown, SeverityMedium},
	}
	for _, tc := range cases {
		gotType, gotSev := Classify(errors.New(tc.err))
		assert.Equal(t, tc.wantType, gotType, tc.err)
		assert.Equal(t, tc.wantSev, gotSev, tc.err)
	}
}

func TestActionFor(t *testing.T) {
	assert.Equal(t, ActionRetry, ActionFor(TypeNetwork))
	assert.Equal(t, ActionRetry, ActionFor(TypeTimeout))
	assert.Equal(t, ActionRestart, ActionFor(TypeResource))
	assert.Equal(t, ActionEscalate, ActionFor(TypeAuthentication))
	assert.Equal(t, ActionIgnore, ActionFor(TypeValidation))
	assert.Equal(t, ActionEscalate, ActionFor(TypeUnknown))
}

func TestRetryRecovers(t *testing.T) {
	m := NewManager(testRecoveryConfig(), nil, nil)

	attempts := 0
	rec := m.Handle(context.Background(), "forwarder",
		errors.New("connection refused"),
		func(ctx context.Context) error {
			attempts++
			if attempts < 2 {
				return errors.New("connection refused")
			}
			return nil
		})

	assert.Equal(t, ActionRetry, rec.Action)
	assert.True(t, rec.Recovered)
	assert.Equal(t, 2, rec.Attempts)
}

func TestRetryExhausts(t *testing.T) {
	m := NewManager(testRecoveryConfig(), nil, nil)

	rec := m.Handle(context.Background(), "forwarder",
		errors.New("connection refused"),
		func(ctx context.Context) error { return errors.New("still down") })

	assert.False(t, rec.Recovered)
	assert.Equal(t, 3, rec.Attempts)
}

func TestRestartUsesRegisteredHook(t *testing.T) {
	m := NewManager(testRecoveryConfig(), nil, nil)

	restarted := false
	m.RegisterRestart("monitor", func(ctx context.Context) error {
		restarted = true
		return nil
	})

	rec := m.Handle(context.Background(), "monitor", errors.New("out of memory"), nil)
	assert.Equal(t, ActionRestart, rec.Action)
	assert.True(t, rec.Recovered)
	assert.True(t, restarted)

	// Without a hook the restart cannot recover.
	rec = m.Handle(context.Background(), "other", errors.New("out of memory"), nil)
	assert.False(t, rec.Recovered)
}

func TestIgnoreCountsAsRecovered(t *testing.T) {
	m := NewManager(testRecoveryConfig(), nil, nil)

	rec := m.Handle(context.Background(), "ingest",
		errors.New("validation error: missing required field: id"), nil)
	assert.Equal(t, ActionIgnore, rec.Action)
	assert.True(t, rec.Recovered)
}

func TestHistoryAndStats(t *testing.T) {
	m := NewManager(testRecoveryConfig(), nil, nil)

	m.Handle(context.Background(), "a", errors.New("connection refused"), nil)
	m.Handle(context.Background(), "b", errors.New("invalid payload"), nil)

	history := m.History(0)
	require.Len(t, history, 2)
	assert.NotEmpty(t, history[0].ErrorID)
	assert.NotEqual(t, history[0].ErrorID, history[1].ErrorID)

	stats := m.GetStats()
	assert.Equal(t, int64(2), stats.TotalErrors)
	assert.Equal(t, 1, stats.TypeCounts[TypeNetwork])
	assert.Equal(t, 1, stats.TypeCounts[TypeValidation])
	assert.Equal(t, 1, stats.ActionCounts[ActionIgnore])
}
