package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtpilot/ghostplane/pkg/config"
	"github.com/thoughtpilot/ghostplane/pkg/recovery"
)

func testEngineConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		WorkerCount:      2,
		QueueCapacity:    10,
		SubmitWait:       100 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
		MaxRetries:       3,
		RetryDelay:       10 * time.Millisecond,
		CompletedHistory: 100,
	}
}

func startEngine(t *testing.T, cfg config.WorkflowConfig) *Engine {
	t.Helper()
	e := NewEngine(cfg)
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e
}

func waitForTerminal(t *testing.T, e *Engine, id string) *Request {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req, ok := e.GetRequest(id)
		require.True(t, ok)
		switch req.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return req
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("request %s never reached a terminal status", id)
	return nil
}

func echoStep(id string) Step {
	return Step{
		ID:   id,
		Name: id,
		Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
			return map[string]any{"step": id}, nil
		},
	}
}

func TestWebhookProcessingHappyPath(t *testing.T) {
	e := startEngine(t, testEngineConfig())
	RegisterBuiltinWorkflows(e, Deps{})

	id, err := e.Submit("webhook_processing", map[string]any{"a": 1}, 0)
	require.NoError(t, err)
	assert.Contains(t, id, "webhook_processing_")

	req := waitForTerminal(t, e, id)
	assert.Equal(t, StatusCompleted, req.Status)
	for _, step := range []string{"validate_request", "log_request", "process_webhook", "update_metrics"} {
		assert.Contains(t, req.Results, step)
	}
	assert.Empty(t, req.SkippedSteps)
}

func TestUnknownWorkflowRejected(t *testing.T) {
	e := startEngine(t, testEngineConfig())

	_, err := e.Submit("nope", nil, 0)
	var unknown *ErrUnknownWorkflow
	assert.ErrorAs(t, err, &unknown)
}

func TestStepFailureFailsRequestAfterRetries(t *testing.T) {
	e := startEngine(t, testEngineConfig())

	attempts := 0
	e.RegisterWorkflow(Workflow{
		Name: "flaky",
		Steps: []Step{{
			ID:         "always_fails",
			Name:       "always fails",
			MaxRetries: 2,
			Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
				attempts++
				return nil, errors.New("boom")
			},
		}},
	})

	id, err := e.Submit("flaky", nil, 0)
	require.NoError(t, err)

	req := waitForTerminal(t, e, id)
	assert.Equal(t, StatusFailed, req.Status)
	assert.Contains(t, req.Error, "always_fails")
	assert.Equal(t, 3, attempts) // 1 attempt + 2 retries
}

func TestFailedRequestReachesRecovery(t *testing.T) {
	e := startEngine(t, testEngineConfig())
	mgr := recovery.NewManager(config.RecoveryConfig{
		MaxRetries:  1,
		RetryDelay:  time.Millisecond,
		HistorySize: 10,
	}, nil, nil)
	e.SetRecovery(mgr)

	e.RegisterWorkflow(Workflow{
		Name: "doomed",
		Steps: []Step{{
			ID:         "breaks",
			Name:       "breaks",
			MaxRetries: 1,
			Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
				return nil, errors.New("boom")
			},
		}},
	})

	id, err := e.Submit("doomed", nil, 0)
	require.NoError(t, err)

	req := waitForTerminal(t, e, id)
	assert.Equal(t, StatusFailed, req.Status)

	require.Eventually(t, func() bool {
		return len(mgr.History(10)) == 1
	}, time.Second, 10*time.Millisecond)
	rec := mgr.History(10)[0]
	assert.Equal(t, "workflow:doomed", rec.Component)
	assert.Equal(t, recovery.ActionEscalate, rec.Action)
	assert.Contains(t, rec.Message, "breaks")
}

func TestRetrySucceedsEventually(t *testing.T) {
	e := startEngine(t, testEngineConfig())

	attempts := 0
	e.RegisterWorkflow(Workflow{
		Name: "recovers",
		Steps: []Step{{
			ID:   "second_time_lucky",
			Name: "second time lucky",
			Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
				attempts++
				if attempts < 2 {
					return nil, errors.New("transient")
				}
				return "ok", nil
			},
		}},
	})

	id, err := e.Submit("recovers", nil, 0)
	require.NoError(t, err)

	req := waitForTerminal(t, e, id)
	assert.Equal(t, StatusCompleted, req.Status)
	assert.Equal(t, "ok", req.Results["second_time_lucky"])
}

func TestMissingDependencySkipsAndCascades(t *testing.T) {
	e := startEngine(t, testEngineConfig())

	first := echoStep("first")
	// Depends on a step that never runs; skip must cascade into the
	// dependent step while the request still completes.
	orphan := Step{
		ID:           "orphan",
		Name:         "orphan",
		Dependencies: []string{"never_ran"},
		Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
			return "unreachable", nil
		},
	}
	dependent := Step{
		ID:           "dependent",
		Name:         "dependent",
		Dependencies: []string{"orphan"},
		Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
			return "unreachable", nil
		},
	}
	e.RegisterWorkflow(Workflow{Name: "gappy", Steps: []Step{first, orphan, dependent}})

	id, err := e.Submit("gappy", nil, 0)
	require.NoError(t, err)

	req := waitForTerminal(t, e, id)
	assert.Equal(t, StatusCompleted, req.Status)
	assert.Contains(t, req.Results, "first")
	assert.NotContains(t, req.Results, "orphan")
	assert.ElementsMatch(t, []string{"orphan", "dependent"}, req.SkippedSteps)
}

func TestCancelPendingRequest(t *testing.T) {
	e := NewEngine(testEngineConfig()) // not started: requests stay pending
	e.RegisterWorkflow(Workflow{Name: "w", Steps: []Step{echoStep("s")}})

	id, err := e.Submit("w", nil, 0)
	require.NoError(t, err)

	assert.True(t, e.Cancel(id))
	req, ok := e.GetRequest(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, req.Status)

	// A second cancel is a no-op.
	assert.False(t, e.Cancel(id))
}

func TestQueueFullRejectsAfterWait(t *testing.T) {
	cfg := testEngineConfig()
	cfg.QueueCapacity = 1
	cfg.SubmitWait = 50 * time.Millisecond
	e := NewEngine(cfg) // not started: the queue never drains
	e.RegisterWorkflow(Workflow{Name: "w", Steps: []Step{echoStep("s")}})

	_, err := e.Submit("w", nil, 0)
	require.NoError(t, err)

	_, err = e.Submit("w", nil, 0)
	var full *ErrQueueFull
	assert.ErrorAs(t, err, &full)
}

func TestStatsTrackOutcomes(t *testing.T) {
	e := startEngine(t, testEngineConfig())
	RegisterBuiltinWorkflows(e, Deps{})

	id, err := e.Submit("webhook_processing", map[string]any{"a": 1}, 0)
	require.NoError(t, err)
	waitForTerminal(t, e, id)

	stats := e.GetStats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.GreaterOrEqual(t, stats.AverageProcessingTime, 0.0)
	assert.Equal(t, 2, stats.Workflows)
}
