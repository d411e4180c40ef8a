package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoughtpilot/ghostplane/pkg/config"
	"github.com/thoughtpilot/ghostplane/pkg/events"
	"github.com/thoughtpilot/ghostplane/pkg/forwarder"
	"github.com/thoughtpilot/ghostplane/pkg/patchstore"
	"github.com/thoughtpilot/ghostplane/pkg/recovery"
)

func newTestPipeline(t *testing.T, downstreamURL string) (*Pipeline, *events.Log, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := patchstore.NewStore(dir)
	require.NoError(t, err)

	log, err := events.NewLog(config.EventLogConfig{
		Path:      filepath.Join(t.TempDir(), "event-log.json"),
		MaxEvents: 100,
	})
	require.NoError(t, err)

	fwd := forwarder.New(config.IngestConfig{
		DownstreamURL:  downstreamURL,
		ForwardTimeout: time.Second,
		ForwardRetries: 2,
		ForwardBackoff: 10 * time.Millisecond,
	})

	return NewPipeline(store, fwd, log, nil), log, dir
}

func validPayload() map[string]any {
	return map[string]any{
		"id":          "p/1",
		"role":        "ui",
		"target_file": "a.ts",
		"patch":       map[string]any{"pattern": "foo", "replacement": "bar"},
	}
}

func TestHappyIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, log, dir := newTestPipeline(t, srv.URL)

	result, err := p.ProcessPatch(context.Background(), validPayload())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "p/1", result.PatchID)
	assert.True(t, result.Forwarded)
	assert.Contains(t, filepath.Base(result.Filepath), "p_1_")

	// The stored file holds the request body verbatim.
	data, err := os.ReadFile(result.Filepath)
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, validPayload(), stored)

	recent := log.Recent(10, "")
	require.NotEmpty(t, recent)
	assert.Equal(t, "webhook_patch_saved", recent[len(recent)-1]["event_type"])

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestValidationMissRejectsAndLogs(t *testing.T) {
	p, log, dir := newTestPipeline(t, "http://127.0.0.1:1/patch")

	payload := map[string]any{
		"id":          "x",
		"role":        "u",
		"target_file": "a",
		"patch":       map[string]any{"pattern": "foo"}, // replacement missing
	}

	_, err := p.ProcessPatch(context.Background(), payload)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "replacement")
	assert.Contains(t, err.Error(), "Validation error:")

	// No file was created.
	files, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, files)

	recent := log.Recent(10, "")
	require.NotEmpty(t, recent)
	assert.Equal(t, "webhook_validation_error", recent[len(recent)-1]["event_type"])
}

func TestForwardDownStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _, _ := newTestPipeline(t, srv.URL)

	result, err := p.ProcessPatch(context.Background(), validPayload())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Forwarded)
}

func TestPersistFailureIsProcessingError(t *testing.T) {
	p, log, dir := newTestPipeline(t, "http://127.0.0.1:1/patch")

	// Valid descriptor, but a payload value the store cannot encode.
	payload := validPayload()
	payload["extra"] = make(chan int)

	_, err := p.ProcessPatch(context.Background(), payload)
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "persist", perr.Stage)

	files, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, files)

	recent := log.Recent(10, "")
	require.NotEmpty(t, recent)
	assert.Equal(t, "webhook_processing_error", recent[len(recent)-1]["event_type"])
}

func TestForwardFailureReachesRecovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // forward attempts get connection refused

	dir := t.TempDir()
	store, err := patchstore.NewStore(dir)
	require.NoError(t, err)
	log, err := events.NewLog(config.EventLogConfig{
		Path:      filepath.Join(t.TempDir(), "event-log.json"),
		MaxEvents: 100,
	})
	require.NoError(t, err)
	fwd := forwarder.New(config.IngestConfig{
		DownstreamURL:  srv.URL,
		ForwardTimeout: time.Second,
		ForwardRetries: 0,
		ForwardBackoff: time.Millisecond,
	})
	mgr := recovery.NewManager(config.RecoveryConfig{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, nil, nil)

	p := NewPipeline(store, fwd, log, mgr)

	result, err := p.ProcessPatch(context.Background(), validPayload())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Forwarded)

	// The fault was classified and recorded.
	records := mgr.History(10)
	require.Len(t, records, 1)
	assert.Equal(t, "forwarder", records[0].Component)
	assert.Equal(t, recovery.TypeNetwork, records[0].Type)
	assert.Equal(t, recovery.ActionRetry, records[0].Action)
	assert.False(t, records[0].Recovered)
}

func TestPersistFailureReachesRecovery(t *testing.T) {
	dir := t.TempDir()
	store, err := patchstore.NewStore(dir)
	require.NoError(t, err)
	log, err := events.NewLog(config.EventLogConfig{
		Path:      filepath.Join(t.TempDir(), "event-log.json"),
		MaxEvents: 100,
	})
	require.NoError(t, err)
	fwd := forwarder.New(config.IngestConfig{
		DownstreamURL:  "http://127.0.0.1:1/patch",
		ForwardTimeout: time.Second,
		ForwardBackoff: time.Millisecond,
	})
	mgr := recovery.NewManager(config.RecoveryConfig{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, nil, nil)

	p := NewPipeline(store, fwd, log, mgr)

	payload := validPayload()
	payload["extra"] = make(chan int)

	_, err = p.ProcessPatch(context.Background(), payload)
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)

	records := mgr.History(10)
	require.Len(t, records, 1)
	assert.Equal(t, "patch-store", records[0].Component)
	assert.False(t, records[0].Recovered)
}

func TestEmptyPatternRejected(t *testing.T) {
	p, _, _ := newTestPipeline(t, "http://127.0.0.1:1/patch")

	payload := validPayload()
	payload["patch"] = map[string]any{"pattern": "", "replacement": "bar"}

	_, err := p.ProcessPatch(context.Background(), payload)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDangerousPatternNeedsForce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, _, _ := newTestPipeline(t, srv.URL)

	payload := validPayload()
	payload["patch"] = map[string]any{"pattern": ".*", "replacement": "bar"}

	_, err := p.ProcessPatch(context.Background(), payload)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, errors.As(err, &verr))

	// The force flag lifts the refusal; the flag is stored, not acted on.
	payload["patch"] = map[string]any{"pattern": ".*", "replacement": "bar", "force": true}
	result, err := p.ProcessPatch(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestIsRegexPattern(t *testing.T) {
	assert.True(t, IsRegexPattern(`^foo$`))
	assert.True(t, IsRegexPattern(`a|b`))
	assert.False(t, IsRegexPattern("plain text"))
	assert.False(t, IsRegexPattern("foo,bar"))
}

func TestProcessSummary(t *testing.T) {
	p, log, _ := newTestPipeline(t, "http://127.0.0.1:1/patch")

	ack, err := p.ProcessSummary(map[string]any{"id": "p-1", "summary": "all good"})
	require.NoError(t, err)
	assert.Equal(t, true, ack["success"])

	_, err = p.ProcessSummary(map[string]any{"summary": "no id"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	recent := log.Recent(10, "")
	assert.Equal(t, "summary_received", recent[len(recent)-1]["event_type"])
}
