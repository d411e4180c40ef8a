// Package ingest implements the synchronous patch ingest pipeline:
// validate the descriptor, persist it, forward it downstream, record
// events. Forwarding is best-effort; persistence is not.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/events"
	"github.com/thoughtpilot/ghostplane/pkg/forwarder"
	"github.com/thoughtpilot/ghostplane/pkg/patchstore"
	"github.com/thoughtpilot/ghostplane/pkg/recovery"
)

// ValidationError reports a malformed patch descriptor. Maps to 400 at
// the API boundary.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "Validation error: " + e.Reason
}

// ProcessingError reports a failure after validation, such as a write
// failure. Maps to 500 at the API boundary.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing error at %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Result is the outcome of a successful ingest.
type Result struct {
	Success   bool   `json:"success"`
	PatchID   string `json:"patch_id"`
	Filepath  string `json:"filepath"`
	Message   string `json:"message"`
	Forwarded bool   `json:"forwarded"`
}

// Pipeline is the patch ingest pipeline.
type Pipeline struct {
	store     *patchstore.Store
	forwarder *forwarder.Forwarder
	events    *events.Log
	recovery  *recovery.Manager
	logger    *slog.Logger

	now func() time.Time
}

// NewPipeline wires the ingest pipeline. rec may be nil; faults are then
// reported through errors alone.
func NewPipeline(store *patchstore.Store, fwd *forwarder.Forwarder, log *events.Log, rec *recovery.Manager) *Pipeline {
	return &Pipeline{
		store:     store,
		forwarder: fwd,
		events:    log,
		recovery:  rec,
		logger:    slog.Default().With("component", "ingest"),
		now:       time.Now,
	}
}

// dangerousPatterns match everything (or nothing useful) and would let a
// patch rewrite an entire file. They are refused unless the descriptor
// carries a force flag; the flag itself is honored downstream, the
// descriptor is stored with it intact.
var dangerousPatterns = map[string]struct{}{
	"^.*$": {},
	".*":   {},
	"^":    {},
	"$":    {},
}

// regexMetaChars decide whether a pattern is treated as a regular
// expression or as a literal string by the downstream applier.
const regexMetaChars = `^$.*+?{}[]()|\`

// IsRegexPattern reports whether the applier will treat the pattern as a
// regular expression rather than a literal.
func IsRegexPattern(pattern string) bool {
	return strings.ContainsAny(pattern, regexMetaChars)
}

// ProcessPatch runs the full pipeline on a decoded request body.
// The error, when non-nil, is a *ValidationError or *ProcessingError.
func (p *Pipeline) ProcessPatch(ctx context.Context, payload map[string]any) (*Result, error) {
	id, err := p.validate(payload)
	if err != nil {
		p.events.LogSystemEvent("webhook_validation_error", map[string]any{
			"error":   err.Error(),
			"payload": payload,
		})
		return nil, err
	}

	path, err := p.store.Save(payload, id, p.now())
	if err != nil && p.recovery != nil {
		rec := p.recovery.Handle(ctx, "patch-store", err, func(ctx context.Context) error {
			var retryErr error
			path, retryErr = p.store.Save(payload, id, p.now())
			return retryErr
		})
		if rec.Recovered && rec.Action == recovery.ActionRetry {
			err = nil
		}
	}
	if err != nil {
		p.events.LogSystemEvent("webhook_processing_error", map[string]any{
			"patch_id": id,
			"error":    err.Error(),
		})
		return nil, &ProcessingError{Stage: "persist", Err: err}
	}

	p.events.LogSystemEvent("webhook_patch_saved", map[string]any{
		"patch_id": id,
		"filepath": path,
	})

	forwarded := false
	if body, err := json.Marshal(payload); err == nil {
		fwdErr := p.forwarder.Forward(ctx, body, id)
		if fwdErr != nil && p.recovery != nil {
			rec := p.recovery.Handle(ctx, "forwarder", fwdErr, func(ctx context.Context) error {
				return p.forwarder.Forward(ctx, body, id)
			})
			if rec.Recovered && rec.Action == recovery.ActionRetry {
				fwdErr = nil
			}
		}
		forwarded = fwdErr == nil
	} else {
		p.logger.Error("Failed to encode payload for forwarding", "patch_id", id, "error", err)
	}

	return &Result{
		Success:   true,
		PatchID:   id,
		Filepath:  path,
		Message:   "patch saved",
		Forwarded: forwarded,
	}, nil
}

// validate enforces the descriptor contract and returns the patch ID.
// A non-nil error is always a *ValidationError.
func (p *Pipeline) validate(payload map[string]any) (string, error) {
	id, ok := payload["id"].(string)
	if !ok || id == "" {
		return "", &ValidationError{Reason: "missing required field: id"}
	}
	for _, field := range []string{"role", "target_file"} {
		s, ok := payload[field].(string)
		if !ok || s == "" {
			return "", &ValidationError{Reason: "missing required field: " + field}
		}
	}

	patch, ok := payload["patch"].(map[string]any)
	if !ok {
		return "", &ValidationError{Reason: "missing required field: patch"}
	}
	pattern, ok := patch["pattern"].(string)
	if !ok || pattern == "" {
		return "", &ValidationError{Reason: "patch.pattern must be a non-empty string"}
	}
	replacement, ok := patch["replacement"].(string)
	if !ok || replacement == "" {
		return "", &ValidationError{Reason: "patch.replacement must be a non-empty string"}
	}

	if _, dangerous := dangerousPatterns[pattern]; dangerous && !forceSet(patch, payload) {
		return "", &ValidationError{
			Reason: fmt.Sprintf("pattern %q matches too broadly; set force to override", pattern),
		}
	}

	return id, nil
}

func forceSet(patch, payload map[string]any) bool {
	if f, ok := patch["force"].(bool); ok && f {
		return true
	}
	f, ok := payload["force"].(bool)
	return ok && f
}

// ProcessSummary acknowledges a patch summary. Only an id is required;
// the summary is logged, never persisted.
func (p *Pipeline) ProcessSummary(payload map[string]any) (map[string]any, error) {
	id, ok := payload["id"].(string)
	if !ok || id == "" {
		return nil, &ValidationError{Reason: "missing required field: id"}
	}

	p.logger.Info("Summary received", "patch_id", id)
	p.events.LogSystemEvent("summary_received", map[string]any{
		"patch_id": id,
		"summary":  payload["summary"],
	})

	return map[string]any{
		"success":  true,
		"patch_id": id,
		"message":  "summary received",
	}, nil
}
