package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/events"
	"github.com/thoughtpilot/ghostplane/pkg/validation"
)

// Deps are the collaborators the built-in workflows use. Events may be
// nil; steps then skip journaling.
type Deps struct {
	Events    *events.Log
	Validator *validation.Validator
}

var processedCount atomic.Int64

// RegisterBuiltinWorkflows installs the webhook_processing and
// patch_processing workflows.
//
// The webhook workflow records and meters a request that already went
// through the ingest pipeline; it never persists or forwards again.
// The patch workflow's apply step is a downstream concern, so its steps
// validate and track state without touching files.
func RegisterBuiltinWorkflows(e *Engine, deps Deps) {
	e.RegisterWorkflow(Workflow{
		Name: "webhook_processing",
		Steps: []Step{
			{
				ID:   "validate_request",
				Name: "Validate request",
				Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
					if len(payload) == 0 {
						return nil, errors.New("empty request payload")
					}
					return map[string]any{"valid": true, "fields": len(payload)}, nil
				},
			},
			{
				ID:           "log_request",
				Name:         "Log request",
				Dependencies: []string{"validate_request"},
				Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
					if deps.Events != nil {
						deps.Events.LogSystemEvent("workflow_request_logged", map[string]any{
							"payload_fields": len(payload),
						})
					}
					return map[string]any{"logged": true}, nil
				},
			},
			{
				ID:           "process_webhook",
				Name:         "Process webhook",
				Dependencies: []string{"validate_request", "log_request"},
				Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
					return map[string]any{
						"processed":    true,
						"processed_at": time.Now().UTC().Format(time.RFC3339),
					}, nil
				},
			},
			{
				ID:           "update_metrics",
				Name:         "Update metrics",
				Dependencies: []string{"process_webhook"},
				Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
					return map[string]any{
						"total_processed": processedCount.Add(1),
					}, nil
				},
			},
		},
	})

	e.RegisterWorkflow(Workflow{
		Name: "patch_processing",
		Steps: []Step{
			{
				ID:   "validate_patch",
				Name: "Validate patch",
				Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
					if deps.Validator == nil {
						return map[string]any{"valid": true}, nil
					}
					report := deps.Validator.Validate("patch", payload, validation.LevelStrict)
					if !report.IsValid {
						return nil, fmt.Errorf("invalid patch: %v", report.Errors)
					}
					return map[string]any{"valid": true}, nil
				},
			},
			{
				ID:           "backup_current",
				Name:         "Record backup intent",
				Dependencies: []string{"validate_patch"},
				Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
					return map[string]any{
						"backup_requested": true,
						"target_file":      payload["target_file"],
					}, nil
				},
			},
			{
				ID:           "apply_patch",
				Name:         "Hand off to applier",
				Dependencies: []string{"backup_current"},
				Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
					return map[string]any{"handed_off": true}, nil
				},
			},
			{
				ID:           "verify_patch",
				Name:         "Verify hand-off",
				Dependencies: []string{"apply_patch"},
				Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
					if _, ok := results["apply_patch"]; !ok {
						return nil, errors.New("apply step left no result")
					}
					return map[string]any{"verified": true}, nil
				},
			},
			{
				ID:           "update_status",
				Name:         "Update status",
				Dependencies: []string{"verify_patch"},
				Handler: func(ctx context.Context, payload, results map[string]any) (any, error) {
					if deps.Events != nil {
						deps.Events.LogSystemEvent("workflow_patch_tracked", map[string]any{
							"patch_id": payload["id"],
						})
					}
					return map[string]any{"status": "tracked"}, nil
				},
			},
		},
	})
}
