// Package workflow executes named multi-step workflows sequentially.
//
// Each submitted request walks its workflow's steps in order. A step
// whose required dependencies produced no result is skipped, and every
// step depending on it cascades into skipped as well; a request with
// skipped steps still completes. Step failures retry with a fixed delay
// before failing the request.
package workflow

import (
	"context"
	"time"
)

// Status is a request lifecycle state.
type Status string

// Request statuses.
const (
	StatusPending        Status = "pending"
	StatusValidating     Status = "validating"
	StatusPreparing      Status = "preparing"
	StatusProcessing     Status = "processing"
	StatusPostProcessing Status = "post_processing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// DependencyType says how a step's dependencies gate it.
type DependencyType string

// Dependency types. Optional dependencies never block a step.
const (
	DependencyRequired DependencyType = "required"
	DependencyOptional DependencyType = "optional"
)

// Handler executes one step. It receives the request payload and the
// results of the steps that already ran.
type Handler func(ctx context.Context, payload map[string]any, results map[string]any) (any, error)

// Step is one unit of work inside a workflow.
type Step struct {
	ID             string
	Name           string
	Handler        Handler
	Dependencies   []string
	DependencyType DependencyType
	Timeout        time.Duration
	MaxRetries     int
}

// Workflow is an ordered list of steps registered under a name.
type Workflow struct {
	Name  string
	Steps []Step
}

// Request is one submitted workflow execution.
type Request struct {
	ID             string         `json:"request_id"`
	Workflow       string         `json:"workflow"`
	Status         Status         `json:"status"`
	Payload        map[string]any `json:"payload"`
	Results        map[string]any `json:"results"`
	SkippedSteps   []string       `json:"skipped_steps,omitempty"`
	Error          string         `json:"error,omitempty"`
	Priority       int            `json:"priority"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ProcessingTime float64        `json:"processing_time_seconds"`
}

// Stats summarizes engine activity.
type Stats struct {
	Submitted             int64   `json:"submitted"`
	Completed             int64   `json:"completed"`
	Failed                int64   `json:"failed"`
	Cancelled             int64   `json:"cancelled"`
	QueueDepth            int     `json:"queue_depth"`
	ActiveRequests        int     `json:"active_requests"`
	AverageProcessingTime float64 `json:"average_processing_time_seconds"`
	Workflows             int     `json:"registered_workflows"`
}
