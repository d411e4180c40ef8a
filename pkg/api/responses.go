package api

import "github.com/thoughtpilot/ghostplane/pkg/ingest"

// SuccessResponse wraps a successful ingest outcome.
type SuccessResponse struct {
	Status string         `json:"status"`
	Result *ingest.Result `json:"result"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RateLimitedResponse is the 429 body.
type RateLimitedResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Rule       string  `json:"rule"`
	RetryAfter float64 `json:"retry_after_seconds"`
}

// SubmitResponse acknowledges an asynchronous submission.
type SubmitResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// HealthComponents are the per-component flags reported by /health.
type HealthComponents struct {
	GhostRunner     string `json:"ghost_runner"`
	Port5555Bound   bool   `json:"port_5555_bound"`
	FSWritable      bool   `json:"fs_writable"`
	FlaskResponsive bool   `json:"flask_responsive"`
	WebhookEndpoint string `json:"webhook_endpoint"`
}

// HealthMetrics are the system metrics reported by /health.
type HealthMetrics struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Disk    float64 `json:"disk"`
	Network any     `json:"network"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	OverallStatus string           `json:"overall_status"`
	Components    HealthComponents `json:"components"`
	SystemMetrics HealthMetrics    `json:"system_metrics"`
	Version       string           `json:"version"`
	Timestamp     string           `json:"timestamp"`
}
