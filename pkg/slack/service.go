package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/thoughtpilot/ghostplane/pkg/config"
)

// ErrorInput contains data for an error/escalation notification.
type ErrorInput struct {
	Message   string
	Severity  string // low, medium, high, critical
	Component string
	ErrorID   string
}

// AuditInput contains data for a critical audit entry notification.
type AuditInput struct {
	Level     string
	Category  string
	Message   string
	Component string
	Timestamp string
}

// Service handles notification delivery.
// Nil-safe: all methods are no-ops when the service is nil.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new notification service.
// Returns nil if the token or channel is empty (notifications disabled).
func NewService(cfg config.SlackConfig) *Service {
	if cfg.BotToken == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.BotToken, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NotifyError sends an error/escalation notification.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyError(ctx context.Context, input ErrorInput) {
	if s == nil {
		return
	}
	if err := s.client.PostMessage(ctx, BuildErrorMessage(input), 5*time.Second); err != nil {
		s.logger.Error("Failed to send error notification",
			"error_id", input.ErrorID, "error", err)
	}
}

// NotifyAudit sends a notification for a critical or error audit entry.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyAudit(ctx context.Context, input AuditInput) {
	if s == nil {
		return
	}
	if err := s.client.PostMessage(ctx, BuildAuditMessage(input), 5*time.Second); err != nil {
		s.logger.Error("Failed to send audit notification",
			"category", input.Category, "error", err)
	}
}
