package slack

import (
	"fmt"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var severityEmoji = map[string]string{
	"low":      ":information_source:",
	"medium":   ":warning:",
	"high":     ":rotating_light:",
	"critical": ":fire:",
}

// BuildErrorMessage creates Block Kit blocks for an error notification.
func BuildErrorMessage(input ErrorInput) []goslack.Block {
	emoji := severityEmoji[input.Severity]
	if emoji == "" {
		emoji = ":warning:"
	}

	text := fmt.Sprintf("%s *Control plane error* (%s)\n%s",
		emoji, input.Severity, truncateForSlack(input.Message))
	if input.Component != "" {
		text += fmt.Sprintf("\n*Component:* %s", input.Component)
	}
	if input.ErrorID != "" {
		text += fmt.Sprintf("\n*Error ID:* `%s`", input.ErrorID)
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildAuditMessage creates Block Kit blocks for a critical audit entry.
func BuildAuditMessage(input AuditInput) []goslack.Block {
	text := fmt.Sprintf(":rotating_light: *Audit event* (%s / %s)\n%s\n*Component:* %s\n*Time:* %s",
		input.Level, input.Category, truncateForSlack(input.Message),
		orUnknown(input.Component), input.Timestamp)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(s string) string {
	if utf8.RuneCountInString(s) <= maxBlockTextLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxBlockTextLength]) + "…"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
