package slack

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildErrorMessage(t *testing.T) {
	blocks := BuildErrorMessage(ErrorInput{
		Message:   "downstream runner unreachable",
		Severity:  "critical",
		Component: "forwarder",
		ErrorID:   "err-42",
	})

	require.Len(t, blocks, 1)

	section, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, ":fire:")
	assert.Contains(t, section.Text.Text, "downstream runner unreachable")
	assert.Contains(t, section.Text.Text, "*Component:* forwarder")
	assert.Contains(t, section.Text.Text, "`err-42`")
}

func TestBuildErrorMessage_UnknownSeverityFallsBack(t *testing.T) {
	blocks := BuildErrorMessage(ErrorInput{
		Message:  "something odd",
		Severity: "weird",
	})

	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, ":warning:")
	assert.NotContains(t, section.Text.Text, "*Component:*")
	assert.NotContains(t, section.Text.Text, "*Error ID:*")
}

func TestBuildAuditMessage(t *testing.T) {
	blocks := BuildAuditMessage(AuditInput{
		Level:     "critical",
		Category:  "security",
		Message:   "repeated auth failures",
		Component: "api-server",
		Timestamp: "2026-01-02T03:04:05Z",
	})

	require.Len(t, blocks, 1)

	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, ":rotating_light:")
	assert.Contains(t, section.Text.Text, "critical / security")
	assert.Contains(t, section.Text.Text, "repeated auth failures")
	assert.Contains(t, section.Text.Text, "2026-01-02T03:04:05Z")
}

func TestBuildAuditMessage_EmptyComponent(t *testing.T) {
	blocks := BuildAuditMessage(AuditInput{
		Level:    "error",
		Category: "system",
		Message:  "disk write failed",
	})

	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, "*Component:* unknown")
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength)
		assert.Equal(t, text, truncateForSlack(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength+100)
		result := truncateForSlack(text)
		assert.True(t, len(result) < len(text))
		assert.True(t, strings.HasSuffix(result, "…"))
	})

	t.Run("multi-byte runes not split", func(t *testing.T) {
		text := strings.Repeat("🔥", maxBlockTextLength+10)
		result := truncateForSlack(text)
		assert.True(t, utf8.ValidString(result))
		assert.Equal(t, maxBlockTextLength+1, utf8.RuneCountInString(result))
	})
}

func TestServiceNilSafe(t *testing.T) {
	var s *Service
	// Must not panic.
	s.NotifyError(context.Background(), ErrorInput{Message: "m", Severity: "low"})
	s.NotifyAudit(context.Background(), AuditInput{Level: "error", Message: "m"})
}
