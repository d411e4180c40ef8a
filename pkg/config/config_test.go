package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "5051", cfg.Server.Port)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.False(t, cfg.Server.DebugMode)

	assert.Equal(t, "http://localhost:5053/patch", cfg.Ingest.DownstreamURL)
	assert.Equal(t, 5*time.Second, cfg.Ingest.ForwardTimeout)
	assert.Equal(t, 2, cfg.Ingest.ForwardRetries)

	assert.Equal(t, 1000, cfg.Events.MaxEvents)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Len(t, cfg.RateLimit.Rules, 8)
	assert.Len(t, cfg.Cleanup.Rules, 3)
	assert.Equal(t, "restricted", cfg.CORS.Policy)

	// Defaults must be valid on their own.
	require.NoError(t, cfg.validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "5051", cfg.Server.Port)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "8080"
ingest:
  downstream_url: http://runner.internal:9000/patch
  forward_retries: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "http://runner.internal:9000/patch", cfg.Ingest.DownstreamURL)
	assert.Equal(t, 5, cfg.Ingest.ForwardRetries)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Events.MaxEvents)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PYTHON_PORT", "6060")
	t.Setenv("LOCAL_GHOST_URL", "http://localhost:7000/patch")
	t.Setenv("DEBUG_MODE", "true")
	t.Setenv("PATCHES_DIRECTORY", "/var/lib/ghostplane/patches")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SLACK_CHANNEL", "#ops")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Server.Port)
	assert.Equal(t, "http://localhost:7000/patch", cfg.Ingest.DownstreamURL)
	assert.True(t, cfg.Server.DebugMode)
	assert.Equal(t, "/var/lib/ghostplane/patches", cfg.Ingest.PatchesDir)
	assert.Equal(t, "xoxb-test", cfg.Slack.BotToken)
	assert.Equal(t, "#ops", cfg.Slack.Channel)
}

func TestCloudDefaultPatchesDir(t *testing.T) {
	t.Setenv("FLY_APP_NAME", "ghostplane-prod")
	t.Setenv("PATCHES_DIRECTORY", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/patches", cfg.Ingest.PatchesDir)
}

func TestValidateRejectsBadRateLimitRule(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Rules = append(cfg.RateLimit.Rules, RateLimitRule{Name: "bad", MaxRequests: 0, Window: time.Minute})

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit rule")
}

func TestValidateRejectsBadCleanupAction(t *testing.T) {
	cfg := Default()
	cfg.Cleanup.Rules[0].Action = "obliterate"

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cleanup action")
}
