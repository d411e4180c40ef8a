// Package config provides configuration loading for the ghostplane control plane.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// YAML file (with {{.VAR}} environment expansion), and environment variable
// overrides for the handful of knobs operators set in deployment manifests.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the control plane.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Events    EventLogConfig  `yaml:"events"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Health    HealthConfig    `yaml:"health"`
	Processor ProcessorConfig `yaml:"processor"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	CORS      CORSConfig      `yaml:"cors"`
	Slack     SlackConfig     `yaml:"slack"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Port the HTTP surface listens on. Overridden by PYTHON_PORT for
	// compatibility with existing deployment manifests.
	Port string `yaml:"port"`

	// DebugMode skips chat-platform signature verification on /webhook.
	DebugMode bool `yaml:"debug_mode"`

	// MaxBodyBytes caps incoming request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// IngestConfig contains patch ingest pipeline settings.
type IngestConfig struct {
	// PatchesDir is where accepted patch descriptors are persisted.
	// Resolution order: PATCHES_DIRECTORY env, cloud default when
	// FLY_APP_NAME is present, then this value.
	PatchesDir string `yaml:"patches_dir"`

	// DownstreamURL is the patch-execution runner endpoint.
	DownstreamURL string `yaml:"downstream_url"`

	// ForwardTimeout is the per-attempt timeout for downstream forwards.
	ForwardTimeout time.Duration `yaml:"forward_timeout"`

	// ForwardRetries is the number of additional attempts after the first.
	ForwardRetries int `yaml:"forward_retries"`

	// ForwardBackoff is the fixed delay between forward attempts.
	ForwardBackoff time.Duration `yaml:"forward_backoff"`
}

// EventLogConfig contains event journal settings.
type EventLogConfig struct {
	Path      string `yaml:"path"`
	MaxEvents int    `yaml:"max_events"`
}

// AuditConfig contains audit log settings.
type AuditConfig struct {
	Dir           string        `yaml:"dir"`
	MaxFileSizeMB int           `yaml:"max_file_size_mb"`
	RetentionDays int           `yaml:"retention_days"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SensitiveKeys are field names whose values are redacted before any
	// entry is written. Redaction is a security requirement: entries may
	// carry request payloads that embed credentials.
	SensitiveKeys []string `yaml:"sensitive_keys"`

	// RecentEntries bounds the in-memory ring served by /api/audit.
	RecentEntries int `yaml:"recent_entries"`
}

// RateLimitRule describes one named admission rule.
type RateLimitRule struct {
	Name        string        `yaml:"name"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// RateLimitConfig contains rate limiter settings.
type RateLimitConfig struct {
	SweepInterval time.Duration   `yaml:"sweep_interval"`
	Rules         []RateLimitRule `yaml:"rules"`
}

// Threshold pairs a warning and a critical level for one resource.
type Threshold struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// MonitorConfig contains resource monitor settings.
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	CPU          Threshold     `yaml:"cpu"`
	Memory       Threshold     `yaml:"memory"`
	Disk         Threshold     `yaml:"disk"`
	ProcessCount Threshold     `yaml:"process_count"`
	MaxSamples   int           `yaml:"max_samples"`
	MaxAlerts    int           `yaml:"max_alerts"`
}

// CleanupRule describes one process cleanup rule. Rules are evaluated in
// ascending priority; the first match wins.
type CleanupRule struct {
	NamePattern      string  `yaml:"name_pattern"`
	MaxAgeHours      float64 `yaml:"max_age_hours"`
	MaxCPUPercent    float64 `yaml:"max_cpu_percent"`
	MaxMemoryPercent float64 `yaml:"max_memory_percent"`
	Action           string  `yaml:"action"` // terminate, kill, restart
	Priority         int     `yaml:"priority"`
}

// CleanupConfig contains process cleanup scanner settings.
type CleanupConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Whitelist []string      `yaml:"whitelist"`
	Rules     []CleanupRule `yaml:"rules"`
	// HistorySize bounds the cleanup record ring.
	HistorySize int `yaml:"history_size"`
}

// HealthConfig contains health check registry and aggregator settings.
type HealthConfig struct {
	Interval     time.Duration `yaml:"interval"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
	HistorySize  int           `yaml:"history_size"`
}

// ProcessorConfig contains unified processor settings.
type ProcessorConfig struct {
	WorkerCount    int           `yaml:"worker_count"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	SubmitWait     time.Duration `yaml:"submit_wait"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	ResultHistory  int           `yaml:"result_history"`
}

// WorkflowConfig contains sequential workflow engine settings.
type WorkflowConfig struct {
	WorkerCount      int           `yaml:"worker_count"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	SubmitWait       time.Duration `yaml:"submit_wait"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	CompletedHistory int           `yaml:"completed_history"`
}

// RecoveryConfig contains error recovery settings.
type RecoveryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	HistorySize int           `yaml:"history_size"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	Policy           string   `yaml:"policy"` // allow_all, restricted, whitelist, blacklist
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposeHeaders    []string `yaml:"expose_headers"`
	MaxAge           int      `yaml:"max_age"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	BlockedOrigins   []string `yaml:"blocked_origins"`
}

// SlackConfig contains chat notifier settings. An empty BotToken or Channel
// disables notifications entirely.
type SlackConfig struct {
	BotToken      string `yaml:"bot_token"`
	Channel       string `yaml:"channel"`
	Username      string `yaml:"username"`
	WebhookURL    string `yaml:"webhook_url"`
	SigningSecret string `yaml:"signing_secret"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "5051",
			MaxBodyBytes: 1 << 20,
		},
		Ingest: IngestConfig{
			PatchesDir:     "patches",
			DownstreamURL:  "http://localhost:5053/patch",
			ForwardTimeout: 5 * time.Second,
			ForwardRetries: 2,
			ForwardBackoff: 1 * time.Second,
		},
		Events: EventLogConfig{
			Path:      "data/event-log.json",
			MaxEvents: 1000,
		},
		Audit: AuditConfig{
			Dir:           "logs/audit",
			MaxFileSizeMB: 100,
			RetentionDays: 90,
			SweepInterval: time.Hour,
			SensitiveKeys: []string{"password", "token", "secret", "key"},
			RecentEntries: 1000,
		},
		RateLimit: RateLimitConfig{
			SweepInterval: 30 * time.Second,
			Rules: []RateLimitRule{
				{Name: "webhook", MaxRequests: 100, Window: time.Minute},
				{Name: "api", MaxRequests: 1000, Window: time.Hour},
				{Name: "slack", MaxRequests: 50, Window: time.Minute},
				{Name: "health", MaxRequests: 10, Window: time.Minute},
				{Name: "resources", MaxRequests: 20, Window: time.Minute},
				{Name: "processes", MaxRequests: 30, Window: time.Minute},
				{Name: "processor", MaxRequests: 200, Window: time.Minute},
				{Name: "sequential", MaxRequests: 50, Window: time.Minute},
			},
		},
		Monitor: MonitorConfig{
			Interval:     30 * time.Second,
			CPU:          Threshold{Warning: 70, Critical: 90},
			Memory:       Threshold{Warning: 80, Critical: 95},
			Disk:         Threshold{Warning: 85, Critical: 95},
			ProcessCount: Threshold{Warning: 200, Critical: 300},
			MaxSamples:   50,
			MaxAlerts:    100,
		},
		Cleanup: CleanupConfig{
			Interval: 60 * time.Second,
			Whitelist: []string{
				"systemd", "init", "launchd", "kthreadd", "sshd",
				"bash", "zsh", "nginx", "postgres", "redis-server",
				"ghostplane",
			},
			Rules: []CleanupRule{
				{NamePattern: "python", MaxAgeHours: 24, MaxCPUPercent: 80, MaxMemoryPercent: 90, Action: "terminate", Priority: 1},
				{NamePattern: "node", MaxAgeHours: 12, MaxCPUPercent: 85, MaxMemoryPercent: 85, Action: "terminate", Priority: 2},
				{NamePattern: ".*", MaxAgeHours: 48, MaxCPUPercent: 0, MaxMemoryPercent: 0, Action: "kill", Priority: 3},
			},
			HistorySize: 50,
		},
		Health: HealthConfig{
			Interval:     30 * time.Second,
			CheckTimeout: 5 * time.Second,
			HistorySize:  1000,
		},
		Processor: ProcessorConfig{
			WorkerCount:    3,
			QueueCapacity:  100,
			SubmitWait:     5 * time.Second,
			PollInterval:   1 * time.Second,
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			ResultHistory:  1000,
		},
		Workflow: WorkflowConfig{
			WorkerCount:      2,
			QueueCapacity:    100,
			SubmitWait:       5 * time.Second,
			PollInterval:     1 * time.Second,
			MaxRetries:       3,
			RetryDelay:       1 * time.Second,
			CompletedHistory: 500,
		},
		Recovery: RecoveryConfig{
			MaxRetries:  3,
			RetryDelay:  1 * time.Second,
			HistorySize: 500,
		},
		CORS: CORSConfig{
			Policy:         "restricted",
			AllowedOrigins: []string{"http://localhost:5051"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
			ExposeHeaders:  []string{},
			MaxAge:         86400,
		},
		Slack: SlackConfig{
			Username: "ghostplane",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if it exists), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No config file is fine; defaults + env carry the day.
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the deployment environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("LOCAL_GHOST_URL"); v != "" {
		c.Ingest.DownstreamURL = v
	}
	if v := os.Getenv("PYTHON_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DEBUG_MODE"); v == "true" || v == "1" {
		c.Server.DebugMode = true
	}

	// Patches directory: explicit env wins, then the cloud default when
	// running on Fly (only /tmp is writable there), then the configured path.
	if v := os.Getenv("PATCHES_DIRECTORY"); v != "" {
		c.Ingest.PatchesDir = v
	} else if os.Getenv("FLY_APP_NAME") != "" {
		c.Ingest.PatchesDir = "/tmp/patches"
	}

	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_CHANNEL"); v != "" {
		c.Slack.Channel = v
	}
	if v := os.Getenv("SLACK_USERNAME"); v != "" {
		c.Slack.Username = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Slack.WebhookURL = v
	}
	if v := os.Getenv("SLACK_SIGNING_SECRET"); v != "" {
		c.Slack.SigningSecret = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port must not be empty")
	}
	if c.Ingest.DownstreamURL == "" {
		return fmt.Errorf("ingest.downstream_url must not be empty")
	}
	for _, r := range c.RateLimit.Rules {
		if r.Name == "" || r.MaxRequests <= 0 || r.Window <= 0 {
			return fmt.Errorf("invalid rate limit rule %q", r.Name)
		}
	}
	for _, r := range c.Cleanup.Rules {
		switch r.Action {
		case "terminate", "kill", "restart":
		default:
			return fmt.Errorf("invalid cleanup action %q for pattern %q", r.Action, r.NamePattern)
		}
	}
	return nil
}
