// Package config provides configuration types and loading for siteagent.
package config

import "time"

// Confirmation modes for write tools.
const (
	ConfirmModeConfirm = "confirm"
	ConfirmModeAuto    = "auto"
)

// Config is the root configuration struct.
// Top-level groups: Paths, Provider, Agent, Tools, Cache, Security, Audit,
// Jobs, Proposals, Notify, Gateway, Scheduler, Agents.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Provider  ProviderConfig  `json:"provider"`
	Agent     AgentConfig     `json:"agent"`
	Tools     ToolsConfig     `json:"tools"`
	Cache     CacheConfig     `json:"cache"`
	Security  SecurityConfig  `json:"security"`
	Audit     AuditConfig     `json:"audit"`
	Jobs      JobsConfig      `json:"jobs"`
	Proposals ProposalsConfig `json:"proposals"`
	Notify    NotifyConfig    `json:"notify"`
	Gateway   GatewayConfig   `json:"gateway"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Agents    []AgentEntry    `json:"agents,omitempty"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DataDir   string `json:"dataDir" envconfig:"DATA_DIR"`
	DBPath    string `json:"dbPath" envconfig:"DB_PATH"`
	SiteRoot  string `json:"siteRoot" envconfig:"SITE_ROOT"`
	BackupDir string `json:"backupDir" envconfig:"BACKUP_DIR"`
}

// ---------------------------------------------------------------------------
// Provider – LLM vendor selection and credentials
// ---------------------------------------------------------------------------

// ProviderConfig selects the active LLM vendor.
type ProviderConfig struct {
	Name               string             `json:"name" envconfig:"NAME"`
	APIKey             string             `json:"apiKey" envconfig:"API_KEY"`
	APIBase            string             `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model              string             `json:"model" envconfig:"MODEL"`
	MaxTokens          int                `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature        float64            `json:"temperature" envconfig:"TEMPERATURE"`
	Timeout            time.Duration      `json:"timeout" envconfig:"TIMEOUT"`
	InsecureSkipVerify bool               `json:"insecureSkipVerify" envconfig:"INSECURE_SKIP_VERIFY"`
	Pricing            map[string]Pricing `json:"pricing,omitempty" ignored:"true"`
}

// Pricing is the per-1k-token USD price for one provider.
type Pricing struct {
	PromptPer1K     float64 `json:"promptPer1k"`
	CompletionPer1K float64 `json:"completionPer1k"`
}

// ---------------------------------------------------------------------------
// Agent – orchestration behaviour
// ---------------------------------------------------------------------------

// AgentConfig controls the tool loop and write confirmation.
type AgentConfig struct {
	ConfirmationMode  string   `json:"confirmationMode" envconfig:"CONFIRMATION_MODE"`
	MaxToolIterations int      `json:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
	DisabledTools     []string `json:"disabledTools" envconfig:"DISABLED_TOOLS"`
	// AllowPublish lets record tools keep a requested "publish" status.
	AllowPublish bool `json:"allowPublish" envconfig:"ALLOW_PUBLISH"`
}

// ToolsConfig restricts path-accepting tools.
type ToolsConfig struct {
	AllowedSubpaths []string          `json:"allowedSubpaths" envconfig:"ALLOWED_SUBPATHS"`
	PathScopes      map[string]string `json:"pathScopes"` // subpath -> "read" | "write"
	MaxFileBytes    int64             `json:"maxFileBytes" envconfig:"MAX_FILE_BYTES"`
}

// ---------------------------------------------------------------------------
// Cache, Security, Audit, Jobs, Proposals
// ---------------------------------------------------------------------------

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled          bool          `json:"enabled" envconfig:"ENABLED"`
	TTL              time.Duration `json:"ttl" envconfig:"TTL"`
	MinMessageLength int           `json:"minMessageLength" envconfig:"MIN_MESSAGE_LENGTH"`
}

// SecurityConfig controls the chat security filter.
type SecurityConfig struct {
	Enabled                bool          `json:"enabled" envconfig:"ENABLED"`
	RateLimitAuthenticated int           `json:"rateLimitAuthenticated" envconfig:"RATE_LIMIT_AUTHENTICATED"`
	RateLimitAnonymous     int           `json:"rateLimitAnonymous" envconfig:"RATE_LIMIT_ANONYMOUS"`
	RateWindow             time.Duration `json:"rateWindow" envconfig:"RATE_WINDOW"`
	LogRetentionDays       int           `json:"logRetentionDays" envconfig:"LOG_RETENTION_DAYS"`
}

// AuditConfig controls the audit ledger and its optional Kafka mirror.
type AuditConfig struct {
	RetentionDays int    `json:"retentionDays" envconfig:"RETENTION_DAYS"`
	KafkaBrokers  string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic    string `json:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
}

// JobsConfig controls background job retention.
type JobsConfig struct {
	RetentionHours int           `json:"retentionHours" envconfig:"RETENTION_HOURS"`
	StaleAfter     time.Duration `json:"staleAfter" envconfig:"STALE_AFTER"`
}

// ProposalsConfig controls change proposals.
type ProposalsConfig struct {
	TTL time.Duration `json:"ttl" envconfig:"TTL"`
}

// NotifyConfig configures Slack notifications for pending proposals.
type NotifyConfig struct {
	SlackToken   string `json:"slackToken" envconfig:"SLACK_TOKEN"`
	SlackChannel string `json:"slackChannel" envconfig:"SLACK_CHANNEL"`
	SlackAPIURL  string `json:"slackApiUrl,omitempty" envconfig:"SLACK_API_URL"`
}

// GatewayConfig contains HTTP server settings.
type GatewayConfig struct {
	Host      string `json:"host" envconfig:"HOST"`
	Port      int    `json:"port" envconfig:"PORT"`
	AuthToken string `json:"authToken" envconfig:"AUTH_TOKEN"`
	// CORSOrigins enables browser access from these origins. Empty disables CORS.
	CORSOrigins []string `json:"corsOrigins,omitempty" envconfig:"CORS_ORIGINS"`
}

// SchedulerConfig contains settings for the job worker.
type SchedulerConfig struct {
	Enabled       bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval  time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	MaxConcurrent int           `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
	SweepInterval time.Duration `json:"sweepInterval" envconfig:"SWEEP_INTERVAL"`
	LockPath      string        `json:"lockPath" envconfig:"LOCK_PATH"`
}

// AgentEntry describes one configured agent.
type AgentEntry struct {
	ID           string      `json:"id"`
	Name         string      `json:"name,omitempty"`
	SystemPrompt string      `json:"systemPrompt,omitempty"`
	Tools        []string    `json:"tools,omitempty"` // empty = all enabled tools
	Tasks        []AgentTask `json:"tasks,omitempty"`
}

// AgentTask is a prompt an agent runs on demand or on a cron schedule.
type AgentTask struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	Schedule string `json:"schedule,omitempty"` // 5-field cron
}

// Default values shared by Normalize and DefaultConfig.
const (
	DefaultMaxToolIterations  = 8
	DefaultCacheTTL           = time.Hour
	MinCacheTTL               = 60 * time.Second
	MaxCacheTTL               = 24 * time.Hour
	DefaultAuditRetentionDays = 90
	DefaultSecurityRetention  = 30
	DefaultJobRetentionHours  = 48
	DefaultJobStaleAfter      = 30 * time.Minute
	DefaultProposalTTL        = 7 * 24 * time.Hour
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir:  "~/.siteagent",
			SiteRoot: "~/site",
		},
		Provider: ProviderConfig{
			Name:        "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		Agent: AgentConfig{
			ConfirmationMode:  ConfirmModeConfirm,
			MaxToolIterations: DefaultMaxToolIterations,
		},
		Tools: ToolsConfig{
			AllowedSubpaths: []string{"plugins", "themes", "uploads"},
			PathScopes: map[string]string{
				"plugins": "read",
				"themes":  "write",
				"uploads": "write",
			},
			MaxFileBytes: 1 << 20,
		},
		Cache: CacheConfig{
			Enabled:          true,
			TTL:              DefaultCacheTTL,
			MinMessageLength: 10,
		},
		Security: SecurityConfig{
			Enabled:                true,
			RateLimitAuthenticated: 30,
			RateLimitAnonymous:     10,
			RateWindow:             time.Minute,
			LogRetentionDays:       DefaultSecurityRetention,
		},
		Audit: AuditConfig{
			RetentionDays: DefaultAuditRetentionDays,
			KafkaTopic:    "siteagent.audit",
		},
		Jobs: JobsConfig{
			RetentionHours: DefaultJobRetentionHours,
			StaleAfter:     DefaultJobStaleAfter,
		},
		Proposals: ProposalsConfig{
			TTL: DefaultProposalTTL,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18890,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			TickInterval:  5 * time.Second,
			MaxConcurrent: 2,
			SweepInterval: time.Hour,
		},
	}
}

// Normalize fills zero values with defaults and clamps out-of-range settings.
func (c *Config) Normalize() {
	if c.Agent.ConfirmationMode != ConfirmModeAuto {
		c.Agent.ConfirmationMode = ConfirmModeConfirm
	}
	if c.Agent.MaxToolIterations <= 0 {
		c.Agent.MaxToolIterations = DefaultMaxToolIterations
	}
	c.Cache.TTL = ClampCacheTTL(c.Cache.TTL)
	if c.Security.RateWindow <= 0 {
		c.Security.RateWindow = time.Minute
	}
	if c.Security.RateLimitAuthenticated <= 0 {
		c.Security.RateLimitAuthenticated = 30
	}
	if c.Security.RateLimitAnonymous <= 0 {
		c.Security.RateLimitAnonymous = 10
	}
	if c.Security.LogRetentionDays <= 0 {
		c.Security.LogRetentionDays = DefaultSecurityRetention
	}
	if c.Audit.RetentionDays <= 0 {
		c.Audit.RetentionDays = DefaultAuditRetentionDays
	}
	if c.Jobs.RetentionHours <= 0 {
		c.Jobs.RetentionHours = DefaultJobRetentionHours
	}
	if c.Jobs.StaleAfter <= 0 {
		c.Jobs.StaleAfter = DefaultJobStaleAfter
	}
	if c.Proposals.TTL <= 0 {
		c.Proposals.TTL = DefaultProposalTTL
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 60 * time.Second
	}
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = 5 * time.Second
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		c.Scheduler.MaxConcurrent = 1
	}
	if c.Scheduler.SweepInterval <= 0 {
		c.Scheduler.SweepInterval = time.Hour
	}
}

// ClampCacheTTL bounds a cache TTL to [MinCacheTTL, MaxCacheTTL].
// Zero means "use the default".
func ClampCacheTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return DefaultCacheTTL
	case ttl < MinCacheTTL:
		return MinCacheTTL
	case ttl > MaxCacheTTL:
		return MaxCacheTTL
	}
	return ttl
}

// FindAgent returns the configured agent with the given id.
func (c *Config) FindAgent(id string) (AgentEntry, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentEntry{}, false
}
