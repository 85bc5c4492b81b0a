package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every ambient knob for the coordinator, rate limiter, and
// memory substrate. It follows the three-layer priority the teacher uses:
//  1. Defaults (lowest)
//  2. Environment variables (middle)
//  3. Functional options (highest)
//
// Example:
//
//	cfg, err := core.NewConfig(
//	    core.WithMailboxRoot("/var/run/gomind-refine"),
//	    core.WithMaxConcurrent(8),
//	)
type Config struct {
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Coordinator CoordinatorConfig `json:"coordinator" yaml:"coordinator"`
	RateLimit   RateLimitConfig   `json:"rateLimit" yaml:"rateLimit"`
	Memory      MemoryConfig      `json:"memory" yaml:"memory"`

	logger Logger `json:"-" yaml:"-"`
}

// LoggingConfig controls the ambient ProductionLogger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"REFINE_LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"REFINE_LOG_FORMAT" default:"text"`
}

// CoordinatorConfig covers every knob spec.md §6 lists for the file-based
// coordinator: polling, quota, health check, heartbeat tiers, timeout
// escalation, mailbox layout, and sub-request depth.
type CoordinatorConfig struct {
	MailboxRoot string `json:"mailboxRoot" yaml:"mailboxRoot" env:"REFINE_MAILBOX_ROOT" default:"./mailbox"`

	PollingInterval    time.Duration `json:"pollingInterval" yaml:"pollingInterval" env:"REFINE_POLL_INTERVAL" default:"500ms"`
	MaxConcurrent      int           `json:"maxConcurrent" yaml:"maxConcurrent" env:"REFINE_MAX_CONCURRENT" default:"5"`
	MaxDepth           int           `json:"maxDepth" yaml:"maxDepth" env:"REFINE_MAX_DEPTH" default:"2"`
	HealthCheckTimeout time.Duration `json:"healthCheckTimeout" yaml:"healthCheckTimeout" env:"REFINE_HEALTHCHECK_TIMEOUT" default:"8s"`

	HeartbeatInterval        time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval" env:"REFINE_HEARTBEAT_INTERVAL" default:"15s"`
	SilenceWarningThreshold  time.Duration `json:"silenceWarningThreshold" yaml:"silenceWarningThreshold" env:"REFINE_SILENCE_WARNING" default:"45s"`
	HeartbeatKillThreshold   time.Duration `json:"heartbeatKillThreshold" yaml:"heartbeatKillThreshold" env:"REFINE_HEARTBEAT_KILL" default:"90s"`
	KillGrace                time.Duration `json:"killGrace" yaml:"killGrace" env:"REFINE_KILL_GRACE" default:"5s"`

	InitialTimeoutSmall  time.Duration `json:"initialTimeoutSmall" yaml:"initialTimeoutSmall" env:"REFINE_TIMEOUT_SMALL" default:"30s"`
	InitialTimeoutMedium time.Duration `json:"initialTimeoutMedium" yaml:"initialTimeoutMedium" env:"REFINE_TIMEOUT_MEDIUM" default:"120s"`
	InitialTimeoutLarge  time.Duration `json:"initialTimeoutLarge" yaml:"initialTimeoutLarge" env:"REFINE_TIMEOUT_LARGE" default:"180s"`
	TimeoutExtension     time.Duration `json:"timeoutExtension" yaml:"timeoutExtension" env:"REFINE_TIMEOUT_EXTENSION" default:"60s"`
	TimeoutCap           time.Duration `json:"timeoutCap" yaml:"timeoutCap" env:"REFINE_TIMEOUT_CAP" default:"240s"`

	ContextInlineThreshold int           `json:"contextInlineThreshold" yaml:"contextInlineThreshold" env:"REFINE_CONTEXT_INLINE_THRESHOLD" default:"500"`
	LogRetention           time.Duration `json:"logRetention" yaml:"logRetention" env:"REFINE_LOG_RETENTION" default:"168h"`
}

// RateLimitConfig configures the default token bucket shared by all
// backend identifiers absent a per-backend override.
type RateLimitConfig struct {
	DefaultCapacity   float64 `json:"defaultCapacity" yaml:"defaultCapacity" env:"REFINE_RATELIMIT_CAPACITY" default:"60"`
	DefaultRefillRate float64 `json:"defaultRefillRate" yaml:"defaultRefillRate" env:"REFINE_RATELIMIT_REFILL_PER_SEC" default:"1"`
	PersistentLedgerRedisURL string `json:"persistentLedgerRedisUrl" yaml:"persistentLedgerRedisUrl" env:"REFINE_RATELIMIT_REDIS_URL"`
}

// MemoryConfig configures the hot/warm/cold tiers and the decay/consolidation
// schedule.
type MemoryConfig struct {
	HotTTL              time.Duration `json:"hotTtl" yaml:"hotTtl" env:"REFINE_MEMORY_HOT_TTL" default:"10m"`
	HotRedisURL         string        `json:"hotRedisUrl" yaml:"hotRedisUrl" env:"REFINE_MEMORY_HOT_REDIS_URL"`
	WarmRedisURL        string        `json:"warmRedisUrl" yaml:"warmRedisUrl" env:"REFINE_MEMORY_WARM_REDIS_URL,REDIS_URL"`
	WarmTTL             time.Duration `json:"warmTtl" yaml:"warmTtl" env:"REFINE_MEMORY_WARM_TTL" default:"720h"`
	ColdRoot            string        `json:"coldRoot" yaml:"coldRoot" env:"REFINE_MEMORY_COLD_ROOT" default:"./memory-archive"`
	MaintenanceInterval time.Duration `json:"maintenanceInterval" yaml:"maintenanceInterval" env:"REFINE_MEMORY_MAINTENANCE_INTERVAL" default:"5m"`

	ImportanceWeightRecency  float64 `json:"importanceWeightRecency" yaml:"importanceWeightRecency" default:"0.25"`
	ImportanceWeightFreq     float64 `json:"importanceWeightFreq" yaml:"importanceWeightFreq" default:"0.20"`
	ImportanceWeightSalience float64 `json:"importanceWeightSalience" yaml:"importanceWeightSalience" default:"0.35"`
	ImportanceWeightRelevance float64 `json:"importanceWeightRelevance" yaml:"importanceWeightRelevance" default:"0.20"`

	DecayLambda            float64 `json:"decayLambda" yaml:"decayLambda" env:"REFINE_MEMORY_DECAY_LAMBDA" default:"0.05"`
	ArchiveThreshold        float64 `json:"archiveThreshold" yaml:"archiveThreshold" default:"0.30"`
	CompressThreshold       float64 `json:"compressThreshold" yaml:"compressThreshold" default:"0.15"`
	DestroyThreshold        float64 `json:"destroyThreshold" yaml:"destroyThreshold" default:"0.05"`
	DestroyGrace            time.Duration `json:"destroyGrace" yaml:"destroyGrace" env:"REFINE_MEMORY_DESTROY_GRACE" default:"24h"`
	NeverForgetImportance   float64 `json:"neverForgetImportance" yaml:"neverForgetImportance" default:"0.90"`
	NeverForgetAccessCount  int     `json:"neverForgetAccessCount" yaml:"neverForgetAccessCount" default:"50"`
	ConsolidationThreshold  float64 `json:"consolidationThreshold" yaml:"consolidationThreshold" default:"0.70"`
}

// Option is a functional option applied after defaults and environment
// variables, taking highest priority.
type Option func(*Config) error

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Coordinator: CoordinatorConfig{
			MailboxRoot:              "./mailbox",
			PollingInterval:          500 * time.Millisecond,
			MaxConcurrent:            5,
			MaxDepth:                 2,
			HealthCheckTimeout:       8 * time.Second,
			HeartbeatInterval:        15 * time.Second,
			SilenceWarningThreshold:  45 * time.Second,
			HeartbeatKillThreshold:   90 * time.Second,
			KillGrace:                5 * time.Second,
			InitialTimeoutSmall:      30 * time.Second,
			InitialTimeoutMedium:     120 * time.Second,
			InitialTimeoutLarge:      180 * time.Second,
			TimeoutExtension:         60 * time.Second,
			TimeoutCap:               240 * time.Second,
			ContextInlineThreshold:   500,
			LogRetention:             7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			DefaultCapacity:   60,
			DefaultRefillRate: 1,
		},
		Memory: MemoryConfig{
			HotTTL:                    10 * time.Minute,
			WarmTTL:                   30 * 24 * time.Hour,
			ColdRoot:                  "./memory-archive",
			MaintenanceInterval:       5 * time.Minute,
			ImportanceWeightRecency:   0.25,
			ImportanceWeightFreq:      0.20,
			ImportanceWeightSalience:  0.35,
			ImportanceWeightRelevance: 0.20,
			DecayLambda:               0.05,
			ArchiveThreshold:          0.30,
			CompressThreshold:         0.15,
			DestroyThreshold:          0.05,
			DestroyGrace:              24 * time.Hour,
			NeverForgetImportance:     0.90,
			NeverForgetAccessCount:    50,
			ConsolidationThreshold:    0.70,
		},
	}
}

// LoadFromEnv overlays environment variables onto the config. It reads
// REFINE_LOG_LEVEL, REFINE_LOG_FORMAT, REFINE_MAILBOX_ROOT,
// REFINE_POLL_INTERVAL, REFINE_MAX_CONCURRENT, REFINE_MAX_DEPTH, the memory
// tier endpoints and REFINE_RATELIMIT_REDIS_URL; the env tags on the other
// fields are not read here.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("REFINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REFINE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("REFINE_MAILBOX_ROOT"); v != "" {
		c.Coordinator.MailboxRoot = v
	}
	if v := os.Getenv("REFINE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Coordinator.PollingInterval = d
		}
	}
	if v := os.Getenv("REFINE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Coordinator.MaxConcurrent = n
		}
	}
	if v := os.Getenv("REFINE_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Coordinator.MaxDepth = n
		}
	}
	if v := firstNonEmpty(os.Getenv("REFINE_MEMORY_WARM_REDIS_URL"), os.Getenv("REDIS_URL")); v != "" {
		c.Memory.WarmRedisURL = v
	}
	if v := os.Getenv("REFINE_MEMORY_HOT_REDIS_URL"); v != "" {
		c.Memory.HotRedisURL = v
	}
	if v := os.Getenv("REFINE_MEMORY_COLD_ROOT"); v != "" {
		c.Memory.ColdRoot = v
	}
	if v := os.Getenv("REFINE_RATELIMIT_REDIS_URL"); v != "" {
		c.RateLimit.PersistentLedgerRedisURL = v
	}
	return c.Validate()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Validate reports whether the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Coordinator.MaxConcurrent < 1 {
		return NewFrameworkError("Config.Validate", KindInvalidInput,
			fmt.Errorf("maxConcurrent must be >= 1, got %d: %w", c.Coordinator.MaxConcurrent, ErrInvalidConfiguration))
	}
	if c.Coordinator.MaxDepth < 0 {
		return NewFrameworkError("Config.Validate", KindInvalidInput,
			fmt.Errorf("maxDepth must be >= 0, got %d: %w", c.Coordinator.MaxDepth, ErrInvalidConfiguration))
	}
	if c.Coordinator.MailboxRoot == "" {
		return NewFrameworkError("Config.Validate", KindInvalidInput,
			fmt.Errorf("mailboxRoot is required: %w", ErrMissingConfiguration))
	}
	sum := c.Memory.ImportanceWeightRecency + c.Memory.ImportanceWeightFreq +
		c.Memory.ImportanceWeightSalience + c.Memory.ImportanceWeightRelevance
	if sum < 0.99 || sum > 1.01 {
		return NewFrameworkError("Config.Validate", KindInvalidInput,
			fmt.Errorf("importance weights must sum to 1, got %.3f: %w", sum, ErrInvalidConfiguration))
	}
	return nil
}

// LoadFromFile loads YAML configuration, matching the teacher's
// orchestration/workflow packages' use of gopkg.in/yaml.v3.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewFrameworkError("Config.LoadFromFile", KindInvalidInput,
			fmt.Errorf("parse yaml config: %w: %v", ErrInvalidConfiguration, err))
	}
	return nil
}

// NewConfig builds a Config from defaults, environment variables, then
// functional options, validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if cfg.logger == nil {
		cfg.logger = NewProductionLogger("core/config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// WithMailboxRoot overrides the mailbox directory.
func WithMailboxRoot(path string) Option {
	return func(c *Config) error {
		c.Coordinator.MailboxRoot = path
		return nil
	}
}

// WithMaxConcurrent overrides the coordinator's concurrency quota.
func WithMaxConcurrent(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return NewFrameworkError("WithMaxConcurrent", KindInvalidInput,
				fmt.Errorf("maxConcurrent must be >= 1, got %d: %w", n, ErrInvalidConfiguration))
		}
		c.Coordinator.MaxConcurrent = n
		return nil
	}
}

// WithMaxDepth overrides the sub-request ancestry cap.
func WithMaxDepth(n int) Option {
	return func(c *Config) error {
		c.Coordinator.MaxDepth = n
		return nil
	}
}

// WithWarmRedisURL configures the Redis backend for the memory substrate's
// warm tier (and, absent an override, the rate limiter's persistent ledger).
func WithWarmRedisURL(url string) Option {
	return func(c *Config) error {
		c.Memory.WarmRedisURL = url
		return nil
	}
}

// WithColdRoot overrides the cold-tier archive directory.
func WithColdRoot(path string) Option {
	return func(c *Config) error {
		c.Memory.ColdRoot = path
		return nil
	}
}

// WithLogLevel overrides the minimum log level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = strings.ToUpper(level)
		return nil
	}
}

// WithLogger injects a logger used for configuration-loading diagnostics.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithConfigFile loads a YAML config file when this option is applied;
// options listed after it can still override file settings.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}
