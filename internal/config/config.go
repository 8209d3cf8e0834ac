package config

import (
	"time"

	"github.com/reelsync/reelsync/internal/core/ratelimit"
)

// Config represents the complete application configuration
// following the three-layer pattern:
// Layer 1: packaged defaults (config/reelsync/v0/reelsync-defaults.yaml)
// Layer 2: user overrides (~/.config/reelsync/config.yaml)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Backend BackendConfig `mapstructure:"backend"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`

	// RateLimits overrides the built-in per-endpoint-class budgets.
	RateLimits map[string]ratelimit.RuleConfig `mapstructure:"rate_limits"`

	// RateLimitRulesFile optionally points at a YAML file of budgets that is
	// merged over RateLimits.
	RateLimitRulesFile string `mapstructure:"rate_limit_rules_file"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// CacheConfig contains read-cache TTL configuration.
type CacheConfig struct {
	// TTL is how long a cached entry stays valid. Reads past the TTL treat
	// the entry as absent and evict it.
	TTL time.Duration `mapstructure:"ttl"`
}

// SyncConfig contains offline queue and replay configuration.
type SyncConfig struct {
	// MaxRetries is the replay ceiling per operation; an operation failing
	// this many passes is dropped and reported.
	MaxRetries int `mapstructure:"max_retries"`

	// ReplayRate paces queue replay in operations per second. Zero disables
	// pacing.
	ReplayRate float64 `mapstructure:"replay_rate"`

	// ReplayBurst is the pacing burst size.
	ReplayBurst int `mapstructure:"replay_burst"`

	// ProbeInterval is how often the connectivity prober pings the backend
	// health endpoint. Zero disables the prober.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// AutoSync triggers a replay pass automatically on the offline-to-online
	// transition.
	AutoSync bool `mapstructure:"auto_sync"`
}

// BackendConfig describes the tracker backend the client talks to.
type BackendConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	HealthPath string        `mapstructure:"health_path"`
	SearchPath string        `mapstructure:"search_path"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// MaxWait caps how long a rate-limited call may be suspended before it
	// fails with a too-many-requests error instead.
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI)
// - STRUCTURED: Structured sinks, correlation IDs (server)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EffectiveRateLimits resolves the configured budget overrides into limiter
// rules, with the rules file (when set) taking precedence over inline config.
func (c *Config) EffectiveRateLimits() (map[string]ratelimit.Rule, error) {
	rules := ratelimit.RulesFromConfig(c.RateLimits)

	if c.RateLimitRulesFile != "" {
		fileRules, err := ratelimit.LoadRulesFile(c.RateLimitRulesFile)
		if err != nil {
			return nil, err
		}
		if rules == nil {
			rules = make(map[string]ratelimit.Rule, len(fileRules))
		}
		for key, rule := range fileRules {
			rules[key] = rule
		}
	}

	return rules, nil
}
