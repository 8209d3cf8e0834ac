// Package config provides centralized configuration management for ReelSync.
// It implements the three-layer config pattern using gofulmen/config:
// Layer 1: packaged defaults (config/reelsync/v0/reelsync-defaults.yaml)
// Layer 2: user overrides (discovered via app identity)
// Layer 3: environment variables and runtime overrides
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/pathfinder"
	"github.com/fulmenhq/gofulmen/schema"
	"github.com/go-viper/mapstructure/v2"

	"github.com/reelsync/reelsync/internal/appid"
)

// Built-in fallbacks applied when a layer leaves a field empty.
const (
	defaultCacheTTL      = 24 * time.Hour
	defaultMaxRetries    = 3
	defaultMaxWait       = 15 * time.Second
	defaultProbeInterval = 30 * time.Second
)

var (
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *identity
)

type identity struct {
	ConfigName string
	BinaryName string
	EnvPrefix  string
}

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// findProjectRoot walks up from the current working directory to locate the
// repository root (go.mod or .git marker) so packaged defaults resolve from
// any working directory.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	rootPath, err := pathfinder.FindRepositoryRoot(cwd, []string{"go.mod", ".git"}, pathfinder.WithMaxDepth(10))
	if err != nil {
		return "", fmt.Errorf("project root not found: %w", err)
	}

	return rootPath, nil
}

// Load loads configuration using the three-layer pattern. Safe to call
// multiple times (e.g. for config reload).
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		id, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = &identity{
			ConfigName: id.ConfigName,
			BinaryName: id.BinaryName,
			EnvPrefix:  id.EnvPrefix,
		}
	}

	projectRoot, err := findProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	catalog := schema.NewCatalog(filepath.Join(projectRoot, "schemas"))
	opts := gfconfig.LayeredConfigOptions{
		Category:     "reelsync",
		Version:      "v0",
		DefaultsFile: "reelsync-defaults.yaml",
		SchemaID:     "reelsync/v0/config",
		UserPaths:    getUserConfigPaths(),
		Catalog:      catalog,
		DefaultsRoot: filepath.Join(projectRoot, "config"),
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)

	merged, diagnostics, err := gfconfig.LoadLayeredConfig(opts, allOverrides...)
	if err != nil {
		return nil, fmt.Errorf("failed to load layered config: %w", err)
	}

	for _, diag := range diagnostics {
		fmt.Printf("Config validation: %s: %s\n", diag.Pointer, diag.Message)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyFallbacks(cfg)
	setConfig(cfg)

	return cfg, nil
}

// applyFallbacks fills fields no layer set with built-in defaults.
func applyFallbacks(cfg *Config) {
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = defaultStorePath()
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = defaultCacheTTL
	}
	if cfg.Sync.MaxRetries <= 0 {
		cfg.Sync.MaxRetries = defaultMaxRetries
	}
	if cfg.Sync.ProbeInterval <= 0 {
		cfg.Sync.ProbeInterval = defaultProbeInterval
	}
	if cfg.Backend.MaxWait <= 0 {
		cfg.Backend.MaxWait = defaultMaxWait
	}
	if cfg.Backend.HealthPath == "" {
		cfg.Backend.HealthPath = "/health"
	}
	if cfg.Backend.SearchPath == "" {
		cfg.Backend.SearchPath = "/api/search"
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 10 * time.Second
	}
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// getUserConfigPaths returns the list of user config file paths to check
// using gofulmen/config for XDG-compliant path discovery.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}

	appName := appIdentity.ConfigName
	if strings.TrimSpace(appName) == "" {
		appName = appIdentity.BinaryName
	}
	if strings.TrimSpace(appName) == "" {
		appName = "reelsync"
	}

	legacyNames := []string{}
	if appIdentity.BinaryName != "" && appIdentity.BinaryName != appName {
		legacyNames = append(legacyNames, appIdentity.BinaryName)
	}

	return gfconfig.GetAppConfigPaths(appName, legacyNames...)
}

// getEnvSpecs returns environment variable specifications for config mapping.
// Maps {PREFIX}{NAME} environment variables to config paths.
func getEnvSpecs() []EnvVarSpec {
	if appIdentity == nil {
		return []EnvVarSpec{}
	}

	prefix := appIdentity.EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Cache config
		{Name: prefix + "CACHE_TTL", Path: []string{"cache", "ttl"}, Type: EnvString},

		// Sync config
		{Name: prefix + "SYNC_MAX_RETRIES", Path: []string{"sync", "max_retries"}, Type: EnvInt},
		{Name: prefix + "SYNC_REPLAY_RATE", Path: []string{"sync", "replay_rate"}, Type: EnvString},
		{Name: prefix + "SYNC_REPLAY_BURST", Path: []string{"sync", "replay_burst"}, Type: EnvInt},
		{Name: prefix + "SYNC_PROBE_INTERVAL", Path: []string{"sync", "probe_interval"}, Type: EnvString},
		{Name: prefix + "SYNC_AUTO", Path: []string{"sync", "auto_sync"}, Type: EnvBool},

		// Backend config
		{Name: prefix + "BACKEND_BASE_URL", Path: []string{"backend", "base_url"}, Type: EnvString},
		{Name: prefix + "BACKEND_HEALTH_PATH", Path: []string{"backend", "health_path"}, Type: EnvString},
		{Name: prefix + "BACKEND_SEARCH_PATH", Path: []string{"backend", "search_path"}, Type: EnvString},
		{Name: prefix + "BACKEND_TIMEOUT", Path: []string{"backend", "timeout"}, Type: EnvString},
		{Name: prefix + "BACKEND_MAX_WAIT", Path: []string{"backend", "max_wait"}, Type: EnvString},

		// Rate limit config
		{Name: prefix + "RATE_LIMIT_RULES_FILE", Path: []string{"rate_limit_rules_file"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "reelsync" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "reelsync"
	binaryName = "reelsync"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

func defaultStorePath() string {
	return DefaultStorePath()
}
