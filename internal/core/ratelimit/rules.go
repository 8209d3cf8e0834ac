package ratelimit

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleConfig is the serialized form of a Rule as it appears in config files.
type RuleConfig struct {
	Limit  int           `mapstructure:"limit" yaml:"limit"`
	Window time.Duration `mapstructure:"window" yaml:"window"`
}

// RulesFromConfig converts configured overrides into limiter rules, dropping
// entries with non-positive limits or windows.
func RulesFromConfig(overrides map[string]RuleConfig) map[string]Rule {
	if len(overrides) == 0 {
		return nil
	}

	rules := make(map[string]Rule, len(overrides))
	for key, cfg := range overrides {
		key = strings.TrimSpace(key)
		if key == "" || cfg.Limit <= 0 || cfg.Window <= 0 {
			continue
		}
		rules[key] = Rule{Limit: cfg.Limit, Window: cfg.Window}
	}
	return rules
}

// LoadRulesFile reads per-endpoint rules from a YAML file of the form:
//
//	search:
//	  limit: 30
//	  window: 1m
func LoadRulesFile(path string) (map[string]Rule, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("rules file path is required")
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied configuration
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	parsed := map[string]RuleConfig{}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	rules := RulesFromConfig(parsed)
	if len(rules) == 0 {
		return nil, fmt.Errorf("rules file %s contains no usable rules", path)
	}
	return rules, nil
}
