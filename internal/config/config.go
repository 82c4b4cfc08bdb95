// ABOUTME: Configuration loading and parsing for the agentloop runtime
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete agentloop configuration
type Config struct {
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" toml:"orchestrator"`
	Store        StoreConfig        `yaml:"store" toml:"store"`
	Bus          BusConfig          `yaml:"bus" toml:"bus"`
	Dedupe       DedupeConfig       `yaml:"dedupe" toml:"dedupe"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	// Color enables ANSI level coloring for the text format.
	Color bool `yaml:"color" toml:"color"`
}

// OrchestratorConfig holds tool loop limits
type OrchestratorConfig struct {
	MaxIterations   int           `yaml:"max_iterations" toml:"max_iterations"`
	ApprovalTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ApprovalTimeoutRaw string `yaml:"approval_timeout" toml:"approval_timeout"`
}

// StoreConfig holds conversation store configuration
type StoreConfig struct {
	WatchBuffer int `yaml:"watch_buffer" toml:"watch_buffer"`
}

// BusConfig holds event bus configuration
type BusConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer" toml:"subscriber_buffer"`
}

// DedupeConfig holds approval response deduplication settings
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"text", "json"}
	envVarRe     = regexp.MustCompile(`\$\{([^}]+)\}`)
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Orchestrator: OrchestratorConfig{
			MaxIterations:      5,
			ApprovalTimeout:    5 * time.Minute,
			ApprovalTimeoutRaw: "5m",
		},
		Store:  StoreConfig{WatchBuffer: 16},
		Bus:    BusConfig{SubscriberBuffer: 100},
		Dedupe: DedupeConfig{TTL: 10 * time.Minute, TTLRaw: "10m", MaxSize: 10000},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML. Values
// missing from the file keep their Default. Environment variables in the
// format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRe.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all configuration fields are within range.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %s, got %q", strings.Join(validLevels, ", "), c.Logging.Level)
	}
	if !slices.Contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of %s, got %q", strings.Join(validFormats, ", "), c.Logging.Format)
	}

	if c.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("orchestrator.max_iterations must be at least 1, got %d", c.Orchestrator.MaxIterations)
	}
	if c.Orchestrator.ApprovalTimeout < 0 {
		return fmt.Errorf("orchestrator.approval_timeout cannot be negative")
	}

	if c.Store.WatchBuffer < 0 {
		return fmt.Errorf("store.watch_buffer cannot be negative")
	}
	if c.Bus.SubscriberBuffer < 0 {
		return fmt.Errorf("bus.subscriber_buffer cannot be negative")
	}

	if c.Dedupe.TTL <= 0 {
		return fmt.Errorf("dedupe.ttl must be positive")
	}
	if c.Dedupe.MaxSize < 1 {
		return fmt.Errorf("dedupe.max_size must be at least 1, got %d", c.Dedupe.MaxSize)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Orchestrator.ApprovalTimeoutRaw != "" {
		cfg.Orchestrator.ApprovalTimeout, err = time.ParseDuration(cfg.Orchestrator.ApprovalTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing approval_timeout %q: %w", cfg.Orchestrator.ApprovalTimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
