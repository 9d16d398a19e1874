// Package config loads and validates application configuration from
// YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"plugin-guard/internal/sandbox"
)

// Config holds all application configuration.
type Config struct {
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Isolation IsolationConfig `yaml:"isolation"`
	Validator ValidatorConfig `yaml:"validator"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type SandboxConfig struct {
	DefaultLimits      sandbox.Limits      `yaml:"default_limits"`
	DefaultPermissions sandbox.Permissions `yaml:"default_permissions"`
}

type IsolationConfig struct {
	Level              string        `yaml:"level"` // minimal, standard, strict, maximum
	Monitoring         bool          `yaml:"monitoring"`
	SampleInterval     time.Duration `yaml:"sample_interval"`
	AutoRecovery       bool          `yaml:"auto_recovery"`
	ViolationThreshold uint          `yaml:"violation_threshold"`
}

type ValidatorConfig struct {
	TrustStorePath string `yaml:"trust_store_path"`
	QuarantineDir  string `yaml:"quarantine_dir"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

// Load reads configuration from a YAML file, falling back to defaults
// for anything the file leaves out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			DefaultLimits: sandbox.DefaultLimits(),
		},
		Isolation: IsolationConfig{
			Level:              "standard",
			Monitoring:         true,
			SampleInterval:     time.Second,
			AutoRecovery:       true,
			ViolationThreshold: 3,
		},
		Validator: ValidatorConfig{
			TrustStorePath: "trust_store.yaml",
			QuarantineDir:  "quarantine",
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			AuditBuffer:     256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "127.0.0.1:9090",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if _, err := sandbox.ParseIsolationLevel(c.Isolation.Level); err != nil {
		return err
	}
	if err := c.Sandbox.DefaultLimits.WithDefaults().Validate(); err != nil {
		return err
	}
	if c.Isolation.Monitoring && c.Isolation.SampleInterval <= 0 {
		return fmt.Errorf("isolation.sample_interval must be > 0 when monitoring is enabled")
	}
	if c.Isolation.ViolationThreshold < 1 {
		return fmt.Errorf("isolation.violation_threshold must be >= 1")
	}
	if c.Validator.QuarantineDir == "" {
		return fmt.Errorf("validator.quarantine_dir must not be empty")
	}
	if c.Database.AuditBuffer < 1 {
		return fmt.Errorf("database.audit_buffer must be >= 1")
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// SandboxIsolation converts the YAML view into the sandbox runtime form.
func (c *Config) SandboxIsolation() (sandbox.IsolationConfig, error) {
	level, err := sandbox.ParseIsolationLevel(c.Isolation.Level)
	if err != nil {
		return sandbox.IsolationConfig{}, err
	}
	return sandbox.IsolationConfig{
		Level:                    level,
		EnableRealTimeMonitoring: c.Isolation.Monitoring,
		SampleInterval:           c.Isolation.SampleInterval,
		AutoRecoveryEnabled:      c.Isolation.AutoRecovery,
		ViolationThreshold:       c.Isolation.ViolationThreshold,
	}, nil
}
