package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEKEEPER_"

// LoadConfig loads configuration from a YAML file, applies defaults and
// validates the result. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and then
// applies GATEKEEPER_SECTION_FIELD environment overrides. An empty path
// starts from the defaults.
//
// The loading sequence is:
//  1. Defaults
//  2. YAML file
//  3. Environment variable overrides
//  4. Validation
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg, os.Getenv)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies overrides read through getenv. Values that do
// not parse are ignored.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := getenv(EnvPrefix + name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(name string, dst *int) {
		if v := getenv(EnvPrefix + name); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			}
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := getenv(EnvPrefix + name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	// Rules
	str("RULES_PATH", &cfg.Rules.Path)
	boolean("RULES_WATCH", &cfg.Rules.Watch)
	duration("RULES_WATCH_DEBOUNCE", &cfg.Rules.WatchDebounce)
	integer("RULES_PARALLELISM", &cfg.Rules.Parallelism)
	boolean("RULES_AUTO_EXECUTE", &cfg.Rules.AutoExecute)
	boolean("RULES_GIT_ENABLED", &cfg.Rules.Git.Enabled)
	str("RULES_GIT_URL", &cfg.Rules.Git.URL)
	str("RULES_GIT_BRANCH", &cfg.Rules.Git.Branch)
	str("RULES_GIT_TOKEN", &cfg.Rules.Git.Token)
	duration("RULES_GIT_POLL_INTERVAL", &cfg.Rules.Git.PollInterval)

	// Workflow
	str("WORKFLOW_DEFINITIONS_PATH", &cfg.Workflow.DefinitionsPath)
	str("WORKFLOW_REVISION_TARGET", &cfg.Workflow.Revision.Target)
	integer("WORKFLOW_REVISION_STEP", &cfg.Workflow.Revision.Step)
	integer("WORKFLOW_LOCK_STRIPES", &cfg.Workflow.LockStripes)

	// Storage
	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	duration("STORAGE_SQLITE_BUSY_TIMEOUT", &cfg.Storage.SQLite.BusyTimeout)

	// Audit
	str("AUDIT_BACKEND", &cfg.Audit.Backend)
	str("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	duration("AUDIT_SQLITE_BUSY_TIMEOUT", &cfg.Audit.SQLite.BusyTimeout)

	// Escalation
	boolean("ESCALATION_ENABLED", &cfg.Escalation.Enabled)
	str("ESCALATION_SCHEDULE", &cfg.Escalation.Schedule)
	str("ESCALATION_ACTOR", &cfg.Escalation.Actor)

	// Secrets
	str("SECRETS_DIR", &cfg.Secrets.Dir)

	// Telemetry
	str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	boolean("TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	str("TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
}
