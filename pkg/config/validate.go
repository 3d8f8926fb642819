package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "rules.path").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError holds every validation failure found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate checks the whole configuration and returns a ValidationError
// listing every problem, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateWorkflow(&cfg.Workflow)...)
	errs = append(errs, validateBackend("storage", cfg.Storage.Backend, &cfg.Storage.SQLite)...)
	errs = append(errs, validateBackend("audit", cfg.Audit.Backend, &cfg.Audit.SQLite)...)
	errs = append(errs, validateEscalation(&cfg.Escalation)...)
	errs = append(errs, validateDirectory(&cfg.Directory)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError
	if strings.TrimSpace(cfg.Path) == "" {
		errs = append(errs, FieldError{Field: "rules.path", Message: "rules path is required"})
	}
	if cfg.WatchDebounce < 0 {
		errs = append(errs, FieldError{Field: "rules.watch_debounce", Message: "debounce must not be negative"})
	}
	if cfg.Parallelism < 1 {
		errs = append(errs, FieldError{Field: "rules.parallelism", Message: "parallelism must be at least 1"})
	}
	if cfg.Git.Enabled {
		if strings.TrimSpace(cfg.Git.URL) == "" {
			errs = append(errs, FieldError{Field: "rules.git.url", Message: "url is required when the git source is enabled"})
		}
		if cfg.Git.Token != "" && cfg.Git.SSHKeyPath != "" {
			errs = append(errs, FieldError{Field: "rules.git", Message: "token and ssh_key_path are mutually exclusive"})
		}
		if cfg.Git.PollInterval < time.Second {
			errs = append(errs, FieldError{Field: "rules.git.poll_interval", Message: "poll interval must be at least 1s"})
		}
	}
	return errs
}

var revisionTargets = map[string]bool{"same": true, "previous": true, "first": true, "step": true}

func validateWorkflow(cfg *WorkflowConfig) []FieldError {
	var errs []FieldError
	if !revisionTargets[cfg.Revision.Target] {
		errs = append(errs, FieldError{
			Field:   "workflow.revision.target",
			Message: fmt.Sprintf("invalid revision target %q (must be same, previous, first or step)", cfg.Revision.Target),
		})
	}
	if cfg.Revision.Target == "step" && cfg.Revision.Step <= 0 {
		errs = append(errs, FieldError{Field: "workflow.revision.step", Message: "step must be positive when target is \"step\""})
	}
	if cfg.LockStripes < 1 {
		errs = append(errs, FieldError{Field: "workflow.lock_stripes", Message: "lock stripes must be at least 1"})
	}
	return errs
}

func validateBackend(section, backend string, sqlite *SQLiteConfig) []FieldError {
	var errs []FieldError
	switch backend {
	case "memory":
	case "sqlite":
		if sqlite.Path == "" {
			errs = append(errs, FieldError{Field: section + ".sqlite.path", Message: "path is required for the sqlite backend"})
		}
		if sqlite.MaxOpenConns < 0 {
			errs = append(errs, FieldError{Field: section + ".sqlite.max_open_conns", Message: "must not be negative"})
		}
		if sqlite.MaxIdleConns < 0 {
			errs = append(errs, FieldError{Field: section + ".sqlite.max_idle_conns", Message: "must not be negative"})
		}
		if sqlite.BusyTimeout < 0 {
			errs = append(errs, FieldError{Field: section + ".sqlite.busy_timeout", Message: "must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   section + ".backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory or sqlite)", backend),
		})
	}
	return errs
}

func validateEscalation(cfg *EscalationConfig) []FieldError {
	var errs []FieldError
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "escalation.schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
		})
	}
	if strings.TrimSpace(cfg.Actor) == "" {
		errs = append(errs, FieldError{Field: "escalation.actor", Message: "actor is required"})
	}
	return errs
}

func validateDirectory(cfg *DirectoryConfig) []FieldError {
	var errs []FieldError
	for tenant, roles := range cfg.Roles {
		for role, users := range roles {
			if strings.TrimSpace(role) == "" {
				errs = append(errs, FieldError{Field: "directory.roles." + tenant, Message: "role name must not be empty"})
			}
			for _, u := range users {
				if strings.TrimSpace(u) == "" {
					errs = append(errs, FieldError{
						Field:   fmt.Sprintf("directory.roles.%s.%s", tenant, role),
						Message: "user ids must not be empty",
					})
					break
				}
			}
		}
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", cfg.Logging.Level),
		})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json or text)", cfg.Logging.Format),
		})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.ListenAddress); err != nil {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.listen_address",
				Message: fmt.Sprintf("invalid listen address: %v", err),
			})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
		}
	}

	if cfg.Tracing.Enabled {
		if strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0 and 1"})
		}
	}
	return errs
}
