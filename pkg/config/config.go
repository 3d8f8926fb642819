package config

import "time"

// Config is the root configuration for the gatekeeper engine and CLI.
type Config struct {
	// Rules controls where rule sets are loaded from and how they are matched
	// and executed.
	Rules RulesConfig `yaml:"rules"`

	// Workflow controls workflow definitions and transition behavior.
	Workflow WorkflowConfig `yaml:"workflow"`

	// Storage selects the workflow repository backend.
	Storage StorageConfig `yaml:"storage"`

	// Audit selects the audit storage backend and export options.
	Audit AuditConfig `yaml:"audit"`

	// Escalation configures the external cron-driven escalation trigger.
	Escalation EscalationConfig `yaml:"escalation"`

	// Directory is the static role directory used to resolve role
	// assignments when no external directory is wired in.
	Directory DirectoryConfig `yaml:"directory"`

	// Secrets configures how ${secret:name} references in credentials are
	// resolved.
	Secrets SecretsConfig `yaml:"secrets"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RulesConfig configures rule loading and evaluation.
type RulesConfig struct {
	// Path is a YAML rule file or a directory of rule files.
	// Default: "./rules"
	Path string `yaml:"path"`

	// Watch reloads rule files when they change on disk.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces bursts of file events into one reload.
	// Default: 100ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// Parallelism bounds concurrent condition evaluation per match call.
	// 1 evaluates sequentially.
	// Default: 4
	Parallelism int `yaml:"parallelism"`

	// AutoExecute applies automatic rules immediately. When false every
	// matched action is returned as a suggestion.
	// Default: true
	AutoExecute bool `yaml:"auto_execute"`

	// Git optionally loads rules from a git repository instead of Path.
	Git GitConfig `yaml:"git"`
}

// GitConfig configures the git-backed rule source.
type GitConfig struct {
	// Enabled switches the rule source from Path to the repository.
	Enabled bool `yaml:"enabled"`

	// URL is the repository to clone (https, ssh or a local path).
	URL string `yaml:"url"`

	// Branch is checked out after cloning.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path is the rules directory inside the repository; empty for the root.
	Path string `yaml:"path"`

	// LocalPath is where the repository is cloned.
	// Default: "./data/rules-repo"
	LocalPath string `yaml:"local_path"`

	// Token enables HTTPS token authentication. Prefer the
	// GATEKEEPER_RULES_GIT_TOKEN environment variable.
	Token string `yaml:"token"`

	// SSHKeyPath enables SSH public key authentication.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHPassphrase decrypts SSHKeyPath when set.
	SSHPassphrase string `yaml:"ssh_passphrase"`

	// PollInterval is how often the run command fetches new commits.
	// Default: 1m
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout bounds each clone or pull.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// WorkflowConfig configures workflow definitions and transitions.
type WorkflowConfig struct {
	// DefinitionsPath is a YAML file or directory of workflow definitions.
	// Default: "./workflows"
	DefinitionsPath string `yaml:"definitions_path"`

	// Revision is the default revision policy for definitions that do not
	// declare one.
	Revision RevisionConfig `yaml:"revision"`

	// LockStripes is the number of per-instance lock stripes.
	// Default: 64
	LockStripes int `yaml:"lock_stripes"`
}

// RevisionConfig selects the step a request_revision returns to.
type RevisionConfig struct {
	// Target is one of "same", "previous", "first", "step".
	// Default: "same"
	Target string `yaml:"target"`

	// Step is the step number used when Target is "step".
	Step int `yaml:"step"`
}

// StorageConfig selects the workflow repository.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the SQLite workflow repository.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig configures a SQLite database file.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long a writer waits for a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the SQLite audit store.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Export controls audit export formatting.
	Export ExportConfig `yaml:"export"`
}

// ExportConfig controls audit export output.
type ExportConfig struct {
	// JSONPretty indents JSON exports.
	// Default: true
	JSONPretty bool `yaml:"json_pretty"`

	// CSVIncludeHeader writes a header row in CSV exports.
	// Default: true
	CSVIncludeHeader bool `yaml:"csv_include_header"`
}

// EscalationConfig configures the escalation scheduler.
type EscalationConfig struct {
	// Enabled starts the scheduler in the run command.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression (5 fields, or a descriptor such as
	// "@every 5m").
	// Default: "*/5 * * * *"
	Schedule string `yaml:"schedule"`

	// Actor is recorded as the actor of escalation transitions.
	// Default: "system:escalation"
	Actor string `yaml:"actor"`
}

// DirectoryConfig is a static role directory.
type DirectoryConfig struct {
	// Roles maps tenant to role to the users holding it. The tenant "*"
	// applies to every tenant.
	Roles map[string]map[string][]string `yaml:"roles"`

	// Inactive lists users that hold roles but must not receive
	// assignments.
	Inactive []string `yaml:"inactive"`
}

// SecretsConfig configures secret providers. Providers are consulted in
// order: the directory first, then the environment.
type SecretsConfig struct {
	// EnvPrefix prefixes environment variable names. The secret
	// "git-token" is read from GATEKEEPER_SECRET_GIT_TOKEN.
	// Default: "GATEKEEPER_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is a directory holding one file per secret, as mounted by
	// Kubernetes. Files must be mode 0600 or 0400. Empty disables it.
	Dir string `yaml:"dir"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in log entries.
	AddSource bool `yaml:"add_source"`

	// RedactPII masks e-mail addresses and custom patterns in log
	// attributes.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns adds custom redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are recorded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric name prefix.
	// Default: "gatekeeper"
	Namespace string `yaml:"namespace"`

	// Subsystem is the second metric name component.
	// Default: "engine"
	Subsystem string `yaml:"subsystem"`

	// ListenAddress is where the run command serves metrics.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path of the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	// Enabled turns on span export. When false a noop tracer is used.
	Enabled bool `yaml:"enabled"`

	// ServiceName is reported as the service.name resource attribute.
	// Default: "gatekeeper"
	ServiceName string `yaml:"service_name"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of root spans sampled, 0 to 1.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Timeout bounds each export call.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
