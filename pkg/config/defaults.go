package config

import "time"

// Default values for configuration fields.
const (
	// Rules defaults
	DefaultRulesPath          = "./rules"
	DefaultRulesWatchDebounce = 100 * time.Millisecond
	DefaultRulesParallelism   = 4
	DefaultRulesAutoExecute   = true
	DefaultGitBranch          = "main"
	DefaultGitLocalPath       = "./data/rules-repo"
	DefaultGitPollInterval    = time.Minute
	DefaultGitTimeout         = 30 * time.Second

	// Workflow defaults
	DefaultWorkflowDefinitionsPath = "./workflows"
	DefaultRevisionTarget          = "same"
	DefaultLockStripes             = 64

	// Storage defaults
	DefaultStorageBackend      = "sqlite"
	DefaultWorkflowSQLitePath  = "data/workflow.db"
	DefaultAuditSQLitePath     = "data/audit.db"
	DefaultSQLiteMaxOpenConns  = 10
	DefaultSQLiteMaxIdleConns  = 5
	DefaultSQLiteWALMode       = true
	DefaultSQLiteBusyTimeout   = 5 * time.Second
	DefaultExportJSONPretty    = true
	DefaultExportCSVHeader     = true
	DefaultEscalationSchedule  = "*/5 * * * *"
	DefaultEscalationActor     = "system:escalation"
	DefaultSecretsEnvPrefix    = "GATEKEEPER_SECRET_"
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultLoggingRedactPII    = true
	DefaultMetricsEnabled      = true
	DefaultMetricsNamespace    = "gatekeeper"
	DefaultMetricsSubsystem    = "engine"
	DefaultMetricsAddress      = "127.0.0.1:9090"
	DefaultMetricsPath         = "/metrics"
	DefaultTracingServiceName  = "gatekeeper"
	DefaultTracingEndpoint     = "localhost:4317"
	DefaultTracingSampleRatio  = 1.0
	DefaultTracingTimeout      = 10 * time.Second
)

// Default returns a configuration with every default applied. Loading starts
// from this value so boolean options that default to true can still be
// switched off in YAML.
func Default() *Config {
	cfg := &Config{
		Rules: RulesConfig{
			AutoExecute: DefaultRulesAutoExecute,
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{WALMode: DefaultSQLiteWALMode},
		},
		Audit: AuditConfig{
			SQLite: SQLiteConfig{WALMode: DefaultSQLiteWALMode},
			Export: ExportConfig{
				JSONPretty:       DefaultExportJSONPretty,
				CSVIncludeHeader: DefaultExportCSVHeader,
			},
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{RedactPII: DefaultLoggingRedactPII},
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets defaults for zero-valued fields. It is idempotent.
func ApplyDefaults(cfg *Config) {
	// Rules
	if cfg.Rules.Path == "" {
		cfg.Rules.Path = DefaultRulesPath
	}
	if cfg.Rules.WatchDebounce == 0 {
		cfg.Rules.WatchDebounce = DefaultRulesWatchDebounce
	}
	if cfg.Rules.Parallelism == 0 {
		cfg.Rules.Parallelism = DefaultRulesParallelism
	}
	if cfg.Rules.Git.Branch == "" {
		cfg.Rules.Git.Branch = DefaultGitBranch
	}
	if cfg.Rules.Git.LocalPath == "" {
		cfg.Rules.Git.LocalPath = DefaultGitLocalPath
	}
	if cfg.Rules.Git.PollInterval == 0 {
		cfg.Rules.Git.PollInterval = DefaultGitPollInterval
	}
	if cfg.Rules.Git.Timeout == 0 {
		cfg.Rules.Git.Timeout = DefaultGitTimeout
	}

	// Workflow
	if cfg.Workflow.DefinitionsPath == "" {
		cfg.Workflow.DefinitionsPath = DefaultWorkflowDefinitionsPath
	}
	if cfg.Workflow.Revision.Target == "" {
		cfg.Workflow.Revision.Target = DefaultRevisionTarget
	}
	if cfg.Workflow.LockStripes == 0 {
		cfg.Workflow.LockStripes = DefaultLockStripes
	}

	// Storage
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	applySQLiteDefaults(&cfg.Storage.SQLite, DefaultWorkflowSQLitePath)

	// Audit
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultStorageBackend
	}
	applySQLiteDefaults(&cfg.Audit.SQLite, DefaultAuditSQLitePath)

	// Escalation
	if cfg.Escalation.Schedule == "" {
		cfg.Escalation.Schedule = DefaultEscalationSchedule
	}
	if cfg.Escalation.Actor == "" {
		cfg.Escalation.Actor = DefaultEscalationActor
	}

	// Secrets
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}

	// Telemetry
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = DefaultMetricsAddress
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
}

func applySQLiteDefaults(cfg *SQLiteConfig, path string) {
	if cfg.Path == "" {
		cfg.Path = path
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = DefaultSQLiteMaxIdleConns
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultSQLiteBusyTimeout
	}
}
