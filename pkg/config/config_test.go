package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := Validate(cfg); err != nil {
		t.Fatalf("default configuration is invalid: %v", err)
	}
	if cfg.Rules.Path != DefaultRulesPath {
		t.Errorf("Rules.Path = %q, want %q", cfg.Rules.Path, DefaultRulesPath)
	}
	if !cfg.Rules.AutoExecute {
		t.Error("Rules.AutoExecute should default to true")
	}
	if cfg.Workflow.Revision.Target != "same" {
		t.Errorf("Revision.Target = %q, want same", cfg.Workflow.Revision.Target)
	}
	if cfg.Audit.SQLite.Path != DefaultAuditSQLitePath {
		t.Errorf("Audit.SQLite.Path = %q", cfg.Audit.SQLite.Path)
	}
	if !cfg.Telemetry.Logging.RedactPII {
		t.Error("RedactPII should default to true")
	}
}

func TestParse_KeepsExplicitFalse(t *testing.T) {
	cfg, err := Parse([]byte(`
rules:
  auto_execute: false
telemetry:
  logging:
    redact_pii: false
  metrics:
    enabled: false
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Rules.AutoExecute {
		t.Error("AutoExecute = true, want false")
	}
	if cfg.Telemetry.Logging.RedactPII {
		t.Error("RedactPII = true, want false")
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
	if cfg.Rules.Parallelism != DefaultRulesParallelism {
		t.Errorf("Parallelism = %d, want default", cfg.Rules.Parallelism)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	content := `
rules:
  path: /etc/gatekeeper/rules
  watch: true
  parallelism: 8
workflow:
  revision:
    target: step
    step: 1
storage:
  backend: memory
audit:
  backend: sqlite
  sqlite:
    path: /var/lib/gatekeeper/audit.db
    busy_timeout: 2s
escalation:
  enabled: true
  schedule: "@every 10m"
directory:
  roles:
    acme:
      security_reviewer: [alice@acme.test, bob@acme.test]
telemetry:
  logging:
    level: debug
    format: text
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Rules.Path != "/etc/gatekeeper/rules" || !cfg.Rules.Watch || cfg.Rules.Parallelism != 8 {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
	if cfg.Workflow.Revision.Target != "step" || cfg.Workflow.Revision.Step != 1 {
		t.Errorf("Revision = %+v", cfg.Workflow.Revision)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Audit.SQLite.BusyTimeout != 2*time.Second {
		t.Errorf("Audit.SQLite.BusyTimeout = %v", cfg.Audit.SQLite.BusyTimeout)
	}
	if got := cfg.Directory.Roles["acme"]["security_reviewer"]; len(got) != 2 {
		t.Errorf("directory roles = %v", got)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected YAML error")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("storage:\n  backend: postgres\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(invalid)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if verr.Errors[0].Field != "storage.backend" {
		t.Errorf("Field = %q, want storage.backend", verr.Errors[0].Field)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"GATEKEEPER_RULES_PATH":               "/srv/rules",
		"GATEKEEPER_RULES_WATCH":              "true",
		"GATEKEEPER_RULES_PARALLELISM":        "2",
		"GATEKEEPER_RULES_WATCH_DEBOUNCE":     "1s",
		"GATEKEEPER_WORKFLOW_REVISION_TARGET": "previous",
		"GATEKEEPER_AUDIT_BACKEND":            "memory",
		"GATEKEEPER_TELEMETRY_LOGGING_LEVEL":  "warn",
		"GATEKEEPER_ESCALATION_ENABLED":       "not-a-bool",
	}
	cfg := Default()
	applyEnvOverrides(cfg, func(k string) string { return env[k] })

	if cfg.Rules.Path != "/srv/rules" || !cfg.Rules.Watch || cfg.Rules.Parallelism != 2 {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
	if cfg.Rules.WatchDebounce != time.Second {
		t.Errorf("WatchDebounce = %v", cfg.Rules.WatchDebounce)
	}
	if cfg.Workflow.Revision.Target != "previous" {
		t.Errorf("Revision.Target = %q", cfg.Workflow.Revision.Target)
	}
	if cfg.Audit.Backend != "memory" {
		t.Errorf("Audit.Backend = %q", cfg.Audit.Backend)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Escalation.Enabled {
		t.Error("unparseable boolean should be ignored")
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	t.Setenv("GATEKEEPER_STORAGE_BACKEND", "memory")
	t.Setenv("GATEKEEPER_TELEMETRY_LOGGING_FORMAT", "text")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}
	if cfg.Storage.Backend != "memory" || cfg.Telemetry.Logging.Format != "text" {
		t.Errorf("overrides not applied: storage=%q format=%q", cfg.Storage.Backend, cfg.Telemetry.Logging.Format)
	}

	t.Setenv("GATEKEEPER_TELEMETRY_LOGGING_LEVEL", "verbose")
	if _, err := LoadConfigWithEnvOverrides(""); err == nil {
		t.Error("expected validation error after invalid override")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"parallelism", func(c *Config) { c.Rules.Parallelism = 0 }, "rules.parallelism"},
		{"git url", func(c *Config) { c.Rules.Git.Enabled = true }, "rules.git.url"},
		{"git auth", func(c *Config) {
			c.Rules.Git = GitConfig{Enabled: true, URL: "https://git.test/rules.git", Token: "t", SSHKeyPath: "/k", PollInterval: time.Minute}
		}, "rules.git"},
		{"tracing ratio", func(c *Config) {
			c.Telemetry.Tracing.Enabled = true
			c.Telemetry.Tracing.SampleRatio = 2
		}, "telemetry.tracing.sample_ratio"},
		{"revision target", func(c *Config) { c.Workflow.Revision.Target = "origin" }, "workflow.revision.target"},
		{"revision step", func(c *Config) { c.Workflow.Revision.Target = "step" }, "workflow.revision.step"},
		{"lock stripes", func(c *Config) { c.Workflow.LockStripes = -1 }, "workflow.lock_stripes"},
		{"audit backend", func(c *Config) { c.Audit.Backend = "s3" }, "audit.backend"},
		{"sqlite path", func(c *Config) { c.Storage.SQLite.Path = "" }, "storage.sqlite.path"},
		{"cron", func(c *Config) { c.Escalation.Schedule = "every five minutes" }, "escalation.schedule"},
		{"empty role", func(c *Config) { c.Directory.Roles = map[string]map[string][]string{"acme": {"": {"u"}}} }, "directory.roles.acme"},
		{"empty user", func(c *Config) { c.Directory.Roles = map[string]map[string][]string{"acme": {"r": {""}}} }, "directory.roles.acme.r"},
		{"log level", func(c *Config) { c.Telemetry.Logging.Level = "trace" }, "telemetry.logging.level"},
		{"log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"redact pattern", func(c *Config) {
			c.Telemetry.Logging.RedactPatterns = []RedactPattern{{Name: "x", Pattern: "("}}
		}, "telemetry.logging.redact_patterns[0].pattern"},
		{"metrics address", func(c *Config) { c.Telemetry.Metrics.ListenAddress = "9090" }, "telemetry.metrics.listen_address"},
		{"metrics path", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, "telemetry.metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want ValidationError", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tt.field, verr)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "2 errors") || !strings.Contains(msg, "b: worse") {
		t.Errorf("Error() = %q", msg)
	}
}
