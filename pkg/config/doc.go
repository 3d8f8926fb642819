// Package config loads and validates gatekeeper configuration.
//
// Configuration is read from YAML, layered on top of the defaults in
// defaults.go, optionally overridden from the environment and validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("gatekeeper.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GATEKEEPER_SECTION_FIELD:
//
//   - GATEKEEPER_RULES_PATH overrides rules.path
//   - GATEKEEPER_WORKFLOW_REVISION_TARGET overrides workflow.revision.target
//   - GATEKEEPER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Validation
//
// Validate collects every problem into a ValidationError instead of stopping
// at the first one, so operators can fix a file in one pass.
package config
