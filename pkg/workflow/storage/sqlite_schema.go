package storage

// SchemaVersion is the current workflow schema version.
const SchemaVersion = 1

// Schema creates the workflow tables.
const Schema = `
CREATE TABLE IF NOT EXISTS definitions (
	tenant_id TEXT NOT NULL,
	id TEXT NOT NULL,
	version INTEGER NOT NULL,
	name TEXT NOT NULL,
	spec TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, id, version)
);

CREATE TABLE IF NOT EXISTS instances (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	definition_id TEXT NOT NULL,
	definition_version INTEGER NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	submitter TEXT NOT NULL,
	attributes TEXT,
	current_step INTEGER NOT NULL,
	status TEXT NOT NULL,
	awaiting_revision INTEGER NOT NULL DEFAULT 0,
	return_step INTEGER NOT NULL DEFAULT 0,
	blocked_reason TEXT NOT NULL DEFAULT '',
	blocked_from TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_instances_tenant_status ON instances(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_instances_entity ON instances(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS step_records (
	instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	step_number INTEGER NOT NULL,
	status TEXT NOT NULL,
	assignee TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	candidates TEXT,
	completed_by TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	revision INTEGER NOT NULL DEFAULT 0,
	escalated INTEGER NOT NULL DEFAULT 0,
	started_at TEXT,
	completed_at TEXT,
	PRIMARY KEY (instance_id, step_number)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// InsertSchemaVersion records the applied schema version.
const InsertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`
