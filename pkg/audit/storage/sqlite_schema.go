package storage

// SchemaVersion is the current audit schema version.
const SchemaVersion = 1

// Schema creates the audit tables. Rows are immutable: the triggers abort
// any UPDATE or DELETE.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,

    actor TEXT NOT NULL,
    action TEXT NOT NULL,

    previous_status TEXT,
    new_status TEXT,
    previous_step INTEGER,
    new_step INTEGER,
    step_number INTEGER,

    notes TEXT,
    payload TEXT,
    instance_version INTEGER NOT NULL,

    timestamp TEXT NOT NULL,
    prev_hash TEXT,
    hash TEXT NOT NULL,

    UNIQUE (instance_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_entries(tenant_id);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_entries(actor);

CREATE TRIGGER IF NOT EXISTS audit_entries_no_update
BEFORE UPDATE ON audit_entries
BEGIN
    SELECT RAISE(ABORT, 'audit entries are append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete
BEFORE DELETE ON audit_entries
BEGIN
    SELECT RAISE(ABORT, 'audit entries are append-only');
END;

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);
`

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion reads the newest schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
