package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/workflow"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const instanceColumns = `id, tenant_id, definition_id, definition_version,
	entity_type, entity_id, submitter, attributes, current_step, status,
	awaiting_revision, return_step, blocked_reason, blocked_from, version,
	started_at, updated_at, completed_at`

const stepColumns = `step_number, status, assignee, role, candidates,
	completed_by, notes, revision, escalated, started_at, completed_at`

// SQLiteRepository implements workflow.Repository on SQLite. Instance
// updates rewrite the instance row and its step records in one
// transaction guarded by the stored version.
type SQLiteRepository struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ workflow.Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if needed) the database at cfg.Path.
func NewSQLiteRepository(cfg *config.SQLiteConfig, logger *slog.Logger) (*SQLiteRepository, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = config.DefaultSQLiteBusyTimeout
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", cfg.Path, busy.Milliseconds())
	if cfg.WALMode {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}

	r := &SQLiteRepository{
		db:     db,
		path:   cfg.Path,
		logger: logger.With("component", "workflow.storage.sqlite"),
	}
	r.logger.Info("workflow repository initialized", "path", cfg.Path, "wal_mode", cfg.WALMode)
	return r, nil
}

func (r *SQLiteRepository) SaveDefinition(ctx context.Context, def *workflow.Definition) error {
	spec, err := json.Marshal(def.Spec())
	if err != nil {
		return fmt.Errorf("failed to encode definition %s: %w", def.ID(), err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fingerprint string
	err = tx.QueryRowContext(ctx,
		`SELECT fingerprint FROM definitions WHERE tenant_id = ? AND id = ? AND version = ?`,
		def.TenantID(), def.ID(), def.Version(),
	).Scan(&fingerprint)
	switch {
	case err == nil:
		if fingerprint == def.Fingerprint() {
			return nil
		}
		return fmt.Errorf("%w: %s v%d", workflow.ErrDefinitionExists, def.ID(), def.Version())
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to read definition %s: %w", def.ID(), err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO definitions (tenant_id, id, version, name, spec, fingerprint, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		def.TenantID(), def.ID(), def.Version(), def.Name(), string(spec), def.Fingerprint(), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert definition %s: %w", def.ID(), err)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetDefinition(ctx context.Context, tenantID, id string, version int) (*workflow.Definition, error) {
	for _, tenant := range lookupTenants(tenantID) {
		def, err := r.scanDefinition(r.db.QueryRowContext(ctx,
			`SELECT spec FROM definitions WHERE tenant_id = ? AND id = ? AND version = ?`,
			tenant, id, version,
		))
		if err == nil {
			return def, nil
		}
		if !errors.Is(err, workflow.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: definition %s v%d", workflow.ErrNotFound, id, version)
}

func (r *SQLiteRepository) LatestDefinition(ctx context.Context, tenantID, id string) (*workflow.Definition, error) {
	for _, tenant := range lookupTenants(tenantID) {
		def, err := r.scanDefinition(r.db.QueryRowContext(ctx,
			`SELECT spec FROM definitions WHERE tenant_id = ? AND id = ? ORDER BY version DESC LIMIT 1`,
			tenant, id,
		))
		if err == nil {
			return def, nil
		}
		if !errors.Is(err, workflow.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: definition %s", workflow.ErrNotFound, id)
}

func (r *SQLiteRepository) ListDefinitions(ctx context.Context, tenantID string) ([]*workflow.Definition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT spec FROM definitions WHERE tenant_id = ? OR tenant_id = '' ORDER BY tenant_id, id, version`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*workflow.Definition
	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanDefinition(row scanner) (*workflow.Definition, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	var spec workflow.DefinitionSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	return workflow.NewDefinition(spec)
}

func (r *SQLiteRepository) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args, err := instanceArgs(inst)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO instances (`+instanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	); err != nil {
		return fmt.Errorf("failed to insert instance %s: %w", inst.ID, err)
	}
	if err := writeSteps(ctx, tx, inst); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) UpdateInstance(ctx context.Context, inst *workflow.Instance, expectedVersion int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	attrs, err := encodeJSON(inst.Attributes)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE instances SET
			current_step = ?, status = ?, awaiting_revision = ?, return_step = ?,
			blocked_reason = ?, blocked_from = ?, version = ?, updated_at = ?,
			completed_at = ?, attributes = ?, submitter = ?
		WHERE id = ? AND version = ?`,
		inst.CurrentStep, string(inst.Status), inst.AwaitingRevision, inst.ReturnStep,
		inst.BlockedReason, string(inst.BlockedFrom), inst.Version, formatTime(inst.UpdatedAt),
		formatTimePtr(inst.CompletedAt), attrs, inst.Submitter,
		inst.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", inst.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", inst.ID, err)
	}
	if n == 0 {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM instances WHERE id = ?`, inst.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: instance %s", workflow.ErrNotFound, inst.ID)
		}
		return fmt.Errorf("%w: instance %s is at version %d, expected %d", workflow.ErrConflict, inst.ID, current, expectedVersion)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM step_records WHERE instance_id = ?`, inst.ID); err != nil {
		return fmt.Errorf("failed to clear step records of %s: %w", inst.ID, err)
	}
	if err := writeSteps(ctx, tx, inst); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	inst, err := scanInstance(r.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: instance %s", workflow.ErrNotFound, id)
		}
		return nil, err
	}
	if err := r.loadSteps(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *SQLiteRepository) ListInstances(ctx context.Context, filter workflow.InstanceFilter) ([]*workflow.Instance, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if filter.TenantID != "" {
		add("tenant_id = ?", filter.TenantID)
	}
	if filter.DefinitionID != "" {
		add("definition_id = ?", filter.DefinitionID)
	}
	if filter.EntityType != "" {
		add("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = ?", filter.EntityID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + instanceColumns + ` FROM instances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	var out []*workflow.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Step records are loaded after the cursor is closed; the pool holds a
	// single connection.
	for _, inst := range out {
		if err := r.loadSteps(ctx, inst); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *SQLiteRepository) loadSteps(ctx context.Context, inst *workflow.Instance) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM step_records WHERE instance_id = ? ORDER BY step_number`, inst.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load step records of %s: %w", inst.ID, err)
	}
	defer rows.Close()

	inst.Steps = nil
	for rows.Next() {
		var (
			rec                    workflow.StepRecord
			status                 string
			candidates             sql.NullString
			startedAt, completedAt sql.NullString
		)
		if err := rows.Scan(&rec.StepNumber, &status, &rec.Assignee, &rec.Role, &candidates,
			&rec.CompletedBy, &rec.Notes, &rec.Revision, &rec.Escalated, &startedAt, &completedAt); err != nil {
			return fmt.Errorf("failed to scan step record: %w", err)
		}
		rec.Status = workflow.StepStatus(status)
		if candidates.Valid && candidates.String != "" {
			if err := json.Unmarshal([]byte(candidates.String), &rec.Candidates); err != nil {
				return fmt.Errorf("failed to decode candidates: %w", err)
			}
		}
		if rec.StartedAt, err = parseTimePtr(startedAt); err != nil {
			return err
		}
		if rec.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return err
		}
		inst.Steps = append(inst.Steps, rec)
	}
	return rows.Err()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping checks that the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// DB returns the underlying database.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

func writeSteps(ctx context.Context, tx *sql.Tx, inst *workflow.Instance) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO step_records (instance_id, `+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare step insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range inst.Steps {
		var candidates any
		if len(rec.Candidates) > 0 {
			data, err := json.Marshal(rec.Candidates)
			if err != nil {
				return fmt.Errorf("failed to encode candidates: %w", err)
			}
			candidates = string(data)
		}
		if _, err := stmt.ExecContext(ctx, inst.ID, rec.StepNumber, string(rec.Status), rec.Assignee, rec.Role,
			candidates, rec.CompletedBy, rec.Notes, rec.Revision, rec.Escalated,
			formatTimePtr(rec.StartedAt), formatTimePtr(rec.CompletedAt)); err != nil {
			return fmt.Errorf("failed to insert step %d of %s: %w", rec.StepNumber, inst.ID, err)
		}
	}
	return nil
}

func instanceArgs(inst *workflow.Instance) ([]any, error) {
	attrs, err := encodeJSON(inst.Attributes)
	if err != nil {
		return nil, err
	}
	return []any{
		inst.ID, inst.TenantID, inst.DefinitionID, inst.DefinitionVersion,
		inst.EntityType, inst.EntityID, inst.Submitter, attrs, inst.CurrentStep, string(inst.Status),
		inst.AwaitingRevision, inst.ReturnStep, inst.BlockedReason, string(inst.BlockedFrom), inst.Version,
		formatTime(inst.StartedAt), formatTime(inst.UpdatedAt), formatTimePtr(inst.CompletedAt),
	}, nil
}

func scanInstance(row scanner) (*workflow.Instance, error) {
	var (
		inst                 workflow.Instance
		status, blockedFrom  string
		attrs, completedAt   sql.NullString
		startedAt, updatedAt string
	)
	err := row.Scan(&inst.ID, &inst.TenantID, &inst.DefinitionID, &inst.DefinitionVersion,
		&inst.EntityType, &inst.EntityID, &inst.Submitter, &attrs, &inst.CurrentStep, &status,
		&inst.AwaitingRevision, &inst.ReturnStep, &inst.BlockedReason, &blockedFrom, &inst.Version,
		&startedAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	inst.Status = workflow.Status(status)
	inst.BlockedFrom = workflow.Status(blockedFrom)
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &inst.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes: %w", err)
		}
	}
	if inst.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if inst.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if inst.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &inst, nil
}

func encodeJSON(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp %q: %w", s.String, err)
	}
	return &t, nil
}
