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

	"github.com/mattn/go-sqlite3"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/config"
)

const entryColumns = `id, instance_id, tenant_id, sequence, actor, action,
	previous_status, new_status, previous_step, new_step, step_number,
	notes, payload, instance_version, timestamp, prev_hash, hash`

// SQLiteStorage implements audit.Storage on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config config.SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens (creating if needed) the database at cfg.Path.
func NewSQLiteStorage(cfg *config.SQLiteConfig) (*SQLiteStorage, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, audit.NewStorageError("sqlite", "open", errors.New("database path is required"))
	}

	logger := slog.Default().With("component", "audit.storage.sqlite")

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, audit.NewStorageError("sqlite", "open", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "open", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	s := &SQLiteStorage{db: db, config: *cfg, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("audit storage initialized",
		"path", cfg.Path,
		"wal_mode", cfg.WALMode,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return audit.NewStorageError("sqlite", "enable_wal", err)
		}
	}

	busy := s.config.BusyTimeout
	if busy <= 0 {
		busy = config.DefaultSQLiteBusyTimeout
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busy.Milliseconds())); err != nil {
		return audit.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return audit.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return audit.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return audit.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return audit.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Append inserts entry. A reused instance sequence returns an error
// wrapping audit.ErrDuplicateSequence.
func (s *SQLiteStorage) Append(ctx context.Context, e *audit.Entry) error {
	var payload any
	if len(e.Payload) > 0 {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return audit.NewStorageError("sqlite", "append", err)
		}
		payload = string(data)
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.InstanceID, e.TenantID, e.Sequence, e.Actor, e.Action,
		e.PreviousStatus, e.NewStatus, e.PreviousStep, e.NewStep, e.StepNumber,
		e.Notes, payload, e.InstanceVersion, audit.FormatTime(e.Timestamp), e.PrevHash, e.Hash,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return audit.NewStorageError("sqlite", "append", fmt.Errorf("%w: %v", audit.ErrDuplicateSequence, err))
		}
		return audit.NewStorageError("sqlite", "append", err)
	}
	return nil
}

// List returns matching entries ordered by timestamp, instance and
// sequence.
func (s *SQLiteStorage) List(ctx context.Context, query *audit.Query) ([]*audit.Entry, error) {
	where, args := buildWhereClause(query)

	q := "SELECT " + entryColumns + " FROM audit_entries"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY timestamp ASC, instance_id ASC, sequence ASC"
	if query != nil && query.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", query.Limit)
		if query.Offset > 0 {
			q += fmt.Sprintf(" OFFSET %d", query.Offset)
		}
	} else if query != nil && query.Offset > 0 {
		q += fmt.Sprintf(" LIMIT -1 OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "list", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, audit.NewStorageError("sqlite", "scan", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError("sqlite", "list", err)
	}
	return entries, nil
}

// Last returns the newest entry of an instance, or nil.
func (s *SQLiteStorage) Last(ctx context.Context, instanceID string) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+
		" FROM audit_entries WHERE instance_id = ? ORDER BY sequence DESC LIMIT 1", instanceID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "last", err)
	}
	return e, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return audit.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("audit storage closed")
	return nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the handle for maintenance commands and tests.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

func buildWhereClause(query *audit.Query) (string, []any) {
	if query == nil {
		return "", nil
	}
	var conditions []string
	var args []any

	if query.InstanceID != "" {
		conditions = append(conditions, "instance_id = ?")
		args = append(args, query.InstanceID)
	}
	if query.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, query.TenantID)
	}
	if query.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, query.Actor)
	}
	if query.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, query.Action)
	}
	if query.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, audit.FormatTime(*query.StartTime))
	}
	if query.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, audit.FormatTime(*query.EndTime))
	}
	return strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*audit.Entry, error) {
	var (
		e                          audit.Entry
		prevStatus, newStatus      sql.NullString
		prevStep, newStep, stepNum sql.NullInt64
		notes, payload, prevHash   sql.NullString
		timestamp                  string
	)
	err := row.Scan(
		&e.ID, &e.InstanceID, &e.TenantID, &e.Sequence, &e.Actor, &e.Action,
		&prevStatus, &newStatus, &prevStep, &newStep, &stepNum,
		&notes, &payload, &e.InstanceVersion, &timestamp, &prevHash, &e.Hash,
	)
	if err != nil {
		return nil, err
	}

	e.PreviousStatus = prevStatus.String
	e.NewStatus = newStatus.String
	e.PreviousStep = int(prevStep.Int64)
	e.NewStep = int(newStep.Int64)
	e.StepNumber = int(stepNum.Int64)
	e.Notes = notes.String
	e.PrevHash = prevHash.String

	e.Timestamp, err = time.Parse(audit.TimeLayout, timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	return &e, nil
}
