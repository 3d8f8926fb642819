// Package storage provides audit storage backends.
//
//   - SQLite: durable single-node storage (github.com/mattn/go-sqlite3)
//     with WAL mode, a busy timeout and triggers that reject UPDATE and
//     DELETE on audit rows.
//   - Memory: in-process storage for tests and the memory backend.
//
// Both backends implement audit.Storage and enforce one entry per instance
// and sequence.
//
//	store, err := storage.NewSQLiteStorage(&config.SQLiteConfig{
//	    Path:        "data/audit.db",
//	    WALMode:     true,
//	    BusyTimeout: 5 * time.Second,
//	})
//	recorder := audit.NewRecorder(store, collector, logger)
package storage
