package audit

import (
	"errors"
	"fmt"
)

// ErrDuplicateSequence is returned when an entry reuses an instance's
// sequence number.
var ErrDuplicateSequence = errors.New("duplicate audit sequence")

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string // "sqlite", "memory"
	Operation string // "append", "list", ...
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}

// TamperError reports a broken hash chain.
type TamperError struct {
	InstanceID string
	Sequence   int64
	EntryID    string
	Reason     string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("audit chain of instance %s broken at sequence %d (entry %s): %s",
		e.InstanceID, e.Sequence, e.EntryID, e.Reason)
}

// ExportError represents an error during export.
type ExportError struct {
	Format     string
	EntryCount int
	Cause      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, entry_count=%d]: %v", e.Format, e.EntryCount, e.Cause)
}

func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, count int, cause error) *ExportError {
	return &ExportError{Format: format, EntryCount: count, Cause: cause}
}
