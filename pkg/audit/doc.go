// Package audit records workflow transitions in an append-only,
// hash-chained trail.
//
// Every Entry carries the hash of the previous entry of the same instance,
// so editing or removing a stored entry breaks the chain and is reported by
// Recorder.Verify as a *TamperError. Storage backends expose no update or
// delete operation; the SQLite backend additionally rejects UPDATE and
// DELETE statements with triggers.
//
// Backends live in the storage subpackage, exporters in export.
package audit
