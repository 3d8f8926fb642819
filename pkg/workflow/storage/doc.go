// Package storage provides workflow.Repository implementations: an
// in-memory repository for tests and single-process use, and a SQLite
// repository for durable deployments.
package storage
