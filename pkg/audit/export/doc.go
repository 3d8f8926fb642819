// Package export writes audit entries as JSON or CSV for external
// reporting.
package export
