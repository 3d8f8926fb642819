package export

import (
	"context"
	"encoding/json"
	"io"

	"mercator-hq/gatekeeper/pkg/audit"
)

// Exporter writes audit entries to w.
type Exporter interface {
	Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error
}

// JSONExporter exports entries as a JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes entries as an array; an empty input produces "[]".
func (e *JSONExporter) Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}

	enc := json.NewEncoder(w)
	if e.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(entries); err != nil {
		return audit.NewExportError("json", len(entries), err)
	}
	return nil
}
