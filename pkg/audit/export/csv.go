package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"mercator-hq/gatekeeper/pkg/audit"
)

// CSVExporter exports entries as CSV. The payload column holds JSON.
type CSVExporter struct {
	// IncludeHeader writes a header row.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Header is the CSV column list.
var Header = []string{
	"id", "instance_id", "tenant_id", "sequence",
	"timestamp", "actor", "action",
	"previous_status", "new_status", "previous_step", "new_step", "step_number",
	"notes", "payload", "instance_version",
	"prev_hash", "hash",
}

// Export writes entries to w.
func (e *CSVExporter) Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header); err != nil {
			return audit.NewExportError("csv", len(entries), err)
		}
	}

	for i, entry := range entries {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row, err := entryToRow(entry)
		if err != nil {
			return audit.NewExportError("csv", len(entries), err)
		}
		if err := writer.Write(row); err != nil {
			return audit.NewExportError("csv", len(entries), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return audit.NewExportError("csv", len(entries), err)
	}
	return nil
}

func entryToRow(e *audit.Entry) ([]string, error) {
	payload := ""
	if len(e.Payload) > 0 {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		payload = string(data)
	}

	return []string{
		e.ID,
		e.InstanceID,
		e.TenantID,
		strconv.FormatInt(e.Sequence, 10),
		audit.FormatTime(e.Timestamp),
		e.Actor,
		e.Action,
		e.PreviousStatus,
		e.NewStatus,
		strconv.Itoa(e.PreviousStep),
		strconv.Itoa(e.NewStep),
		strconv.Itoa(e.StepNumber),
		e.Notes,
		payload,
		strconv.FormatInt(e.InstanceVersion, 10),
		e.PrevHash,
		e.Hash,
	}, nil
}

// ForFormat returns the exporter for "json" or "csv".
func ForFormat(format string, pretty, header bool) (Exporter, bool) {
	switch format {
	case "json", "":
		return NewJSONExporter(pretty), true
	case "csv":
		return NewCSVExporter(header), true
	default:
		return nil, false
	}
}
