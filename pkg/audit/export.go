package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportFormat names an output encoding for Export.
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// Export writes events to w in the given format.
func Export(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportFormatJSON, "":
		return exportJSON(w, events)
	case ExportFormatNDJSON:
		return exportNDJSON(w, events)
	case ExportFormatCSV:
		return exportCSV(w, events)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportJSON(w io.Writer, events []*Event) error {
	if events == nil {
		events = []*Event{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(events)
}

func exportNDJSON(w io.Writer, events []*Event) error {
	encoder := json.NewEncoder(w)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"ID", "Timestamp", "Action", "Status", "TenantID", "AppID", "AppName",
	"PreviousName", "Actor", "OperationID", "Message", "ErrorMessage",
}

func exportCSV(w io.Writer, events []*Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.Format(time.RFC3339),
			string(event.Action),
			string(event.Status),
			strconv.FormatInt(event.TenantID, 10),
			formatID(event.AppID),
			event.AppName,
			event.PreviousName,
			event.Actor,
			event.OperationID,
			event.Message,
			event.ErrorMessage,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// formatID renders unset identifiers as an empty cell.
func formatID(id int64) string {
	if id <= 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
