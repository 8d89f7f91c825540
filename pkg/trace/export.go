package trace

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportJSON writes records as a JSON array.
func ExportJSON(w io.Writer, records []*Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("exporting trace records as JSON: %w", err)
	}
	return nil
}

// ExportCSV writes records as CSV with a header row. Payloads are omitted;
// the excerpt column carries the truncated body.
func ExportCSV(w io.Writer, records []*Record) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "session_id", "request_id", "stage", "direction",
		"provider", "model", "size", "duration_us", "hash", "excerpt", "timestamp"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.ID, rec.SessionID, rec.RequestID, rec.Stage, string(rec.Direction),
			rec.Provider, rec.Model,
			strconv.Itoa(rec.Size),
			strconv.FormatInt(rec.Duration, 10),
			rec.Hash, rec.Excerpt,
			rec.Timestamp.Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row for %s: %w", rec.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
