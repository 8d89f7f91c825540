package monitoring

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportMetricsJSON writes a metrics snapshot as indented JSON.
func ExportMetricsJSON(w io.Writer, m *Metrics) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("exporting metrics as JSON: %w", err)
	}
	return nil
}

// ExportEventsCSV writes error events as CSV with a header row.
func ExportEventsCSV(w io.Writer, events []*ErrorEvent) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "timestamp", "kind", "severity", "category",
		"module", "provider", "target", "message", "recovered",
		"recovery_strategy", "handling_time_ms"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, ev := range events {
		row := []string{
			ev.ID,
			ev.Timestamp.Format(time.RFC3339Nano),
			string(ev.Kind),
			string(ev.Severity),
			string(ev.Category),
			ev.Module,
			ev.Provider,
			ev.Target,
			ev.Message,
			strconv.FormatBool(ev.Recovered),
			ev.RecoveryStrategy,
			strconv.FormatInt(ev.HandlingTime.Milliseconds(), 10),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row for %s: %w", ev.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
