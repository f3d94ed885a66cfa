package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/keys"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is an aligned text table (default).
	FormatText OutputFormat = "text"

	// FormatJSON is indented JSON.
	FormatJSON OutputFormat = "json"

	// FormatCSV is comma-separated values with a header row.
	FormatCSV OutputFormat = "csv"
)

// Table is data that can be rendered as rows. JSON output encodes the value
// itself, so implementations should also carry JSON tags.
type Table interface {
	Headers() []string
	Rows() [][]string
}

// Formatter formats command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// NewFormatter creates a formatter for format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatText, "":
		return &TextFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{Indent: true}, nil
	case FormatCSV:
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want text, json or csv)", format)
	}
}

// TextFormatter renders tables with aligned columns and anything else
// with %v.
type TextFormatter struct{}

// FormatTo implements Formatter.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	table, ok := data.(Table)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(table.Headers(), "\t"))
	for _, row := range table.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo implements Formatter.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// CSVFormatter formats tables as CSV.
type CSVFormatter struct{}

// FormatTo implements Formatter. Only Table values are supported.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	table, ok := data.(Table)
	if !ok {
		return fmt.Errorf("CSV output is not supported for %T", data)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(table.Headers()); err != nil {
		return err
	}
	if err := cw.WriteAll(table.Rows()); err != nil {
		return err
	}
	return cw.Error()
}

// KeyTable renders key records. Secrets must already be masked.
type KeyTable []keys.KeyRecord

// Headers implements Table.
func (t KeyTable) Headers() []string {
	return []string{"ID", "NAME", "KEY", "ENABLED", "QUOTA", "USES", "LAST USED", "LAST CHECK"}
}

// Rows implements Table.
func (t KeyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, rec := range t {
		lastCheck := "-"
		if rec.LastCheckResult != nil {
			lastCheck = rec.LastCheckResult.Code
		}
		rows = append(rows, []string{
			rec.ID,
			rec.Name,
			rec.Secret,
			strconv.FormatBool(rec.Enabled),
			string(rec.QuotaStatus),
			strconv.FormatInt(rec.UsageCount, 10),
			formatTime(rec.LastUsed),
			lastCheck,
		})
	}
	return rows
}

// ReportTable renders a batch health check report.
type ReportTable health.BatchReport

// Headers implements Table.
func (t ReportTable) Headers() []string {
	return []string{"ID", "NAME", "VALID", "QUOTA", "CODE", "MESSAGE"}
}

// Rows implements Table.
func (t ReportTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Details))
	for _, d := range t.Details {
		code, msg := string(d.Code), d.Message
		if d.Error != "" {
			code, msg = "ERROR", d.Error
		}
		rows = append(rows, []string{
			d.ID,
			d.Name,
			strconv.FormatBool(d.IsValid),
			strconv.FormatBool(d.HasQuota),
			code,
			msg,
		})
	}
	return rows
}

// MarshalJSON keeps the report's own field names.
func (t ReportTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(health.BatchReport(t))
}

// Summary is the one-line batch outcome printed under a report table.
func (t ReportTable) Summary() string {
	return fmt.Sprintf("%d keys: %d valid (%d with quota, %d without), %d invalid, took %s",
		t.Total, t.Valid, t.ValidWithQuota, t.ValidWithoutQuota, t.Invalid,
		t.Duration.Round(time.Millisecond))
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.Local().Format(time.DateTime)
}
