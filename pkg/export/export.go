package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/storage"
)

// Format is an export file format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatCSV, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("invalid format %q, must be json, csv or parquet", s)
}

// Version of the JSON export layout.
const Version = "1.0"

// Exporter handles exporting hourly aggregates to various formats
type Exporter struct {
	storage storage.Storage
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store}
}

// Options configures the export operation
type Options struct {
	// Range of hours to export; zero bounds are open.
	Range storage.TimeRange
}

// Result contains stats about the export
type Result struct {
	HoursExported int       `json:"hours_exported"`
	TimeRange     string    `json:"time_range"`
	Format        Format    `json:"format"`
	ExportedAt    time.Time `json:"exported_at"`
	Path          string    `json:"path,omitempty"`
}

// Metadata describes a JSON export.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	HourCount  int       `json:"hour_count"`
	Format     Format    `json:"format"`
	Version    string    `json:"version"`
}

// Document is the JSON export layout.
type Document struct {
	Metadata   Metadata                  `json:"metadata"`
	Aggregates []reading.HourlyAggregate `json:"aggregates"`
}

func (e *Exporter) query(ctx context.Context, opts Options) ([]reading.HourlyAggregate, error) {
	aggs, err := e.storage.QueryAggregates(ctx, opts.Range)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	return aggs, nil
}

func newResult(format Format, opts Options, n int) *Result {
	return &Result{
		HoursExported: n,
		TimeRange:     describe(opts.Range),
		Format:        format,
		ExportedAt:    time.Now().UTC(),
	}
}

// ExportToJSON exports aggregates as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	aggs, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	res := newResult(FormatJSON, opts, len(aggs))
	doc := Document{
		Metadata: Metadata{
			ExportedAt: res.ExportedAt,
			StartTime:  opts.Range.Start,
			EndTime:    opts.Range.End,
			HourCount:  len(aggs),
			Format:     FormatJSON,
			Version:    Version,
		},
		Aggregates: aggs,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return res, nil
}

// Columns is the CSV and Parquet column order.
var Columns = []string{
	"hour", "avg_ch4", "avg_co2", "avg_flow", "total_energy",
	"avg_comp_amps", "max_comp_amps", "avg_comp_temp", "max_comp_temp",
	"avg_health_score", "min_health_score", "fault_count",
	"uptime_percentage", "reading_count", "null_count",
}

// ExportToCSV exports aggregates as CSV to the given writer. Null statistics
// are written as empty cells.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	aggs, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, a := range aggs {
		row := []string{
			a.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(a.AvgCH4),
			formatFloat(a.AvgCO2),
			formatFloat(a.AvgFlow),
			formatFloat(a.TotalEnergy),
			formatFloat(a.AvgCompAmps),
			formatFloat(a.MaxCompAmps),
			formatFloat(a.AvgCompTemp),
			formatFloat(a.MaxCompTemp),
			formatFloat(a.AvgHealthScore),
			formatFloat(a.MinHealthScore),
			strconv.Itoa(a.FaultCount),
			strconv.FormatFloat(a.UptimePercentage, 'f', -1, 64),
			strconv.Itoa(a.ReadingCount),
			strconv.Itoa(a.NullCount),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return newResult(FormatCSV, opts, len(aggs)), nil
}

// ExportToFile writes the export to path in the given format.
func (e *Exporter) ExportToFile(ctx context.Context, path string, format Format, opts Options) (*Result, error) {
	if format == FormatParquet {
		return e.ExportToParquet(ctx, path, opts)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	var res *Result
	switch format {
	case FormatJSON:
		res, err = e.ExportToJSON(ctx, f, opts)
	case FormatCSV:
		res, err = e.ExportToCSV(ctx, f, opts)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close %s: %w", path, cerr)
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	res.Path = path
	return res, nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func describe(r storage.TimeRange) string {
	start, end := "beginning", "now"
	if !r.Start.IsZero() {
		start = r.Start.Format(time.RFC3339)
	}
	if !r.End.IsZero() {
		end = r.End.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s to %s", start, end)
}
