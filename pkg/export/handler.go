package export

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/nicktill/biogas-etl/pkg/storage"
)

const (
	// DefaultExportWindow is the default time range for HTTP exports
	DefaultExportWindow = 7 * 24 * time.Hour

	// MaxExportWindow is the maximum time range one HTTP export may cover
	MaxExportWindow = 366 * 24 * time.Hour
)

// Handler serves aggregate exports over HTTP.
type Handler struct {
	exporter *Exporter
}

// NewHandler creates a new export handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{exporter: NewExporter(store)}
}

// HandleExport handles GET /api/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - start: RFC3339 timestamp (default: 7 days before end)
//   - end: RFC3339 timestamp (default: now)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	format := Format(query.Get("format"))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		http.Error(w, "Invalid format. Must be 'json' or 'csv'", http.StatusBadRequest)
		return
	}

	end, err := parseTimeParam(query.Get("end"), time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, err := parseTimeParam(query.Get("start"), end.Add(-DefaultExportWindow))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !start.Before(end) {
		http.Error(w, "start must be before end", http.StatusBadRequest)
		return
	}
	if end.Sub(start) > MaxExportWindow {
		http.Error(w, fmt.Sprintf("Time range too large. Maximum is %v", MaxExportWindow), http.StatusBadRequest)
		return
	}

	opts := Options{Range: storage.TimeRange{Start: start, End: end}}

	stamp := time.Now().Format("20060102-150405")
	if format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=biogas-hourly-%s.%s", stamp, format))

	var result *Result
	if format == FormatJSON {
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}
	if err != nil {
		log.Printf("❌ Export failed: %v", err)
		http.Error(w, fmt.Sprintf("Export failed: %v", err), http.StatusInternalServerError)
		return
	}

	log.Printf("✅ Exported %d hours (%s) from %s", result.HoursExported, format, result.TimeRange)
}

// parseTimeParam parses an RFC3339 query parameter, or returns def when the
// parameter is empty.
func parseTimeParam(param string, def time.Time) (time.Time, error) {
	if param == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", param); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q, use RFC3339", param)
}
