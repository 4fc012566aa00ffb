// Package export writes hourly aggregates out of the store for backup and
// for feature extraction.
//
// # Formats
//
// JSON keeps every field plus export metadata and can be restored with
// Importer. CSV has one row per hour with empty cells for null statistics.
// Parquet uses optional columns for the same nulls and is the format the
// modelling notebooks read; Uploader copies a Parquet file to S3.
//
// # HTTP API
//
// Export endpoint: GET /api/export
// Query parameters:
//   - format: "json" or "csv" (default: json)
//   - start: RFC3339 timestamp (default: 7 days before end)
//   - end: RFC3339 timestamp (default: now)
//
// Example:
//
//	curl "http://localhost:5001/api/export?format=csv&start=2024-03-01T00:00:00Z" \
//	  -o hourly.csv
//
// # Programmatic Usage
//
//	exporter := export.NewExporter(store)
//	result, err := exporter.ExportToFile(ctx, "hourly.parquet", export.FormatParquet, export.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Exported %d hours\n", result.HoursExported)
package export
