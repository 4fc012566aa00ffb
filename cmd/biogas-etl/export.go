package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/nicktill/biogas-etl/pkg/export"
)

func newExportCommand(stdout io.Writer, store *storeFlags) *cobra.Command {
	var rf rangeFlags
	var format, output string
	var upload bool
	var s3 export.S3Config

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export hourly aggregates as JSON, CSV or Parquet.",
		Long: `
Writes the hourly aggregates in the range to --output, or to stdout for JSON
and CSV when --output is not set. Parquet always needs --output. With
--upload the written file is copied to --s3-bucket.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			r, err := rf.parse()
			if err != nil {
				return err
			}
			if output == "" && (f == export.FormatParquet || upload) {
				return fmt.Errorf("--output is required for %s exports and uploads", f)
			}

			var uploader *export.Uploader
			if upload {
				if uploader, err = export.NewUploader(s3); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext(context.Background())
			defer cancel()

			s, err := store.open()
			if err != nil {
				return err
			}
			defer s.Close()

			exp := export.NewExporter(s)
			opts := export.Options{Range: r}

			var res *export.Result
			switch {
			case output != "":
				res, err = exp.ExportToFile(ctx, output, f, opts)
			case f == export.FormatJSON:
				res, err = exp.ExportToJSON(ctx, stdout, opts)
			default:
				res, err = exp.ExportToCSV(ctx, stdout, opts)
			}
			if err != nil {
				return err
			}
			log.Printf("✅ Exported %d hours (%s) %s", res.HoursExported, res.Format, res.TimeRange)

			if uploader != nil {
				location, err := uploader.Upload(ctx, res)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, location)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&format, "format", "f", string(export.FormatJSON), "Export format: json, csv or parquet.")
	flags.StringVarP(&output, "output", "o", "", "File to write; stdout when empty (json and csv only).")
	rf.register(cmd, "export range")

	flags.BoolVar(&upload, "upload", false, "Upload the written file to S3.")
	flags.StringVar(&s3.Bucket, "s3-bucket", "", "S3 bucket for --upload.")
	flags.StringVar(&s3.Prefix, "s3-prefix", "", "Key prefix for uploaded files.")
	flags.StringVar(&s3.Region, "s3-region", "us-east-1", "S3 region.")
	flags.StringVar(&s3.Endpoint, "s3-endpoint", "", "Endpoint of an S3-compatible store.")
	flags.StringVar(&s3.AccessKeyID, "s3-access-key-id", "", "Static access key; the default AWS credential chain is used when empty.")
	flags.StringVar(&s3.SecretAccessKey, "s3-secret-access-key", "", "Static secret key.")

	return cmd
}

func newImportCommand(stdout io.Writer, store *storeFlags) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore hourly aggregates from a JSON export.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return fmt.Errorf("--input is required")
			}
			file, err := os.Open(input)
			if err != nil {
				return err
			}
			defer file.Close()

			ctx, cancel := signalContext(context.Background())
			defer cancel()

			s, err := store.open()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := export.NewImporter(s).ImportFromJSON(ctx, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "imported %d hours (%s)\n", res.HoursImported, res.TimeRange)
			for _, e := range res.Errors {
				fmt.Fprintf(stdout, "skipped: %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON export to import.")
	return cmd
}
