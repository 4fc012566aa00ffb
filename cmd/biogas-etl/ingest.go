package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/pipeline"
	"github.com/nicktill/biogas-etl/pkg/source"
	"github.com/nicktill/biogas-etl/pkg/storage/influx"
)

type influxFlags struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Site   string
}

func newIngestCommand(stdout io.Writer, store *storeFlags) *cobra.Command {
	var input string
	var opts pipeline.Options
	var inf influxFlags

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a sensor export into the store and update hourly aggregates.",
		Long: `
Reads the input file in chunks of --chunk-size rows, normalizes and enriches
every row and appends the readings in batches of --batch-size. When the file
has been loaded, the hours it touched are re-aggregated.

Rows whose timestamp cannot be parsed are dropped and counted; every other
data problem is stored as null. Interrupting the run keeps every batch that
was already committed.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return fmt.Errorf("--input is required")
			}
			if err := source.Check(input); err != nil {
				return err
			}
			ctx, cancel := signalContext(context.Background())
			defer cancel()

			if inf.URL != "" {
				mirror, err := influx.New(influx.Config{
					URL:    inf.URL,
					Token:  inf.Token,
					Org:    inf.Org,
					Bucket: inf.Bucket,
					Site:   inf.Site,
				})
				if err != nil {
					return err
				}
				defer mirror.Close()
				opts.Mirror = mirror
				log.Printf("📡 Mirroring committed readings to InfluxDB at %s", inf.URL)
			}

			s, err := store.open()
			if err != nil {
				return err
			}
			defer s.Close()

			rep, err := pipeline.Run(ctx, s, input, opts)
			if rep != nil {
				rep.Render(stdout)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&input, "input", "i", "", "Sensor export to ingest (CSV).")
	flags.IntVar(&opts.ChunkSize, "chunk-size", config.DefaultChunkSize, "Rows read and transformed per chunk.")
	flags.IntVar(&opts.BatchSize, "batch-size", config.DefaultBatchSize, "Readings committed per storage transaction.")
	flags.BoolVar(&opts.SkipAggregates, "skip-aggregates", false, "Do not update hourly aggregates after loading.")
	flags.BoolVar(&opts.TestMode, "test-mode", false, "Process only the first chunk.")

	flags.StringVar(&inf.URL, "influx-url", "", "Mirror committed readings to this InfluxDB server.")
	flags.StringVar(&inf.Token, "influx-token", "", "InfluxDB API token.")
	flags.StringVar(&inf.Org, "influx-org", "", "InfluxDB organization.")
	flags.StringVar(&inf.Bucket, "influx-bucket", config.DefaultInfluxBucket, "InfluxDB bucket.")
	flags.StringVar(&inf.Site, "influx-site", "", "Value of the site tag on mirrored points.")

	return cmd
}
