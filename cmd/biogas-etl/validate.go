package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/validate"
)

func newValidateCommand(stdout io.Writer) *cobra.Command {
	var input string
	var opts validate.Options

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Sample a sensor export and report its data quality.",
		Long: `
Reads --sample-chunks chunks spread evenly over the input and reports
timestamp problems, missing values per column and schema gaps. Nothing is
written to the store. A file with timestamp problems gets a WARN verdict
but still exits 0.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return fmt.Errorf("--input is required")
			}
			ctx, cancel := signalContext(context.Background())
			defer cancel()

			rep, err := validate.Validate(ctx, input, opts)
			if err != nil {
				return err
			}
			rep.Render(stdout)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&input, "input", "i", "", "Sensor export to validate (CSV).")
	flags.IntVar(&opts.ChunkSize, "chunk-size", config.DefaultChunkSize, "Rows per chunk.")
	flags.IntVar(&opts.SampleChunks, "sample-chunks", config.DefaultSampleChunks, "Chunks to sample.")
	flags.IntVar(&opts.TopN, "top", config.DefaultTopMissing, "Columns listed in the missing-value table.")
	flags.BoolVar(&opts.Profile, "stats", false, "Profile the numeric values of every column.")

	return cmd
}
