package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/server"
)

func newServeCommand(store *storeFlags) *cobra.Command {
	var cfg server.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, trends and live aggregates over HTTP.",
		Long: `
Serves a read-only API over the store and keeps recent hourly aggregates
current. Stop it with SIGINT or SIGTERM.

Only one process can open the store at a time, so stop serve before
running ingest against the same --data-dir.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(context.Background())
			defer cancel()

			s, err := store.open()
			if err != nil {
				return err
			}
			defer s.Close()

			cfg.DataDir = store.DataDir
			return server.New(s, cfg).Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen", config.DefaultListenAddr, "Address to listen on.")
	flags.Int64Var(&cfg.MaxStorageGB, "max-storage-gb", config.DefaultMaxStorageGB, "Disk budget reported by /api/storage; 0 for none.")
	flags.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", nil, "Browser origins allowed by CORS and the WebSocket endpoint.")
	flags.DurationVar(&cfg.AggregateInterval, "aggregate-interval", config.AggregateInterval, "How often recent hours are re-aggregated.")
	flags.DurationVar(&cfg.AggregateLookback, "aggregate-lookback", config.AggregateLookback, "How far back each background aggregation reaches.")

	return cmd
}
