// Command biogas-etl ingests biogas plant sensor exports into a local store,
// maintains hourly aggregates over them and serves or exports the results.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/storage/badger"
)

func main() {
	rootCmd := newRootCommand(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}

// storeFlags are shared by every command that opens the store.
type storeFlags struct {
	DataDir     string
	MaxMemoryMB int64
}

func (f *storeFlags) open() (*badger.Storage, error) {
	if err := os.MkdirAll(f.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := badger.New(badger.Config{
		Path:        f.DataDir,
		MaxMemoryMB: f.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("💾 Opened store at %s", f.DataDir)
	return store, nil
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var configFile string
	store := &storeFlags{}

	rc := &cobra.Command{
		Use:   "biogas-etl",
		Short: "Ingest, aggregate and serve biogas plant sensor data.",
		Long: `biogas-etl loads large sensor exports from a biogas upgrading plant into a
local store in bounded-memory chunks, keeps one aggregate per hour of
readings, and exports or serves the results.

Every flag can also be set in a config file (--config) or as an environment
variable prefixed with ` + config.EnvPrefix + `_, e.g. ` + config.EnvPrefix + `_DATA_DIR. A .env file
in the working directory is loaded first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			return config.Bind(cmd.Flags(), configFile)
		},
	}

	flags := rc.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file to read from.")
	flags.StringVar(&store.DataDir, "data-dir", config.DefaultDataDir, "Directory of the reading and aggregate store.")
	flags.Int64Var(&store.MaxMemoryMB, "max-memory-mb", config.DefaultMaxMemoryMB, "Memory budget of the store in MB.")

	rc.AddCommand(newIngestCommand(stdout, store))
	rc.AddCommand(newValidateCommand(stdout))
	rc.AddCommand(newAggregateCommand(stdout, store))
	rc.AddCommand(newPurgeCommand(stdout, store))
	rc.AddCommand(newExportCommand(stdout, store))
	rc.AddCommand(newImportCommand(stdout, store))
	rc.AddCommand(newServeCommand(store))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// signalContext is cancelled on SIGINT or SIGTERM so long runs stop after
// their current chunk.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime reads a --start or --end value as UTC. Empty means unbounded.
func parseTime(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s %q, use RFC3339 or YYYY-MM-DD", name, s)
}
