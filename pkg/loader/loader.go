// Package loader appends transformed readings to the reading store in
// bounded, atomic batches.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/storage"
	"github.com/nicktill/biogas-etl/pkg/telemetry"
)

// Mirror receives a copy of every committed batch.
type Mirror interface {
	MirrorReadings(ctx context.Context, readings []reading.Reading) error
}

// WriteError reports a batch the store rejected. Committed rows before it
// stay committed; the failed batch wrote nothing.
type WriteError struct {
	Committed int
	Failed    int
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed after %d committed readings (%d in failed batch): %v", e.Committed, e.Failed, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Committed returns how many rows were committed before err, and whether err
// is a WriteError at all.
func Committed(err error) (int, bool) {
	var we *WriteError
	if errors.As(err, &we) {
		return we.Committed, true
	}
	return 0, false
}

// Config holds loader configuration
type Config struct {
	// BatchSize bounds the rows per storage transaction. It is independent
	// of the chunk size.
	BatchSize int

	// Run identifies the ingestion run in storage keys.
	Run string

	// Mirror is optional.
	Mirror Mirror
}

// Loader writes batches for a single ingestion run. It is not safe for
// concurrent use; the pipeline has one loader stage.
type Loader struct {
	store  storage.Storage
	config Config

	// next is the run-wide sequence number of the next reading to commit.
	next uint64

	mirrorFailures int
}

// New creates a loader that writes to store.
func New(store storage.Storage, cfg Config) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	return &Loader{
		store:  store,
		config: cfg,
	}
}

// Load appends readings in batches and returns how many were committed. On
// failure the error is a *WriteError and the remaining batches are not tried.
// Retrying Load with readings[committed:] rewrites the same keys, so a batch
// that did commit despite a reported error is not duplicated.
func (l *Loader) Load(ctx context.Context, readings []reading.Reading) (int, error) {
	committed := 0

	for start := 0; start < len(readings); start += l.config.BatchSize {
		end := min(start+l.config.BatchSize, len(readings))
		batch := readings[start:end]

		err := l.store.AppendReadings(ctx, storage.Batch{
			Run:      l.config.Run,
			Offset:   l.next,
			Readings: batch,
		})
		if err != nil {
			telemetry.CounterWriteFailures.Inc()
			return committed, &WriteError{Committed: committed, Failed: len(batch), Err: err}
		}

		committed += len(batch)
		l.next += uint64(len(batch))
		telemetry.CounterRowsCommitted.Add(float64(len(batch)))

		l.mirror(ctx, batch)
	}

	return committed, nil
}

func (l *Loader) mirror(ctx context.Context, batch []reading.Reading) {
	if l.config.Mirror == nil {
		return
	}
	if err := l.config.Mirror.MirrorReadings(ctx, batch); err != nil {
		l.mirrorFailures++
		telemetry.CounterMirrorFailures.Inc()
		log.Printf("⚠️  Mirror write failed for %d readings: %v", len(batch), err)
	}
}

// Total returns the number of readings this loader has committed.
func (l *Loader) Total() uint64 {
	return l.next
}

// MirrorFailures returns the number of batches the mirror rejected.
func (l *Loader) MirrorFailures() int {
	return l.mirrorFailures
}
