// Package pipeline ingests one sensor file end to end: read, transform and
// load run as three concurrent stages over bounded channels, then the hours
// touched by the run are re-aggregated.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/biogas-etl/pkg/aggregate"
	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/loader"
	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/schema"
	"github.com/nicktill/biogas-etl/pkg/source"
	"github.com/nicktill/biogas-etl/pkg/storage"
	"github.com/nicktill/biogas-etl/pkg/telemetry"
	"github.com/nicktill/biogas-etl/pkg/transform"
)

// Options configures one ingestion run.
type Options struct {
	ChunkSize int
	BatchSize int

	// TestMode processes only the first chunk.
	TestMode bool

	// SkipAggregates leaves the hourly aggregates untouched.
	SkipAggregates bool

	// Mirror optionally receives every committed batch.
	Mirror loader.Mirror

	// Aggregate configures the aggregator run after ingestion.
	Aggregate []aggregate.Option
}

// Validate checks option bounds and fills in defaults.
func (o *Options) Validate() error {
	if o.ChunkSize == 0 {
		o.ChunkSize = config.DefaultChunkSize
	}
	if o.BatchSize == 0 {
		o.BatchSize = config.DefaultBatchSize
	}
	if o.ChunkSize < 0 || o.ChunkSize > config.MaxChunkSize {
		return fmt.Errorf("chunk size must be between 1 and %d, got %d", config.MaxChunkSize, o.ChunkSize)
	}
	if o.BatchSize < 0 || o.BatchSize > config.MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d, got %d", config.MaxBatchSize, o.BatchSize)
	}
	return nil
}

// Report summarizes a run. It is filled in as far as the run got, so it is
// meaningful even when Run returns an error.
type Report struct {
	Path     string
	Run      string
	Estimate source.Estimate

	Chunks        int
	RowsRead      int64
	RowsCommitted int64
	Malformed     int64

	// Quality holds the transform counters merged over all chunks.
	Quality transform.Stats

	Gaps               []string
	UnavailableMetrics []schema.Metric

	// Range is the committed timestamp range, End exclusive.
	Range storage.TimeRange

	MirrorFailures int
	Aggregation    *aggregate.Result

	Duration time.Duration
}

// RowsDropped counts rows that produced no reading.
func (r *Report) RowsDropped() int64 {
	return r.Quality.Dropped() + r.Malformed
}

// RowsPerSecond is the read throughput of the run.
func (r *Report) RowsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.RowsRead) / r.Duration.Seconds()
}

func (r *Report) observe(readings []reading.Reading) {
	for i := range readings {
		ts := readings[i].Timestamp
		if r.Range.Start.IsZero() || ts.Before(r.Range.Start) {
			r.Range.Start = ts
		}
		if end := ts.Add(time.Nanosecond); r.Range.End.IsZero() || end.After(r.Range.End) {
			r.Range.End = end
		}
	}
}

// transformed is a chunk after the transform stage.
type transformed struct {
	index     int
	rows      int
	malformed int
	readings  []reading.Reading
	stats     transform.Stats
	started   time.Time
}

// Run ingests the file at path into store. Each chunk is committed before
// the next one is loaded, so cancelling leaves every committed chunk valid;
// the report says how far the run got.
func Run(ctx context.Context, store storage.Storage, path string, opts Options) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	est, err := source.EstimateRows(path, config.DefaultEstimateLines)
	if err != nil {
		return nil, err
	}

	rd, err := source.Open(path, opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	desc, err := schema.Resolve(rd.Header())
	if err != nil {
		return nil, fmt.Errorf("cannot ingest %s: %w", path, err)
	}

	rep := &Report{
		Path:               path,
		Run:                runID(path, start),
		Estimate:           est,
		Quality:            transform.NewStats(),
		Gaps:               desc.Gaps,
		UnavailableMetrics: desc.UnavailableMetrics(),
	}
	defer func() { rep.Duration = time.Since(start) }()

	log.Printf("🚀 Ingesting %s (~%s rows, %s) in chunks of %s",
		path, humanize.Comma(est.Rows), humanize.Bytes(uint64(est.FileSize)), humanize.Comma(int64(opts.ChunkSize)))
	if len(desc.Gaps) > 0 {
		log.Printf("⚠️  %d mapped columns absent from file, stored as null: %v", len(desc.Gaps), desc.Gaps)
	}

	tr := transform.New(desc)
	ld := loader.New(store, loader.Config{
		BatchSize: opts.BatchSize,
		Run:       rep.Run,
		Mirror:    opts.Mirror,
	})

	raw := make(chan *source.Chunk, 1)
	out := make(chan transformed, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(raw)
		for {
			chunk, err := rd.Next(gctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case raw <- chunk:
			case <-gctx.Done():
				return gctx.Err()
			}
			if opts.TestMode {
				log.Printf("⚠️  Test mode: stopping after the first chunk")
				return nil
			}
		}
	})

	g.Go(func() error {
		defer close(out)
		for chunk := range raw {
			t := transformed{
				index:     chunk.Index,
				rows:      chunk.Len(),
				malformed: chunk.Malformed,
				started:   time.Now(),
			}
			t.readings, t.stats = tr.Transform(chunk.Rows)
			select {
			case out <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for t := range out {
			rep.RowsRead += int64(t.rows + t.malformed)
			rep.Malformed += int64(t.malformed)
			rep.Quality.Merge(t.stats)

			n, err := ld.Load(gctx, t.readings)
			rep.RowsCommitted += int64(n)
			rep.observe(t.readings[:n])
			if err != nil {
				return fmt.Errorf("chunk %d: %w", t.index, err)
			}
			rep.Chunks++
			record(t)

			log.Printf("📊 Chunk %d: %s rows, %s committed (%.1f%%)",
				t.index, humanize.Comma(int64(t.rows)), humanize.Comma(rep.RowsCommitted), est.Percent(rep.RowsRead))
		}
		return nil
	})

	err = g.Wait()
	rep.MirrorFailures = ld.MirrorFailures()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("⚠️  Ingestion cancelled after %s committed rows", humanize.Comma(rep.RowsCommitted))
		} else {
			log.Printf("❌ Ingestion failed after %s committed rows: %v", humanize.Comma(rep.RowsCommitted), err)
		}
		return rep, err
	}

	log.Printf("✅ Ingested %s of %s rows in %v (%s dropped)",
		humanize.Comma(rep.RowsCommitted), humanize.Comma(rep.RowsRead),
		time.Since(start).Round(time.Millisecond), humanize.Comma(rep.RowsDropped()))

	if opts.SkipAggregates || rep.RowsCommitted == 0 {
		return rep, nil
	}

	res, err := aggregate.New(store, opts.Aggregate...).Run(ctx, rep.Range)
	rep.Aggregation = res
	if err != nil {
		return rep, fmt.Errorf("aggregation: %w", err)
	}
	return rep, nil
}

func record(t transformed) {
	telemetry.CounterChunks.Inc()
	telemetry.CounterRowsRead.Add(float64(t.rows + t.malformed))
	telemetry.CounterRowsDropped.WithLabelValues("timestamp").Add(float64(t.stats.TimestampFailures))
	telemetry.CounterRowsDropped.WithLabelValues("malformed").Add(float64(t.malformed))
	telemetry.CounterInvalidValues.Add(float64(t.stats.InvalidTotal()))
	telemetry.HistogramChunkSeconds.Observe(time.Since(t.started).Seconds())
}

// runID names an ingestion run. Storage keys hash it, so re-ingesting the
// same file later appends rather than overwriting.
func runID(path string, start time.Time) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fmt.Sprintf("%s@%d", path, start.UnixNano())
}
