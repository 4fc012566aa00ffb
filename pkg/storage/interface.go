package storage

import (
	"context"
	"time"

	"github.com/nicktill/biogas-etl/pkg/reading"
)

// Storage defines the interface for sensor-reading and hourly-aggregate
// backends. Implementations: memory (testing), badger (production).
//
// Handles are passed explicitly to the loader and aggregator; nothing in
// this module keeps a process-wide store.
type Storage interface {
	// AppendReadings writes one batch atomically: either every reading in
	// the batch is committed or none is.
	AppendReadings(ctx context.Context, batch Batch) error

	// ScanReadings calls fn for each reading in the range, in ascending
	// timestamp order. Returning an error from fn stops the scan.
	ScanReadings(ctx context.Context, r TimeRange, fn func(reading.Reading) error) error

	// QueryReadings returns readings in the range, oldest first unless
	// req.Newest is set.
	QueryReadings(ctx context.Context, req QueryRequest) ([]reading.Reading, error)

	// DeleteReadings removes readings in the range and returns how many.
	DeleteReadings(ctx context.Context, r TimeRange) (int, error)

	// UpsertAggregate inserts or replaces the aggregate for agg.Timestamp.
	UpsertAggregate(ctx context.Context, agg reading.HourlyAggregate) error

	// QueryAggregates returns aggregates in the range, ascending.
	QueryAggregates(ctx context.Context, r TimeRange) ([]reading.HourlyAggregate, error)

	// DeleteAggregates removes aggregates in the range and returns how many.
	DeleteAggregates(ctx context.Context, r TimeRange) (int, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Batch is a group of readings appended in one transaction.
type Batch struct {
	// Run identifies the ingestion run, e.g. source path plus start time.
	// Readings from different runs never overwrite each other.
	Run string

	// Offset is the run-wide sequence number of Readings[0]. Appending the
	// same Run and Offset again replaces rather than duplicates, so a failed
	// batch can be retried safely.
	Offset uint64

	Readings []reading.Reading
}

// TimeRange selects [Start, End). A zero Start or End is unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls in the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// QueryRequest specifies which readings to retrieve
type QueryRequest struct {
	TimeRange

	// Limit number of results (0 = no limit)
	Limit int

	// Newest returns the most recent readings first.
	Newest bool
}

// Stats provides storage health and usage info
type Stats struct {
	Readings   uint64
	Aggregates uint64

	// Storage size in bytes
	SizeBytes uint64

	OldestReading time.Time
	NewestReading time.Time
}
