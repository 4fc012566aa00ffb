/*
Package storage provides the pluggable storage abstraction for biogas sensor
readings and their hourly rollups.

# Storage Interface

Two collections sit behind one interface:
  - sensor readings: append-only, ordered by timestamp
  - hourly aggregates: one row per UTC hour, insert-or-replace

Backends:
  - memory: in-memory storage for tests
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

The influx package is not a Storage. It mirrors committed readings to InfluxDB
for dashboards and is never read back.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data/biogas"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.AppendReadings(ctx, storage.Batch{
	    Run:      "plant.csv@2024-05-01T10:00:00Z",
	    Offset:   0,
	    Readings: readings,
	})

	err = store.ScanReadings(ctx, storage.TimeRange{Start: from, End: to},
	    func(r reading.Reading) error {
	        // fold r into an hour bucket
	        return nil
	    })

# Re-ingesting

Readings are never deduplicated by content. Ingesting the same file twice
stores every row twice under different run identifiers. To replace a range,
delete it first with DeleteReadings and DeleteAggregates, then ingest and
aggregate again.

# Usage Notes

1. Always call Close() when done to flush pending writes
2. Use context.WithTimeout() to prevent hung queries
3. Keep batches well under Badger's transaction limit (see config.MaxBatchSize)
*/
package storage
