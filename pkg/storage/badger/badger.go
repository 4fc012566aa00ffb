package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/storage"
)

// ctxCheckEvery is how many iterations pass between context checks.
const ctxCheckEvery = 1000

var _ storage.Storage = (*Storage)(nil)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db     *badger.DB
	counts keyCounts
}

// keyCounts caches the number of keys under each prefix. A write to a
// prefix drops its entry; gen stops a scan that overlapped a write from
// storing a stale count.
type keyCounts struct {
	mu    sync.Mutex
	gen   map[byte]uint64
	known map[byte]uint64
}

// countLookup is a cache read taken before a scan.
type countLookup struct {
	prefix byte
	gen    uint64
	n      uint64
	ok     bool
}

func (c *keyCounts) lookup(prefix byte) countLookup {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.known[prefix]
	return countLookup{prefix: prefix, gen: c.gen[prefix], n: n, ok: ok}
}

func (c *keyCounts) set(prefix byte, gen, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[prefix] != gen {
		return
	}
	if c.known == nil {
		c.known = make(map[byte]uint64)
	}
	c.known[prefix] = n
}

func (c *keyCounts) invalidate(prefix byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == nil {
		c.gen = make(map[byte]uint64)
	}
	c.gen[prefix]++
	delete(c.known, prefix)
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default).
	// Larger memtables also raise the per-transaction size limit.
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Badger logs every compaction at INFO; keep warnings only.
	opts = opts.WithLoggingLevel(badger.WARNING)

	// Default: 48 MB total (16 MB memtable + caches)
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(5).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	// Reading values go to the value log so a 10k-row batch stays within
	// the transaction size limit. In-memory mode has no value log and
	// rejects any value above the threshold.
	if !cfg.InMemory {
		opts = opts.WithValueThreshold(256)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// AppendReadings stores one batch in a single transaction.
func (s *Storage) AppendReadings(ctx context.Context, batch storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(batch.Readings) == 0 {
		return nil
	}

	hash := runHash(batch.Run)

	done := make(chan error, 1)
	go func() {
		err := s.db.Update(func(txn *badger.Txn) error {
			for i, r := range batch.Readings {
				if i%ctxCheckEvery == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				value, err := json.Marshal(r)
				if err != nil {
					return fmt.Errorf("failed to encode reading: %w", err)
				}

				key := readingKey(r.Timestamp, hash, batch.Offset+uint64(i))
				if err := txn.Set(key, value); err != nil {
					if errors.Is(err, badger.ErrTxnTooBig) {
						return fmt.Errorf("batch of %d readings exceeds the transaction limit, lower --batch-size: %w", len(batch.Readings), err)
					}
					return fmt.Errorf("failed to write reading: %w", err)
				}
			}
			return nil
		})
		s.counts.invalidate(prefixReading)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The transaction either commits fully or not at all; the caller
		// must treat the batch as uncommitted.
		return fmt.Errorf("append operation cancelled: %w", ctx.Err())
	}
}

// ScanReadings streams readings in ascending timestamp order. fn runs on the
// caller's goroutine inside a read transaction.
func (s *Storage) ScanReadings(ctx context.Context, r storage.TimeRange, fn func(reading.Reading) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(txn *badger.Txn) error {
		return iterate(ctx, txn, prefixReading, r, false, func(item *badger.Item) (bool, error) {
			var rd reading.Reading
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rd)
			}); err != nil {
				return false, fmt.Errorf("failed to decode reading: %w", err)
			}
			return true, fn(rd)
		})
	})
}

// QueryReadings retrieves readings matching the request
func (s *Storage) QueryReadings(ctx context.Context, req storage.QueryRequest) ([]reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []reading.Reading
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		startTime := time.Now()

		res.err = s.db.View(func(txn *badger.Txn) error {
			return iterate(ctx, txn, prefixReading, req.TimeRange, req.Newest, func(item *badger.Item) (bool, error) {
				var rd reading.Reading
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &rd)
				}); err != nil {
					return false, fmt.Errorf("failed to decode reading: %w", err)
				}
				res.results = append(res.results, rd)
				return req.Limit <= 0 || len(res.results) < req.Limit, nil
			})
		})

		if elapsed := time.Since(startTime); elapsed > 5*time.Second {
			log.Printf("⚠️  Slow reading query completed in %v (%d results)", elapsed, len(res.results))
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// DeleteReadings removes every reading in the range.
func (s *Storage) DeleteReadings(ctx context.Context, r storage.TimeRange) (int, error) {
	return s.deleteRange(ctx, prefixReading, r)
}

// UpsertAggregate writes the aggregate under its hour key, replacing any
// previous value.
func (s *Storage) UpsertAggregate(ctx context.Context, agg reading.HourlyAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to encode aggregate: %w", err)
	}
	key := aggregateKey(reading.TruncateHour(agg.Timestamp))

	done := make(chan error, 1)
	go func() {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, value)
		})
		s.counts.invalidate(prefixAggregate)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("upsert operation cancelled: %w", ctx.Err())
	}
}

// QueryAggregates returns hourly aggregates in ascending hour order.
func (s *Storage) QueryAggregates(ctx context.Context, r storage.TimeRange) ([]reading.HourlyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []reading.HourlyAggregate
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			return iterate(ctx, txn, prefixAggregate, r, false, func(item *badger.Item) (bool, error) {
				var agg reading.HourlyAggregate
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &agg)
				}); err != nil {
					return false, fmt.Errorf("failed to decode aggregate: %w", err)
				}
				res.results = append(res.results, agg)
				return true, nil
			})
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("aggregate query cancelled: %w", ctx.Err())
	}
}

// DeleteAggregates removes every aggregate whose hour is in the range.
func (s *Storage) DeleteAggregates(ctx context.Context, r storage.TimeRange) (int, error) {
	return s.deleteRange(ctx, prefixAggregate, r)
}

// deleteRange collects keys from a read snapshot and removes them through a
// WriteBatch, which splits large deletes across transactions.
func (s *Storage) deleteRange(ctx context.Context, prefix byte, r storage.TimeRange) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	type deleteResult struct {
		n   int
		err error
	}
	done := make(chan deleteResult, 1)

	go func() {
		var res deleteResult
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()

		res.err = s.db.View(func(txn *badger.Txn) error {
			return iterateKeys(ctx, txn, prefix, r, func(item *badger.Item) (bool, error) {
				if err := wb.Delete(item.KeyCopy(nil)); err != nil {
					return false, err
				}
				res.n++
				return true, nil
			})
		})
		if res.err == nil {
			res.err = wb.Flush()
		}
		// A large WriteBatch commits as it fills, so count again even
		// after an error.
		s.counts.invalidate(prefix)
		if res.err != nil {
			res.n = 0
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	return err
}

// Size returns the on-disk size of the LSM tree plus the value log.
func (s *Storage) Size() uint64 {
	lsm, vlog := s.db.Size()
	return uint64(lsm + vlog)
}

// Stats returns storage statistics. The oldest and newest readings come from
// one seek at each end of the key range. Key counts are cached and only
// rescanned after a write to that collection.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		var res statsResult
		stats := &storage.Stats{}

		// Generations are read before the snapshot opens, so a write that
		// commits after the snapshot always invalidates what this scan stores.
		readings := s.counts.lookup(prefixReading)
		aggregates := s.counts.lookup(prefixAggregate)

		res.err = s.db.View(func(txn *badger.Txn) error {
			var err error
			if stats.Readings, err = s.count(ctx, txn, readings); err != nil {
				return err
			}
			if stats.Aggregates, err = s.count(ctx, txn, aggregates); err != nil {
				return err
			}

			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			if err := walk(ctx, txn, opts, prefixReading, storage.TimeRange{}, func(item *badger.Item) (bool, error) {
				stats.OldestReading = keyTime(item.Key())
				return false, nil
			}); err != nil {
				return err
			}
			opts.Reverse = true
			return walk(ctx, txn, opts, prefixReading, storage.TimeRange{}, func(item *badger.Item) (bool, error) {
				stats.NewestReading = keyTime(item.Key())
				return false, nil
			})
		})

		if res.err == nil {
			stats.SizeBytes = s.Size()
		}
		res.stats = stats
		done <- res
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// count returns the number of keys under the looked-up prefix, from the
// cache when no write has touched the prefix since the last scan.
func (s *Storage) count(ctx context.Context, txn *badger.Txn, l countLookup) (uint64, error) {
	if l.ok {
		return l.n, nil
	}
	var n uint64
	err := iterateKeys(ctx, txn, l.prefix, storage.TimeRange{}, func(*badger.Item) (bool, error) {
		n++
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	s.counts.set(l.prefix, l.gen, n)
	return n, nil
}

// iterate walks keys with the given prefix whose timestamp lies in r. fn
// returns false to stop early.
func iterate(ctx context.Context, txn *badger.Txn, prefix byte, r storage.TimeRange, reverse bool, fn func(*badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 100
	opts.Reverse = reverse
	return walk(ctx, txn, opts, prefix, r, fn)
}

// iterateKeys is iterate without value prefetching, ascending.
func iterateKeys(ctx context.Context, txn *badger.Txn, prefix byte, r storage.TimeRange, fn func(*badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	return walk(ctx, txn, opts, prefix, r, fn)
}

func walk(ctx context.Context, txn *badger.Txn, opts badger.IteratorOptions, prefix byte, r storage.TimeRange, fn func(*badger.Item) (bool, error)) error {
	p := []byte{prefix}
	opts.Prefix = p

	it := txn.NewIterator(opts)
	defer it.Close()

	var seek []byte
	switch {
	case !opts.Reverse && !r.Start.IsZero():
		seek = timeBound(prefix, r.Start)
	case !opts.Reverse:
		seek = p
	case !r.End.IsZero():
		// In reverse mode Seek lands on the largest key <= seek. Every
		// reading at exactly End has a longer key, so End stays exclusive.
		seek = timeBound(prefix, r.End)
	default:
		seek = append([]byte{prefix}, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	}

	var iterCount int
	for it.Seek(seek); it.ValidForPrefix(p); it.Next() {
		iterCount++
		if iterCount%ctxCheckEvery == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		item := it.Item()
		ts := keyTime(item.Key())
		if opts.Reverse {
			if !r.Start.IsZero() && ts.Before(r.Start) {
				return nil
			}
		} else if !r.End.IsZero() && !ts.Before(r.End) {
			return nil
		}

		more, err := fn(item)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
