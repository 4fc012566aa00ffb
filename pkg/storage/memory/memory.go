package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/storage"
)

type entryKey struct {
	ts  int64
	run string
	seq uint64
}

type entry struct {
	key     entryKey
	reading reading.Reading
}

var _ storage.Storage = (*Storage)(nil)

// Storage stores readings and aggregates in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu         sync.RWMutex
	entries    []entry
	index      map[entryKey]int
	aggregates map[int64]reading.HourlyAggregate
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		entries:    make([]entry, 0, 10000),
		index:      make(map[entryKey]int),
		aggregates: make(map[int64]reading.HourlyAggregate),
	}
}

// AppendReadings stores the batch. Re-appending the same run and offset
// replaces the earlier rows.
func (s *Storage) AppendReadings(ctx context.Context, batch storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range batch.Readings {
		k := entryKey{ts: r.Timestamp.UnixNano(), run: batch.Run, seq: batch.Offset + uint64(i)}
		if pos, ok := s.index[k]; ok {
			s.entries[pos].reading = r
			continue
		}
		s.index[k] = len(s.entries)
		s.entries = append(s.entries, entry{key: k, reading: r})
	}
	return nil
}

// sorted returns the readings in range in key order. The lock is released
// before callers see any reading.
func (s *Storage) sorted(r storage.TimeRange) []entry {
	s.mu.RLock()
	out := make([]entry, 0, len(s.entries))
	for _, e := range s.entries {
		if r.Contains(e.reading.Timestamp) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].key, out[j].key
		if a.ts != b.ts {
			return a.ts < b.ts
		}
		if a.run != b.run {
			return a.run < b.run
		}
		return a.seq < b.seq
	})
	return out
}

// ScanReadings calls fn for each reading in ascending timestamp order.
func (s *Storage) ScanReadings(ctx context.Context, r storage.TimeRange, fn func(reading.Reading) error) error {
	for i, e := range s.sorted(r) {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(e.reading); err != nil {
			return err
		}
	}
	return nil
}

// QueryReadings retrieves readings matching the request
func (s *Storage) QueryReadings(ctx context.Context, req storage.QueryRequest) ([]reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := s.sorted(req.TimeRange)
	if req.Newest {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	if req.Limit > 0 && len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	results := make([]reading.Reading, len(entries))
	for i, e := range entries {
		results[i] = e.reading
	}
	return results, nil
}

// DeleteReadings removes readings in the range
func (s *Storage) DeleteReadings(ctx context.Context, r storage.TimeRange) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]entry, 0, len(s.entries))
	index := make(map[entryKey]int, len(s.entries))
	for _, e := range s.entries {
		if r.Contains(e.reading.Timestamp) {
			continue
		}
		index[e.key] = len(kept)
		kept = append(kept, e)
	}

	deleted := len(s.entries) - len(kept)
	s.entries = kept
	s.index = index
	return deleted, nil
}

// UpsertAggregate inserts or replaces the aggregate for its hour
func (s *Storage) UpsertAggregate(ctx context.Context, agg reading.HourlyAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	hour := reading.TruncateHour(agg.Timestamp)
	agg.Timestamp = hour

	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregates[hour.UnixNano()] = agg
	return nil
}

// QueryAggregates returns aggregates in ascending hour order
func (s *Storage) QueryAggregates(ctx context.Context, r storage.TimeRange) ([]reading.HourlyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]reading.HourlyAggregate, 0, len(s.aggregates))
	for _, agg := range s.aggregates {
		if r.Contains(agg.Timestamp) {
			results = append(results, agg)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
	return results, nil
}

// DeleteAggregates removes aggregates whose hour is in the range
func (s *Storage) DeleteAggregates(ctx context.Context, r storage.TimeRange) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for k, agg := range s.aggregates {
		if r.Contains(agg.Timestamp) {
			delete(s.aggregates, k)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		Readings:   uint64(len(s.entries)),
		Aggregates: uint64(len(s.aggregates)),
	}

	if len(s.entries) == 0 {
		return stats, nil
	}

	var oldest, newest time.Time
	for i, e := range s.entries {
		ts := e.reading.Timestamp
		if i == 0 || ts.Before(oldest) {
			oldest = ts
		}
		if i == 0 || ts.After(newest) {
			newest = ts
		}
	}
	stats.OldestReading = oldest
	stats.NewestReading = newest

	// Rough size estimate (each reading ~600 bytes)
	stats.SizeBytes = uint64(len(s.entries)) * 600

	return stats, nil
}
