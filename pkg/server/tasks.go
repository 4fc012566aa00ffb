package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nicktill/biogas-etl/pkg/aggregate"
	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/storage"
)

const (
	aggregateRetries    = 3
	aggregateBaseDelay  = 30 * time.Second
	broadcastMaxBackoff = 5 * time.Minute
)

// GarbageCollector is a store that can reclaim value log space.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// RunAggregation re-aggregates the trailing lookback window once on start
// and then every interval, until ctx is done. Whole-run failures are retried
// with exponential backoff; failed hours are retried inside the aggregator
// and reported to its recorder.
func RunAggregation(ctx context.Context, agg *aggregate.Aggregator, interval, lookback time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runWithRetry := func(isInitial bool) {
		for attempt := 0; attempt <= aggregateRetries; attempt++ {
			if attempt > 0 {
				delay := aggregateBaseDelay * time.Duration(1<<(attempt-1))
				log.Printf("⏳ Retrying aggregation in %v (attempt %d/%d)...", delay, attempt+1, aggregateRetries+1)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}

			now := time.Now().UTC()
			res, err := agg.Run(ctx, storage.TimeRange{Start: now.Add(-lookback), End: now})
			if err == nil {
				if isInitial {
					log.Printf("✅ Initial aggregation wrote %d hours in %v", res.Written, res.Duration.Round(time.Millisecond))
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			// Failed hours were already retried; the next tick picks them up.
			if errors.Is(err, aggregate.ErrHoursFailed) {
				log.Printf("⚠️  Aggregation left hours unwritten: %v", err)
				return
			}
			log.Printf("❌ Aggregation failed (attempt %d/%d): %v", attempt+1, aggregateRetries+1, err)
		}
		log.Printf("❌ Aggregation failed after %d attempts, will retry on next schedule", aggregateRetries+1)
	}

	log.Printf("📊 Running initial aggregation over the last %v...", lookback)
	runWithRetry(true)

	for {
		select {
		case <-ticker.C:
			runWithRetry(false)
		case <-ctx.Done():
			log.Println("⏸️  Stopping aggregation scheduler")
			return
		}
	}
}

// RunBadgerGC runs value log garbage collection every interval until ctx is
// done.
func RunBadgerGC(ctx context.Context, gc GarbageCollector, interval time.Duration, discardRatio float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("🧹 BadgerDB GC scheduler started (runs every %v)", interval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// An error means no file had enough garbage to rewrite.
			if err := gc.RunGC(discardRatio); err != nil {
				log.Printf("🧹 GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("🧹 GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-ctx.Done():
			log.Println("⏸️  Stopping BadgerDB GC scheduler")
			return
		}
	}
}

// AggregateUpdate is the message pushed to WebSocket clients.
type AggregateUpdate struct {
	Type      string                   `json:"type"`
	Timestamp int64                    `json:"timestamp"`
	Aggregate *reading.HourlyAggregate `json:"aggregate"`
}

// latestAggregate returns the aggregate for the hour of the newest stored
// reading, or nil when there is none.
func latestAggregate(ctx context.Context, store storage.Storage) (*reading.HourlyAggregate, error) {
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.NewestReading.IsZero() {
		return nil, nil
	}
	hour := reading.TruncateHour(stats.NewestReading)
	aggs, err := store.QueryAggregates(ctx, storage.TimeRange{Start: hour, End: hour.Add(time.Hour)})
	if err != nil || len(aggs) == 0 {
		return nil, err
	}
	return &aggs[len(aggs)-1], nil
}

// BroadcastAggregates pushes the newest hourly aggregate to WebSocket
// clients every interval. Errors back off exponentially so an outage does
// not flood the log.
func BroadcastAggregates(ctx context.Context, store storage.Storage, hub *Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}

			agg, err := latestAggregate(ctx, store)
			if err != nil {
				consecutiveErrors++
				now := time.Now()

				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > broadcastMaxBackoff {
					backoff = broadcastMaxBackoff
				}
				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.Printf("⚠️  Failed to load aggregate for broadcast (error #%d, backoff %v): %v",
						consecutiveErrors, backoff, err)
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Printf("✅ Aggregate broadcast recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}
			if agg == nil {
				continue
			}

			update := AggregateUpdate{
				Type:      "aggregate_update",
				Timestamp: time.Now().Unix(),
				Aggregate: agg,
			}
			if err := hub.Broadcast(update); err != nil {
				log.Printf("⚠️  Failed to broadcast aggregate: %v", err)
			}
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
