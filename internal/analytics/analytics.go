// Package analytics publishes committed write and search events to Kafka and
// aggregates query stats for periodic persistence to PostgreSQL, following
// the same publish/aggregate split as the rest of the event pipeline.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SearchEvent is emitted for every executed search.
type SearchEvent struct {
	Collection string    `json:"collection"`
	Query      string    `json:"query"`
	NumResults int       `json:"num_results"`
	TookMS     int64     `json:"took_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DocumentChangeEvent is emitted for every committed document mutation.
type DocumentChangeEvent struct {
	Collection string    `json:"collection"`
	DocID      string    `json:"doc_id"`
	Operation  string    `json:"operation"`
	OccurredAt time.Time `json:"occurred_at"`
}

// QueryStat is one aggregated query counter.
type QueryStat struct {
	Query      string `json:"query"`
	Count      int64  `json:"count"`
	ZeroResult bool   `json:"zero_result"`
}

// AggregatedStats is the periodic snapshot persisted to the analytics store.
type AggregatedStats struct {
	TotalSearches    int64       `json:"total_searches"`
	ZeroResultCount  int64       `json:"zero_result_count"`
	TotalDocsWritten int64       `json:"total_docs_written"`
	PopularQueries   []QueryStat `json:"popular_queries"`
	CapturedAt       time.Time   `json:"captured_at"`
}

// Aggregator folds events into in-memory counters between flushes.
type Aggregator struct {
	mu          sync.Mutex
	totalSearch int64
	zeroResults int64
	docsWritten int64
	queryCounts map[string]int64
	zeroQueries map[string]struct{}
	logger      *slog.Logger
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		queryCounts: make(map[string]int64),
		zeroQueries: make(map[string]struct{}),
		logger:      slog.Default().With("component", "analytics-aggregator"),
	}
}

// RecordSearch folds one search event into the counters.
func (a *Aggregator) RecordSearch(ev SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearch++
	a.queryCounts[ev.Query]++
	if ev.NumResults == 0 {
		a.zeroResults++
		a.zeroQueries[ev.Query] = struct{}{}
	}
}

// RecordWrite folds one document change into the counters.
func (a *Aggregator) RecordWrite(ev DocumentChangeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docsWritten++
}

// Snapshot drains the counters into an AggregatedStats record.
func (a *Aggregator) Snapshot() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := AggregatedStats{
		TotalSearches:    a.totalSearch,
		ZeroResultCount:  a.zeroResults,
		TotalDocsWritten: a.docsWritten,
		CapturedAt:       time.Now().UTC(),
	}
	for q, count := range a.queryCounts {
		_, zero := a.zeroQueries[q]
		stats.PopularQueries = append(stats.PopularQueries, QueryStat{
			Query:      q,
			Count:      count,
			ZeroResult: zero,
		})
	}
	a.totalSearch = 0
	a.zeroResults = 0
	a.docsWritten = 0
	a.queryCounts = make(map[string]int64)
	a.zeroQueries = make(map[string]struct{})
	return stats
}

// RunFlushLoop persists a snapshot on every tick until ctx is cancelled.
// Ticks that saw no searches and no writes are skipped; on cancellation a
// final snapshot is persisted unconditionally.
func (a *Aggregator) RunFlushLoop(ctx context.Context, interval time.Duration, persist func(context.Context, AggregatedStats) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("flush loop stopping, persisting final snapshot")
			if err := persist(context.Background(), a.Snapshot()); err != nil {
				a.logger.Error("final analytics flush failed", "error", err)
			}
			return
		case <-ticker.C:
			stats := a.Snapshot()
			if stats.TotalSearches == 0 && stats.TotalDocsWritten == 0 {
				continue
			}
			if err := persist(ctx, stats); err != nil {
				a.logger.Error("analytics flush failed", "error", err)
			}
		}
	}
}
